// Package upstream speaks the client side of an upstream proxy's own
// protocol over an already-established connection, leaving the conn
// tunneled through to the requested target.
package upstream

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Credentials for the upstream proxy itself, not the client-facing auth.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) present() bool {
	return c.Username != ""
}

// Connect performs the handshake matching protocol so that conn ends up
// tunneled to target (host:port).
func Connect(conn net.Conn, protocol, target string, creds Credentials) error {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "https":
		return ConnectHTTP(conn, target, creds)
	case "socks5":
		return ConnectSOCKS5(conn, target, creds)
	case "socks4":
		return ConnectSOCKS4(conn, target, creds)
	default:
		return fmt.Errorf("upstream: unsupported protocol %q", protocol)
	}
}

func Supported(protocol string) bool {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "https", "socks4", "socks5":
		return true
	default:
		return false
	}
}

// ConnectHTTP issues an HTTP CONNECT for target and validates the response.
func ConnectHTTP(conn net.Conn, target string, creds Credentials) error {
	request := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: Keep-Alive\r\n", target, target)
	if creds.present() {
		auth := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		request += "Proxy-Authorization: Basic " + auth + "\r\n"
	}
	request += "\r\n"

	if _, err := conn.Write([]byte(request)); err != nil {
		return err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("upstream: connect rejected with status %d", resp.StatusCode)
	}
	return nil
}

// ConnectSOCKS5 runs the SOCKS5 client handshake, negotiating
// username/password auth when credentials are present.
func ConnectSOCKS5(conn net.Conn, target string, creds Credentials) error {
	greeting := []byte{0x05, 0x01, 0x00}
	if creds.present() {
		greeting[2] = 0x02
	}
	if _, err := conn.Write(greeting); err != nil {
		return err
	}

	choice := make([]byte, 2)
	if _, err := io.ReadFull(conn, choice); err != nil {
		return err
	}
	if choice[0] != 0x05 {
		return errors.New("upstream: invalid socks5 greeting response")
	}
	switch choice[1] {
	case 0x00:
	case 0x02:
		if !creds.present() {
			return errors.New("upstream: socks5 proxy requires credentials")
		}
		if err := authenticateSOCKS5(conn, creds); err != nil {
			return err
		}
	default:
		return errors.New("upstream: no acceptable socks5 authentication method")
	}

	host, port, err := splitTarget(target)
	if err != nil {
		return err
	}
	atyp, addr, portBytes, err := encodeSocksAddress(host, port)
	if err != nil {
		return err
	}

	request := append([]byte{0x05, 0x01, 0x00, atyp}, addr...)
	request = append(request, portBytes...)
	if _, err := conn.Write(request); err != nil {
		return err
	}

	reply := make([]byte, 4)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return err
	}
	if reply[0] != 0x05 {
		return errors.New("upstream: invalid socks5 connect reply")
	}
	if reply[1] != 0x00 {
		return fmt.Errorf("upstream: socks5 connect failed with code %d", reply[1])
	}
	return discardBoundAddress(conn, reply[3])
}

func authenticateSOCKS5(conn net.Conn, creds Credentials) error {
	if len(creds.Username) > 255 || len(creds.Password) > 255 {
		return errors.New("upstream: socks5 credentials too long")
	}

	payload := []byte{0x01, byte(len(creds.Username))}
	payload = append(payload, creds.Username...)
	payload = append(payload, byte(len(creds.Password)))
	payload = append(payload, creds.Password...)
	if _, err := conn.Write(payload); err != nil {
		return err
	}

	status := make([]byte, 2)
	if _, err := io.ReadFull(conn, status); err != nil {
		return err
	}
	if status[1] != 0x00 {
		return errors.New("upstream: socks5 authentication failed")
	}
	return nil
}

// ConnectSOCKS4 runs a SOCKS4 CONNECT, falling back to SOCKS4a for
// non-literal hosts. Credentials map onto the user-id field.
func ConnectSOCKS4(conn net.Conn, target string, creds Credentials) error {
	host, port, err := splitTarget(target)
	if err != nil {
		return err
	}

	ipBytes := net.ParseIP(host).To4()
	hostname := ""
	if ipBytes == nil {
		ipBytes = []byte{0x00, 0x00, 0x00, 0x01}
		hostname = host
	}

	request := []byte{0x04, 0x01, byte(port >> 8), byte(port)}
	request = append(request, ipBytes...)
	if creds.present() {
		userID := creds.Username
		if creds.Password != "" {
			userID = creds.Username + ":" + creds.Password
		}
		request = append(request, userID...)
	}
	request = append(request, 0x00)
	if hostname != "" {
		request = append(request, hostname...)
		request = append(request, 0x00)
	}

	if _, err := conn.Write(request); err != nil {
		return err
	}

	reply := make([]byte, 8)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return err
	}
	if reply[1] != 0x5A {
		return fmt.Errorf("upstream: socks4 connect failed with code %#02x", reply[1])
	}
	return nil
}

func encodeSocksAddress(host string, port uint16) (byte, []byte, []byte, error) {
	portBytes := []byte{byte(port >> 8), byte(port)}

	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return 0x01, v4, portBytes, nil
		}
		return 0x04, ip.To16(), portBytes, nil
	}

	if host == "" {
		return 0, nil, nil, errors.New("upstream: empty host")
	}
	if len(host) > 255 {
		return 0, nil, nil, errors.New("upstream: hostname too long")
	}
	addr := append([]byte{byte(len(host))}, host...)
	return 0x03, addr, portBytes, nil
}

func discardBoundAddress(conn net.Conn, atyp byte) error {
	var addrLen int
	switch atyp {
	case 0x01:
		addrLen = 4
	case 0x04:
		addrLen = 16
	case 0x03:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return err
		}
		addrLen = int(lenBuf[0])
	default:
		return errors.New("upstream: unsupported address type in reply")
	}

	buf := make([]byte, addrLen+2)
	_, err := io.ReadFull(conn, buf)
	return err
}

func splitTarget(target string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("upstream: invalid port %q", portStr)
	}
	return host, uint16(port), nil
}
