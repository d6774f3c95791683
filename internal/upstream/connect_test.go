package upstream

import (
	"bufio"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestConnectHTTP_SendsConnectAndAcceptsSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- ConnectHTTP(client, "example.com:443", Credentials{Username: "user", Password: "pass"})
	}()

	reader := bufio.NewReader(server)
	request, err := http.ReadRequest(reader)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	if request.Method != http.MethodConnect {
		t.Fatalf("method = %s, want CONNECT", request.Method)
	}
	if request.Host != "example.com:443" {
		t.Fatalf("host = %s, want example.com:443", request.Host)
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))
	if got := request.Header.Get("Proxy-Authorization"); got != wantAuth {
		t.Fatalf("proxy authorization = %q, want %q", got, wantAuth)
	}

	if _, err := server.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		t.Fatalf("write response: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ConnectHTTP returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectHTTP did not return")
	}
}

func TestConnectHTTP_RejectsNon200(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- ConnectHTTP(client, "example.com:443", Credentials{})
	}()

	reader := bufio.NewReader(server)
	if _, err := http.ReadRequest(reader); err != nil {
		t.Fatalf("read request: %v", err)
	}
	if _, err := server.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\nContent-Length: 0\r\n\r\n")); err != nil {
		t.Fatalf("write response: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("ConnectHTTP accepted a 407 response")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectHTTP did not return")
	}
}

func TestConnectSOCKS5_WithAuthentication(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- ConnectSOCKS5(client, "example.com:80", Credentials{Username: "up-user", Password: "up-pass"})
	}()

	greeting := make([]byte, 3)
	if _, err := io.ReadFull(server, greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting[0] != 0x05 || greeting[2] != 0x02 {
		t.Fatalf("greeting = %v, want socks5 offering user/pass auth", greeting)
	}
	if _, err := server.Write([]byte{0x05, 0x02}); err != nil {
		t.Fatalf("write method choice: %v", err)
	}

	authHeader := make([]byte, 2)
	if _, err := io.ReadFull(server, authHeader); err != nil {
		t.Fatalf("read auth header: %v", err)
	}
	username := make([]byte, int(authHeader[1]))
	if _, err := io.ReadFull(server, username); err != nil {
		t.Fatalf("read username: %v", err)
	}
	passLen := make([]byte, 1)
	if _, err := io.ReadFull(server, passLen); err != nil {
		t.Fatalf("read password length: %v", err)
	}
	password := make([]byte, int(passLen[0]))
	if _, err := io.ReadFull(server, password); err != nil {
		t.Fatalf("read password: %v", err)
	}
	if string(username) != "up-user" || string(password) != "up-pass" {
		t.Fatalf("credentials = %s:%s, want up-user:up-pass", username, password)
	}
	if _, err := server.Write([]byte{0x01, 0x00}); err != nil {
		t.Fatalf("write auth success: %v", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(server, header); err != nil {
		t.Fatalf("read connect header: %v", err)
	}
	if header[1] != 0x01 || header[3] != 0x03 {
		t.Fatalf("connect header = %v, want CONNECT with domain address", header)
	}
	hostLen := make([]byte, 1)
	if _, err := io.ReadFull(server, hostLen); err != nil {
		t.Fatalf("read host length: %v", err)
	}
	host := make([]byte, int(hostLen[0]))
	if _, err := io.ReadFull(server, host); err != nil {
		t.Fatalf("read host: %v", err)
	}
	if string(host) != "example.com" {
		t.Fatalf("host = %q, want example.com", host)
	}
	port := make([]byte, 2)
	if _, err := io.ReadFull(server, port); err != nil {
		t.Fatalf("read port: %v", err)
	}
	if port[0] != 0x00 || port[1] != 0x50 {
		t.Fatalf("port bytes = %v, want 0x0050", port)
	}

	if _, err := server.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("write reply: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ConnectSOCKS5 returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectSOCKS5 did not return")
	}
}

func TestConnectSOCKS5_FailsWhenProxyDemandsUnsupportedAuth(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- ConnectSOCKS5(client, "example.com:80", Credentials{})
	}()

	greeting := make([]byte, 3)
	if _, err := io.ReadFull(server, greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if _, err := server.Write([]byte{0x05, 0xff}); err != nil {
		t.Fatalf("write rejection: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("ConnectSOCKS5 accepted a no-acceptable-methods reply")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectSOCKS5 did not return")
	}
}

func TestConnectSOCKS4_WithDomainTarget(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- ConnectSOCKS4(client, "example.com:1080", Credentials{Username: "user", Password: "pass"})
	}()

	header := make([]byte, 8)
	if _, err := io.ReadFull(server, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header[0] != 0x04 || header[1] != 0x01 {
		t.Fatalf("header = %v, want socks4 CONNECT", header)
	}
	if header[2] != 0x04 || header[3] != 0x38 {
		t.Fatalf("port bytes = %v, want 1080", header[2:4])
	}

	reader := bufio.NewReader(server)
	userID, err := reader.ReadString(0x00)
	if err != nil {
		t.Fatalf("read user id: %v", err)
	}
	if strings.TrimSuffix(userID, "\x00") != "user:pass" {
		t.Fatalf("user id = %q, want user:pass", userID)
	}
	hostname, err := reader.ReadString(0x00)
	if err != nil {
		t.Fatalf("read hostname: %v", err)
	}
	if strings.TrimSuffix(hostname, "\x00") != "example.com" {
		t.Fatalf("hostname = %q, want example.com", hostname)
	}

	if _, err := server.Write([]byte{0x00, 0x5A, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("write reply: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ConnectSOCKS4 returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectSOCKS4 did not return")
	}
}

func TestSupported(t *testing.T) {
	cases := map[string]bool{
		"http":   true,
		"HTTPS":  true,
		"socks4": true,
		"socks5": true,
		"socks":  false,
		"":       false,
	}
	for protocol, want := range cases {
		if got := Supported(protocol); got != want {
			t.Fatalf("Supported(%q) = %v, want %v", protocol, got, want)
		}
	}
}

func TestEncodeSocksAddress(t *testing.T) {
	atyp, addr, port, err := encodeSocksAddress("192.0.2.1", 443)
	if err != nil {
		t.Fatalf("encode ipv4: %v", err)
	}
	if atyp != 0x01 || len(addr) != 4 {
		t.Fatalf("ipv4 encoding atyp=%d len=%d", atyp, len(addr))
	}
	if port[0] != 0x01 || port[1] != 0xBB {
		t.Fatalf("port bytes = %v, want 443", port)
	}

	atyp, addr, _, err = encodeSocksAddress("example.com", 80)
	if err != nil {
		t.Fatalf("encode domain: %v", err)
	}
	if atyp != 0x03 || int(addr[0]) != len("example.com") {
		t.Fatalf("domain encoding atyp=%d lenByte=%d", atyp, addr[0])
	}

	if _, _, _, err := encodeSocksAddress("", 80); err == nil {
		t.Fatal("encodeSocksAddress accepted an empty host")
	}
}
