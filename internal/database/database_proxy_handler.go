package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rota/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProxyNotFound        = errors.New("proxy not found")
	ErrProxyHostRequired    = errors.New("proxy host is required")
	ErrProxyPortInvalid     = errors.New("proxy port must be between 1 and 65535")
	ErrProxyProtocolInvalid = errors.New("proxy protocol must be http, https, socks4 or socks5")
	ErrProxyStatusInvalid   = errors.New("proxy status is not valid")
	ErrProxyConflict        = errors.New("a proxy with this host and port already exists")
)

func GetAllProxies() ([]domain.Proxy, error) {
	if DB == nil {
		return nil, fmt.Errorf("proxy: database connection was not initialised")
	}

	var proxies []domain.Proxy
	if err := DB.Order("id ASC").Find(&proxies).Error; err != nil {
		return nil, err
	}
	return proxies, nil
}

func GetProxyByID(id uint64) (*domain.Proxy, error) {
	if DB == nil {
		return nil, fmt.Errorf("proxy: database connection was not initialised")
	}

	var proxy domain.Proxy
	if err := DB.First(&proxy, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProxyNotFound
		}
		return nil, err
	}
	return &proxy, nil
}

func CreateProxy(proxy domain.Proxy) (*domain.Proxy, error) {
	if DB == nil {
		return nil, fmt.Errorf("proxy: database connection was not initialised")
	}
	if err := validateProxy(&proxy); err != nil {
		return nil, err
	}

	proxy.ID = 0
	if err := DB.Create(&proxy).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrProxyConflict
		}
		return nil, err
	}
	return &proxy, nil
}

// UpdateProxy replaces the identity fields of an existing proxy. Runtime
// counters are owned by RecordProxyOutcome and never written here.
func UpdateProxy(id uint64, update domain.Proxy) (*domain.Proxy, error) {
	if DB == nil {
		return nil, fmt.Errorf("proxy: database connection was not initialised")
	}
	if err := validateProxy(&update); err != nil {
		return nil, err
	}

	existing, err := GetProxyByID(id)
	if err != nil {
		return nil, err
	}

	existing.Host = update.Host
	existing.Port = update.Port
	existing.Protocol = update.Protocol
	existing.Username = update.Username
	existing.Password = update.Password
	existing.Country = update.Country
	if update.Status != "" {
		existing.Status = update.Status
	}

	if err := DB.Save(existing).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrProxyConflict
		}
		return nil, err
	}
	return existing, nil
}

func DeleteProxy(id uint64) error {
	if DB == nil {
		return fmt.Errorf("proxy: database connection was not initialised")
	}

	res := DB.Delete(&domain.Proxy{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProxyNotFound
	}
	return nil
}

func SetProxyStatus(id uint64, status string) (*domain.Proxy, error) {
	if DB == nil {
		return nil, fmt.Errorf("proxy: database connection was not initialised")
	}
	if !domain.ValidProxyStatus(status) {
		return nil, ErrProxyStatusInvalid
	}

	proxy, err := GetProxyByID(id)
	if err != nil {
		return nil, err
	}

	proxy.Status = strings.ToLower(strings.TrimSpace(status))
	if err := DB.Save(proxy).Error; err != nil {
		return nil, err
	}
	return proxy, nil
}

// ImportProxies parses host:port[:user:pass] lines and inserts them in one
// batch, skipping lines already present. Returns the inserted rows and the
// unparseable lines.
func ImportProxies(lines []string, protocol string) ([]domain.Proxy, []string, error) {
	if DB == nil {
		return nil, nil, fmt.Errorf("proxy: database connection was not initialised")
	}

	protocol = strings.ToLower(strings.TrimSpace(protocol))
	if protocol == "" {
		protocol = "http"
	}
	if !domain.ValidProxyProtocol(protocol) {
		return nil, nil, ErrProxyProtocolInvalid
	}

	var rejected []string
	batch := make([]domain.Proxy, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		proxy, ok := parseProxyLine(line, protocol)
		if !ok {
			rejected = append(rejected, line)
			continue
		}

		key := proxy.Address()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		batch = append(batch, proxy)
	}

	if len(batch) == 0 {
		return []domain.Proxy{}, rejected, nil
	}

	if err := DB.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "host"}, {Name: "port"}},
			DoNothing: true,
		}).
		Create(&batch).Error; err != nil {
		return nil, nil, err
	}

	inserted := make([]domain.Proxy, 0, len(batch))
	for _, proxy := range batch {
		if proxy.ID != 0 {
			inserted = append(inserted, proxy)
		}
	}
	return inserted, rejected, nil
}

func parseProxyLine(line, protocol string) (domain.Proxy, bool) {
	parts := strings.Split(line, ":")
	if len(parts) != 2 && len(parts) != 4 {
		return domain.Proxy{}, false
	}

	host := strings.TrimSpace(parts[0])
	if host == "" {
		return domain.Proxy{}, false
	}

	port, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 16)
	if err != nil || port == 0 {
		return domain.Proxy{}, false
	}

	proxy := domain.Proxy{
		Host:     host,
		Port:     uint16(port),
		Protocol: protocol,
		Status:   domain.ProxyStatusActive,
	}
	if len(parts) == 4 {
		proxy.Username = strings.TrimSpace(parts[2])
		proxy.Password = parts[3]
	}
	return proxy, true
}

// UpdateProxyHealth persists a probe result.
func UpdateProxyHealth(id uint64, healthy bool, latency time.Duration, checkedAt time.Time) error {
	if DB == nil {
		return fmt.Errorf("proxy: database connection was not initialised")
	}

	status := domain.ProxyStatusActive
	updates := map[string]any{
		"last_checked_at": checkedAt,
	}
	if healthy {
		updates["latency_ms"] = latency.Milliseconds()
		updates["unhealthy_since"] = nil
	} else {
		status = domain.ProxyStatusUnhealthy
		// The streak start survives repeated failed probes.
		updates["unhealthy_since"] = gorm.Expr("COALESCE(unhealthy_since, ?)", checkedAt)
	}

	// A manual inactive override survives probe results.
	res := DB.Model(&domain.Proxy{}).
		Where("id = ? AND status <> ?", id, domain.ProxyStatusInactive).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	return DB.Model(&domain.Proxy{}).
		Where("id = ? AND status <> ?", id, domain.ProxyStatusInactive).
		Update("status", status).Error
}

// RecordProxyOutcome bumps the request counters after a tunnel finishes.
func RecordProxyOutcome(id uint64, success bool) error {
	if DB == nil {
		return fmt.Errorf("proxy: database connection was not initialised")
	}

	updates := map[string]any{
		"total_requests": gorm.Expr("total_requests + 1"),
	}
	if !success {
		updates["total_failures"] = gorm.Expr("total_failures + 1")
	}

	return DB.Model(&domain.Proxy{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func validateProxy(proxy *domain.Proxy) error {
	proxy.Host = strings.TrimSpace(proxy.Host)
	if proxy.Host == "" {
		return ErrProxyHostRequired
	}
	if proxy.Port == 0 {
		return ErrProxyPortInvalid
	}
	proxy.Protocol = strings.ToLower(strings.TrimSpace(proxy.Protocol))
	if proxy.Protocol == "" {
		proxy.Protocol = "http"
	}
	if !domain.ValidProxyProtocol(proxy.Protocol) {
		return ErrProxyProtocolInvalid
	}
	if proxy.Status != "" && !domain.ValidProxyStatus(proxy.Status) {
		return ErrProxyStatusInvalid
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "unique constraint failed")
}
