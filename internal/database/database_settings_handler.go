package database

import (
	"errors"
	"fmt"
	"strings"

	"rota/internal/domain"
	"rota/internal/rotation"

	"gorm.io/gorm"
)

var (
	ErrSettingsNotFound         = errors.New("settings row not found")
	ErrSettingsStrategyInvalid  = errors.New("rotation strategy is not valid")
	ErrSettingsRetriesInvalid   = errors.New("max retries must be at least 1")
	ErrSettingsIntervalInvalid  = errors.New("rotation interval must be at least 1 second")
	ErrSettingsTimeoutInvalid   = errors.New("timeouts must be at least 1 second")
	ErrSettingsRateLimitInvalid = errors.New("rate limit values must be positive")
	ErrSettingsAuthIncomplete   = errors.New("auth username and password are required when auth is enabled")
)

func GetSettings() (*domain.Settings, error) {
	if DB == nil {
		return nil, fmt.Errorf("settings: database connection was not initialised")
	}

	var settings domain.Settings
	if err := DB.First(&settings, domain.SettingsRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings validates and persists the singleton row.
func UpdateSettings(update domain.Settings) (*domain.Settings, error) {
	if DB == nil {
		return nil, fmt.Errorf("settings: database connection was not initialised")
	}
	if err := validateSettings(&update); err != nil {
		return nil, err
	}

	update.ID = domain.SettingsRowID
	if err := DB.Save(&update).Error; err != nil {
		return nil, err
	}
	return &update, nil
}

func validateSettings(s *domain.Settings) error {
	if _, err := rotation.ParseStrategy(s.RotationStrategy); err != nil {
		return ErrSettingsStrategyInvalid
	}
	s.RotationStrategy = strings.ToLower(strings.TrimSpace(s.RotationStrategy))

	if s.RotationIntervalSeconds < 1 {
		return ErrSettingsIntervalInvalid
	}
	if s.MaxRetries < 1 {
		return ErrSettingsRetriesInvalid
	}
	if s.ConnectTimeoutSeconds < 1 || s.RequestTimeoutSeconds < 1 {
		return ErrSettingsTimeoutInvalid
	}
	if s.RateLimitEnabled && (s.RateLimitPerSecond <= 0 || s.RateLimitBurst < 1) {
		return ErrSettingsRateLimitInvalid
	}
	if s.AuthEnabled {
		if strings.TrimSpace(s.AuthUsername) == "" || s.AuthPassword == "" {
			return ErrSettingsAuthIncomplete
		}
	}
	if s.LogRetentionDays < 0 {
		s.LogRetentionDays = 0
	}
	if s.AutoDeleteAfterSeconds < 0 {
		s.AutoDeleteAfterSeconds = 0
	}
	return nil
}
