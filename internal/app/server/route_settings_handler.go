package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"rota/internal/api/dto"
	"rota/internal/cluster"
	"rota/internal/database"
	"rota/internal/domain"
)

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	settings, err := database.GetSettings()
	if err != nil {
		writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var payload dto.SettingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	updated, err := database.UpdateSettings(domain.Settings{
		RotationStrategy:        payload.RotationStrategy,
		RotationIntervalSeconds: payload.RotationIntervalSeconds,
		MaxRetries:              payload.MaxRetries,
		ConnectTimeoutSeconds:   payload.ConnectTimeoutSeconds,
		RequestTimeoutSeconds:   payload.RequestTimeoutSeconds,
		AuthEnabled:             payload.AuthEnabled,
		AuthUsername:            payload.AuthUsername,
		AuthPassword:            payload.AuthPassword,
		RateLimitEnabled:        payload.RateLimitEnabled,
		RateLimitPerSecond:      payload.RateLimitPerSecond,
		RateLimitBurst:          payload.RateLimitBurst,
		EgressProxyURL:          payload.EgressProxyURL,
		LogRetentionDays:        payload.LogRetentionDays,
		AutoDeleteAfterSeconds:  payload.AutoDeleteAfterSeconds,
	})
	if err != nil {
		writeSettingsError(w, err)
		return
	}

	// New tunnels use the new settings; in-flight ones are unaffected.
	if s.applySettings != nil {
		if err := s.applySettings(*updated); err != nil {
			writeError(w, "Settings saved but could not be applied", http.StatusInternalServerError)
			return
		}
	}

	if err := cluster.PublishUpdate(r.Context(), "settings_updated"); err != nil {
		log.Warn("Settings updated but cluster publish failed", "error", err)
	}

	writeJSON(w, http.StatusOK, updated)
}

func writeSettingsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrSettingsStrategyInvalid),
		errors.Is(err, database.ErrSettingsIntervalInvalid),
		errors.Is(err, database.ErrSettingsRetriesInvalid),
		errors.Is(err, database.ErrSettingsTimeoutInvalid),
		errors.Is(err, database.ErrSettingsRateLimitInvalid),
		errors.Is(err, database.ErrSettingsAuthIncomplete):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, database.ErrSettingsNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}
