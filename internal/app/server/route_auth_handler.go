package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"rota/internal/api/dto"
	"rota/internal/auth"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(payload.Username)
	if username == "" || username != s.cfg.AdminUsername {
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := auth.VerifyAdminPassword(s.cfg.AdminPasswordHash, s.cfg.AdminPassword, payload.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	token, err := auth.IssueToken(s.cfg.JWTSecret, username, auth.DefaultTokenTTL)
	if err != nil {
		writeError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.LoginResponse{Token: token})
}
