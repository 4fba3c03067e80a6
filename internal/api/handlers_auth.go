package api

import (
	"net/http"
	"time"

	"github.com/org/credvault/pkg/models"
)

// TokenCreateHandler handles POST /v1/auth/token/create. Admin only.
func (s *Server) TokenCreateHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	if token == nil || !token.IsAdmin() {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req struct {
		UserID      int64  `json:"user_id"`
		Role        string `json:"role"`
		DisplayName string `json:"display_name"`
		TTL         string `json:"ttl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	var ttl time.Duration
	if req.TTL != "" {
		var err error
		ttl, err = time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ttl format")
			return
		}
	}

	newToken, plaintext, err := s.tokens.CreateToken(r.Context(), req.UserID, req.Role, req.DisplayName, ttl)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"client_token":   plaintext,
			"user_id":        newToken.UserID,
			"role":           newToken.Role,
			"lease_duration": int(newToken.TTL.Seconds()),
		},
	})
}

// TokenRevokeHandler handles POST /v1/auth/token/revoke
func (s *Server) TokenRevokeHandler(w http.ResponseWriter, r *http.Request) {
	caller := tokenFromCtx(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Validate the token to get its ID
	tok, err := s.tokens.ValidateToken(r.Context(), req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Users may revoke their own tokens; admins may revoke anyone's.
	if caller == nil || (!caller.IsAdmin() && caller.UserID != tok.UserID) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	if err := s.tokens.RevokeToken(r.Context(), tok.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TokenLookupSelfHandler handles GET /v1/auth/token/lookup-self
func (s *Server) TokenLookupSelfHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	if token == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var expireTime int64
	if !token.ExpiresAt.IsZero() {
		expireTime = token.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"id":            token.ID,
			"user_id":       token.UserID,
			"role":          token.Role,
			"display_name":  token.DisplayName,
			"ttl":           int(token.TTL.Seconds()),
			"creation_time": token.CreatedAt.Unix(),
			"expire_time":   expireTime,
		},
	})
}
