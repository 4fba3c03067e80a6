package api

import (
	"net/http"

	"github.com/org/credvault/internal/analyzer"
	"github.com/org/credvault/pkg/models"
)

// PasswordGenerateHandler handles POST /v1/passwords/generate
func (s *Server) PasswordGenerateHandler(w http.ResponseWriter, r *http.Request) {
	var req models.GeneratePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	password, err := analyzer.Generate(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	result := analyzer.Score(password)
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"password": password,
			"strength": result,
		},
	})
}

// PasswordScoreHandler handles POST /v1/passwords/score
func (s *Server) PasswordScoreHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": analyzer.Score(req.Password)})
}

// PasswordCheckReuseHandler handles POST /v1/secrets/{secretID}/check-reuse.
// Requires read access on the owning vault. The candidate value is checked
// against the secret's full hash history and never logged.
func (s *Server) PasswordCheckReuseHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	secretID, err := urlParamInt64(r, "secretID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	secret, err := s.store.GetSecret(r.Context(), secretID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.acl.Check(r.Context(), token, secret.VaultID, models.PermissionRead); err != nil {
		writeServiceError(w, err)
		return
	}

	reused, err := analyzer.CheckReuse(r.Context(), s.store, secretID, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"reused": reused},
	})
}

// PasswordCheckReuseScopedHandler handles POST /v1/passwords/check-reuse.
// Variant for values not yet stored as a secret: the caller names the
// secrets whose histories the candidate is checked against. Read access is
// required on every owning vault; every named history is checked even after
// a match.
func (s *Server) PasswordCheckReuseScopedHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())

	var req struct {
		Password  string  `json:"password"`
		SecretIDs []int64 `json:"secret_ids"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	if len(req.SecretIDs) == 0 {
		writeError(w, http.StatusBadRequest, "secret_ids is required")
		return
	}

	reused := false
	for _, secretID := range req.SecretIDs {
		secret, err := s.store.GetSecret(r.Context(), secretID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if err := s.acl.Check(r.Context(), token, secret.VaultID, models.PermissionRead); err != nil {
			writeServiceError(w, err)
			return
		}
		match, err := analyzer.CheckReuse(r.Context(), s.store, secretID, req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if match {
			reused = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"reused": reused},
	})
}
