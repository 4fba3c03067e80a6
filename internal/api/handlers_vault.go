package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/org/credvault/internal/vault"
	"github.com/org/credvault/pkg/models"
)

// VaultCreateHandler handles POST /v1/vaults
func (s *Server) VaultCreateHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	if token == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		AssetID     *int64 `json:"asset_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	v, err := s.vaults.CreateVault(r.Context(), token, req.AssetID, req.Name, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"data": v})
}

// VaultGetHandler handles GET /v1/vaults/{vaultID}
func (s *Server) VaultGetHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	v, err := s.vaults.GetVault(r.Context(), token, vaultID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": v})
}

// SecretListHandler handles GET /v1/vaults/{vaultID}/secrets
func (s *Server) SecretListHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	secrets, err := s.vaults.ListSecrets(r.Context(), token, vaultID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": secrets})
}

// SecretAddHandler handles POST /v1/vaults/{vaultID}/secrets
func (s *Server) SecretAddHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	var req struct {
		SecretType       models.SecretType       `json:"secret_type"`
		Label            string                  `json:"label"`
		Value            string                  `json:"value"`
		GenerationMethod models.GenerationMethod `json:"generation_method"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Label == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "label and value are required")
		return
	}
	if req.GenerationMethod == "" {
		req.GenerationMethod = models.GenerationManual
	}

	secret, err := s.vaults.AddSecret(r.Context(), token, vaultID, req.SecretType, req.Label, req.Value, req.GenerationMethod)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"data": secret})
}

// SecretDecryptHandler handles GET /v1/secrets/{secretID}/value
func (s *Server) SecretDecryptHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	secretID, err := urlParamInt64(r, "secretID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}

	plaintext, err := s.vaults.DecryptSecret(r.Context(), token, secretID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"value": plaintext},
	})
}

// SecretUpdateHandler handles PUT /v1/secrets/{secretID}. Password value
// changes are forwarded to the rotation path so history and reuse rules
// always apply.
func (s *Server) SecretUpdateHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	secretID, err := urlParamInt64(r, "secretID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}

	var req struct {
		Value  *string `json:"value"`
		Label  *string `json:"label"`
		Reason string  `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	secret, err := s.vaults.UpdateSecret(r.Context(), token, secretID, req.Value, req.Label)
	if errors.Is(err, vault.ErrPasswordViaRotation) && req.Value != nil {
		if req.Reason == "" {
			req.Reason = "credential update"
		}
		if err := s.rotation.Rotate(r.Context(), token, secretID, *req.Value, req.Reason, nil); err != nil {
			writeServiceError(w, err)
			return
		}
		if req.Label != nil {
			secret, err = s.vaults.UpdateSecret(r.Context(), token, secretID, nil, req.Label)
		} else {
			secret, err = s.store.GetSecret(r.Context(), secretID)
		}
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": secret})
}

// SecretDeleteHandler handles DELETE /v1/secrets/{secretID}
func (s *Server) SecretDeleteHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	secretID, err := urlParamInt64(r, "secretID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}

	if err := s.vaults.DeleteSecret(r.Context(), token, secretID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VaultHistoryHandler handles GET /v1/vaults/{vaultID}/history
func (s *Server) VaultHistoryHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	q := r.URL.Query()
	limit, offset := 100, 0
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			offset = n
		}
	}

	entries, err := s.vaults.GetHistory(r.Context(), token, vaultID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

// VaultExportHandler handles GET /v1/vaults/{vaultID}/export
func (s *Server) VaultExportHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	export, err := s.vaults.Export(r.Context(), token, vaultID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": export})
}
