package api

import (
	"net/http"
	"time"

	"github.com/org/credvault/pkg/models"
)

// GrantHandler handles POST /v1/vaults/{vaultID}/permissions
func (s *Server) GrantHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	var req struct {
		UserID     int64                 `json:"user_id"`
		Permission models.PermissionType `json:"permission_type"`
		ExpiresAt  *time.Time            `json:"expires_at"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.ValidPermissionType(req.Permission) {
		writeError(w, http.StatusBadRequest, "unknown permission type")
		return
	}

	perm, err := s.acl.Grant(r.Context(), token, req.UserID, vaultID, req.Permission, req.ExpiresAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"data": perm})
}

// RevokeHandler handles DELETE /v1/vaults/{vaultID}/permissions. An empty
// permission_type revokes all of the user's grants on the vault.
func (s *Server) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	var req struct {
		UserID     int64                 `json:"user_id"`
		Permission models.PermissionType `json:"permission_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Permission != "" && !models.ValidPermissionType(req.Permission) {
		writeError(w, http.StatusBadRequest, "unknown permission type")
		return
	}

	revoked, err := s.acl.Revoke(r.Context(), token, req.UserID, vaultID, req.Permission)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"revoked": revoked},
	})
}

// PermissionListHandler handles GET /v1/vaults/{vaultID}/permissions
func (s *Server) PermissionListHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	perms, err := s.acl.ListPermissions(r.Context(), token, vaultID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": perms})
}

// AccessCheckHandler handles GET /v1/vaults/{vaultID}/access?permission=read.
// Reports whether the caller holds the permission; never errors on denial.
func (s *Server) AccessCheckHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	pt := models.PermissionType(r.URL.Query().Get("permission"))
	if !models.ValidPermissionType(pt) {
		writeError(w, http.StatusBadRequest, "unknown permission type")
		return
	}

	allowed := s.acl.Check(r.Context(), token, vaultID, pt) == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"allowed": allowed},
	})
}

// RequestCreateHandler handles POST /v1/vaults/{vaultID}/requests
func (s *Server) RequestCreateHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	var req struct {
		Permission models.PermissionType `json:"permission_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.ValidPermissionType(req.Permission) {
		writeError(w, http.StatusBadRequest, "unknown permission type")
		return
	}

	pr, err := s.acl.RequestAccess(r.Context(), token, vaultID, req.Permission)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"data": pr})
}

// RequestListHandler handles GET /v1/vaults/{vaultID}/requests?status=pending
func (s *Server) RequestListHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	status := models.RequestStatus(r.URL.Query().Get("status"))
	requests, err := s.acl.ListRequests(r.Context(), token, vaultID, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": requests})
}

// RequestApproveHandler handles POST /v1/requests/{requestID}/approve
func (s *Server) RequestApproveHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	requestID, err := urlParamInt64(r, "requestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	decodeJSON(r, &req) //nolint:errcheck

	pr, err := s.acl.Approve(r.Context(), token, requestID, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": pr})
}

// RequestDenyHandler handles POST /v1/requests/{requestID}/deny
func (s *Server) RequestDenyHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	requestID, err := urlParamInt64(r, "requestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	decodeJSON(r, &req) //nolint:errcheck

	pr, err := s.acl.Deny(r.Context(), token, requestID, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": pr})
}
