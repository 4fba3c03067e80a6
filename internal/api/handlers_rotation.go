package api

import (
	"net/http"
	"strconv"

	"github.com/org/credvault/internal/rotation"
)

// RotateHandler handles POST /v1/secrets/{secretID}/rotate
func (s *Server) RotateHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	secretID, err := urlParamInt64(r, "secretID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}

	var req struct {
		NewPassword string `json:"new_password"`
		Reason      string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "new_password is required")
		return
	}

	if err := s.rotation.Rotate(r.Context(), token, secretID, req.NewPassword, req.Reason, nil); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"rotated": true},
	})
}

// RotateBatchHandler handles POST /v1/rotation/batch. Items succeed or fail
// independently; the report carries per-item results.
func (s *Server) RotateBatchHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())

	var req struct {
		Items []struct {
			SecretID    int64  `json:"secret_id"`
			NewPassword string `json:"new_password"`
		} `json:"items"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items are required")
		return
	}

	items := make([]rotation.BatchItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = rotation.BatchItem{SecretID: it.SecretID, NewPassword: it.NewPassword}
	}

	report := s.rotation.RotateBatch(r.Context(), token, items, req.Reason)
	writeJSON(w, http.StatusOK, map[string]any{"data": report})
}

// RotationAlertsHandler handles GET /v1/rotation/alerts. Admin only: alerts
// span every scheduled vault.
func (s *Server) RotationAlertsHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	if token == nil || !token.IsAdmin() {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	daysAhead := 7
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		daysAhead = n
	}

	alerts, err := s.rotation.ComputeAlerts(r.Context(), daysAhead)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": alerts})
}

// ComplianceHandler handles GET /v1/rotation/compliance. Admin only.
func (s *Server) ComplianceHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	if token == nil || !token.IsAdmin() {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	metrics, err := s.rotation.ComputeComplianceMetrics(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": metrics})
}

// ScheduleSetHandler handles PUT /v1/vaults/{vaultID}/schedule
func (s *Server) ScheduleSetHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	var req struct {
		RotationInterval int `json:"rotation_interval"`
		AlertDaysBefore  int `json:"alert_days_before"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RotationInterval <= 0 {
		writeError(w, http.StatusBadRequest, "rotation_interval must be positive")
		return
	}

	schedule, err := s.rotation.SetSchedule(r.Context(), token, vaultID, req.RotationInterval, req.AlertDaysBefore)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": schedule})
}

// ScheduleGetHandler handles GET /v1/vaults/{vaultID}/schedule
func (s *Server) ScheduleGetHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	vaultID, err := urlParamInt64(r, "vaultID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	schedule, err := s.rotation.GetSchedule(r.Context(), token, vaultID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": schedule})
}
