package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/credvault/internal/storage"
)

// AuditLogHandler handles GET /v1/sys/audit-log. Admin only.
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	if token == nil || !token.IsAdmin() {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	q := r.URL.Query()
	filter := storage.AuditFilter{
		Operation: q.Get("operation"),
		Limit:     100,
	}

	if v := q.Get("vault_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.VaultID = &n
		}
	}
	if u := q.Get("user_id"); u != "" {
		if n, err := strconv.ParseInt(u, 10, 64); err == nil {
			filter.UserID = &n
		}
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err == nil {
			filter.Since = &t
		}
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}
