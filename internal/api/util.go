package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/org/credvault/internal/access"
	"github.com/org/credvault/internal/analyzer"
	"github.com/org/credvault/internal/rotation"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/internal/vault"
)

func newUUIDImpl() string {
	b := make([]byte, 16)
	rand.Read(b) //nolint:errcheck
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeServiceError maps service sentinels onto HTTP status codes. Denied
// access always produces the same body regardless of whether the vault
// exists.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, vault.ErrDuplicateVault),
		errors.Is(err, access.ErrDuplicateRequest),
		errors.Is(err, access.ErrRequestClosed),
		errors.Is(err, rotation.ErrPasswordReused):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, vault.ErrPasswordViaRotation),
		errors.Is(err, rotation.ErrNotAPassword),
		errors.Is(err, analyzer.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func urlParamInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
