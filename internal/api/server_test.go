package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	master, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("generating master key: %v", err)
	}
	srv := NewServer(storage.NewMemoryBackend(), master, Config{})
	return srv, srv.BuildRouter()
}

// mintToken issues a token directly against the token service so tests can
// authenticate without going through the admin-only create endpoint.
func mintToken(t *testing.T, srv *Server, userID int64, role string) string {
	t.Helper()
	_, plaintext, err := srv.tokens.CreateToken(context.Background(), userID, role, "test", 0)
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return plaintext
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-CredVault-Token", token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, token string) *httptest.ResponseRecorder {
	return doJSON(t, handler, "POST", path, body, token)
}

func getJSON(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	return doJSON(t, handler, "GET", path, nil, token)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func dataField(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	data, ok := decodeBody(t, w)["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %s", w.Body.String())
	}
	return data
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestServer(t)

	w := getJSON(t, handler, "/v1/sys/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["initialized"] != true {
		t.Errorf("expected initialized true, got %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	_, handler := newTestServer(t)

	w := getJSON(t, handler, "/v1/vaults/1", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", w.Code)
	}

	w = getJSON(t, handler, "/v1/vaults/1", "cvt_not_a_real_token")
	if w.Code != http.StatusForbidden {
		t.Errorf("bad token: expected 403, got %d", w.Code)
	}
}

func TestVaultAndSecretLifecycle(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)

	w := postJSON(t, handler, "/v1/vaults", map[string]any{"name": "web-server"}, admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("create vault: expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	if id := dataField(t, w)["id"]; id != float64(1) {
		t.Fatalf("expected vault id 1, got %v", id)
	}

	w = postJSON(t, handler, "/v1/vaults/1/secrets", map[string]any{
		"secret_type": "password",
		"label":       "db-password",
		"value":       "Secret123!",
	}, admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("add secret: expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	secret := dataField(t, w)
	if secret["strength_score"] == nil {
		t.Error("password secret should carry a strength score")
	}
	sid, ok := secret["id"].(float64)
	if !ok {
		t.Fatalf("missing secret id in %s", w.Body.String())
	}
	secretPath := fmt.Sprintf("/v1/secrets/%d", int64(sid))

	w = getJSON(t, handler, secretPath+"/value", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("decrypt: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if dataField(t, w)["value"] != "Secret123!" {
		t.Errorf("decrypt returned wrong value")
	}

	w = getJSON(t, handler, "/v1/vaults/1/history", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", w.Code)
	}

	w = doJSON(t, handler, "DELETE", secretPath, nil, admin)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	w = getJSON(t, handler, secretPath+"/value", admin)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted secret: expected 404, got %d", w.Code)
	}
}

func TestVaultDuplicateAsset(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)

	body := map[string]any{"name": "web-server", "asset_id": 10}
	if w := postJSON(t, handler, "/v1/vaults", body, admin); w.Code != http.StatusCreated {
		t.Fatalf("create vault: expected 201, got %d", w.Code)
	}
	if w := postJSON(t, handler, "/v1/vaults", body, admin); w.Code != http.StatusConflict {
		t.Errorf("duplicate asset: expected 409, got %d", w.Code)
	}
}

func TestAccessControlFlow(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)
	user := mintToken(t, srv, 7, models.RoleUser)

	postJSON(t, handler, "/v1/vaults", map[string]any{"name": "web-server"}, admin)

	// No grant yet: denial carries no detail beyond the status.
	w := getJSON(t, handler, "/v1/vaults/1", user)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	w = postJSON(t, handler, "/v1/vaults/1/permissions", map[string]any{
		"user_id":         7,
		"permission_type": "read",
	}, admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("grant: expected 201, got %d (%s)", w.Code, w.Body.String())
	}

	if w := getJSON(t, handler, "/v1/vaults/1", user); w.Code != http.StatusOK {
		t.Errorf("after grant: expected 200, got %d", w.Code)
	}

	// Read does not allow adding secrets.
	w = postJSON(t, handler, "/v1/vaults/1/secrets", map[string]any{
		"secret_type": "password", "label": "x", "value": "Secret123!",
	}, user)
	if w.Code != http.StatusForbidden {
		t.Errorf("write without grant: expected 403, got %d", w.Code)
	}

	// The advisory check endpoint reports both sides.
	w = getJSON(t, handler, "/v1/vaults/1/access?permission=read", user)
	if allowed := dataField(t, w)["allowed"]; allowed != true {
		t.Errorf("expected read allowed, got %v", allowed)
	}
	w = getJSON(t, handler, "/v1/vaults/1/access?permission=write", user)
	if allowed := dataField(t, w)["allowed"]; allowed != false {
		t.Errorf("expected write denied, got %v", allowed)
	}

	// Revoke and the read is gone.
	w = doJSON(t, handler, "DELETE", "/v1/vaults/1/permissions", map[string]any{
		"user_id": 7, "permission_type": "read",
	}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", w.Code)
	}
	if w := getJSON(t, handler, "/v1/vaults/1", user); w.Code != http.StatusForbidden {
		t.Errorf("after revoke: expected 403, got %d", w.Code)
	}
}

func TestPermissionRequestFlow(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)
	user := mintToken(t, srv, 7, models.RoleUser)

	postJSON(t, handler, "/v1/vaults", map[string]any{"name": "web-server"}, admin)

	w := postJSON(t, handler, "/v1/vaults/1/requests", map[string]any{"permission_type": "read"}, user)
	if w.Code != http.StatusCreated {
		t.Fatalf("request: expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	rid, ok := dataField(t, w)["request_id"].(float64)
	if !ok {
		t.Fatalf("missing request_id in %s", w.Body.String())
	}
	requestPath := fmt.Sprintf("/v1/requests/%d", int64(rid))

	// Duplicate pending request for the same permission.
	w = postJSON(t, handler, "/v1/vaults/1/requests", map[string]any{"permission_type": "read"}, user)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate request: expected 409, got %d", w.Code)
	}

	w = postJSON(t, handler, requestPath+"/approve", map[string]any{"notes": "ok"}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if status := dataField(t, w)["status"]; status != "approved" {
		t.Errorf("expected approved, got %v", status)
	}

	if w := getJSON(t, handler, "/v1/vaults/1", user); w.Code != http.StatusOK {
		t.Errorf("after approval: expected 200, got %d", w.Code)
	}

	// Closed requests stay closed.
	w = postJSON(t, handler, requestPath+"/deny", nil, admin)
	if w.Code != http.StatusConflict {
		t.Errorf("deny after approve: expected 409, got %d", w.Code)
	}
}

func TestPasswordEndpoints(t *testing.T) {
	srv, handler := newTestServer(t)
	user := mintToken(t, srv, 7, models.RoleUser)

	w := postJSON(t, handler, "/v1/passwords/generate", map[string]any{
		"length":            20,
		"include_uppercase": true,
		"include_lowercase": true,
		"include_numbers":   true,
		"include_special":   true,
	}, user)
	if w.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	data := dataField(t, w)
	password, _ := data["password"].(string)
	if len(password) != 20 {
		t.Errorf("expected 20 chars, got %d", len(password))
	}
	if data["strength"] == nil {
		t.Error("generate should return a strength result")
	}

	w = postJSON(t, handler, "/v1/passwords/generate", map[string]any{
		"length": 4, "include_lowercase": true,
	}, user)
	if w.Code != http.StatusBadRequest {
		t.Errorf("out-of-range length: expected 400, got %d", w.Code)
	}

	w = postJSON(t, handler, "/v1/passwords/score", map[string]any{"password": "Secret123!"}, user)
	if w.Code != http.StatusOK {
		t.Fatalf("score: expected 200, got %d", w.Code)
	}
	if band := dataField(t, w)["band"]; band != "Good" {
		t.Errorf("expected Good band, got %v", band)
	}
}

func TestPasswordCheckReuseEndpoints(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)
	user := mintToken(t, srv, 7, models.RoleUser)

	postJSON(t, handler, "/v1/vaults", map[string]any{"name": "web-server"}, admin)
	w := postJSON(t, handler, "/v1/vaults/1/secrets", map[string]any{
		"secret_type": "password", "label": "db-password", "value": "Secret123!",
	}, admin)
	sid, ok := dataField(t, w)["id"].(float64)
	if !ok {
		t.Fatalf("missing secret id in %s", w.Body.String())
	}
	secretID := int64(sid)

	// Per-secret route.
	w = postJSON(t, handler, fmt.Sprintf("/v1/secrets/%d/check-reuse", secretID),
		map[string]any{"password": "Secret123!"}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("check-reuse: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if reused := dataField(t, w)["reused"]; reused != true {
		t.Errorf("expected reused true, got %v", reused)
	}

	// Caller-scoped route for values not yet stored as a secret.
	w = postJSON(t, handler, "/v1/passwords/check-reuse", map[string]any{
		"password": "Secret123!", "secret_ids": []int64{secretID},
	}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("scoped check-reuse: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if reused := dataField(t, w)["reused"]; reused != true {
		t.Errorf("expected reused true, got %v", reused)
	}

	w = postJSON(t, handler, "/v1/passwords/check-reuse", map[string]any{
		"password": "Fresh456#Value", "secret_ids": []int64{secretID},
	}, admin)
	if reused := dataField(t, w)["reused"]; reused != false {
		t.Errorf("expected reused false, got %v", reused)
	}

	// Scope still runs through the access gate.
	w = postJSON(t, handler, "/v1/passwords/check-reuse", map[string]any{
		"password": "Secret123!", "secret_ids": []int64{secretID},
	}, user)
	if w.Code != http.StatusForbidden {
		t.Errorf("scoped check-reuse without read: expected 403, got %d", w.Code)
	}

	w = postJSON(t, handler, "/v1/passwords/check-reuse", map[string]any{"password": "Secret123!"}, admin)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing secret_ids: expected 400, got %d", w.Code)
	}
}

func TestRotationFlow(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)

	postJSON(t, handler, "/v1/vaults", map[string]any{"name": "web-server"}, admin)
	w := postJSON(t, handler, "/v1/vaults/1/secrets", map[string]any{
		"secret_type": "password", "label": "db-password", "value": "Secret123!",
	}, admin)
	sid, ok := dataField(t, w)["id"].(float64)
	if !ok {
		t.Fatalf("missing secret id in %s", w.Body.String())
	}
	secretPath := fmt.Sprintf("/v1/secrets/%d", int64(sid))

	// Reuse of the current value is rejected.
	w = postJSON(t, handler, secretPath+"/rotate", map[string]any{"new_password": "Secret123!"}, admin)
	if w.Code != http.StatusConflict {
		t.Fatalf("reuse: expected 409, got %d (%s)", w.Code, w.Body.String())
	}

	w = postJSON(t, handler, secretPath+"/rotate", map[string]any{
		"new_password": "NewSecret456#", "reason": "quarterly",
	}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	w = getJSON(t, handler, secretPath+"/value", admin)
	if dataField(t, w)["value"] != "NewSecret456#" {
		t.Errorf("expected the rotated value back")
	}

	// Update with a value also routes passwords through rotation, so the
	// reuse rule still applies.
	w = doJSON(t, handler, "PUT", secretPath, map[string]any{"value": "Secret123!"}, admin)
	if w.Code != http.StatusConflict {
		t.Errorf("update with retired value: expected 409, got %d", w.Code)
	}
	w = doJSON(t, handler, "PUT", secretPath, map[string]any{"value": "ThirdSecret789$"}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("update via rotation: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	w = getJSON(t, handler, secretPath+"/value", admin)
	if dataField(t, w)["value"] != "ThirdSecret789$" {
		t.Errorf("expected the updated value back")
	}
}

func TestRotationAdminEndpoints(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)
	user := mintToken(t, srv, 7, models.RoleUser)

	if w := getJSON(t, handler, "/v1/rotation/alerts", user); w.Code != http.StatusForbidden {
		t.Errorf("alerts as user: expected 403, got %d", w.Code)
	}
	if w := getJSON(t, handler, "/v1/rotation/compliance", user); w.Code != http.StatusForbidden {
		t.Errorf("compliance as user: expected 403, got %d", w.Code)
	}

	if w := getJSON(t, handler, "/v1/rotation/alerts", admin); w.Code != http.StatusOK {
		t.Errorf("alerts as admin: expected 200, got %d", w.Code)
	}
	w := getJSON(t, handler, "/v1/rotation/compliance", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("compliance as admin: expected 200, got %d", w.Code)
	}
	if pct := dataField(t, w)["compliance_percentage"]; pct != float64(100) {
		t.Errorf("expected vacuous 100%% compliance, got %v", pct)
	}

	if w := getJSON(t, handler, "/v1/rotation/alerts?days=x", admin); w.Code != http.StatusBadRequest {
		t.Errorf("bad days: expected 400, got %d", w.Code)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)

	postJSON(t, handler, "/v1/vaults", map[string]any{"name": "web-server"}, admin)

	w := doJSON(t, handler, "PUT", "/v1/vaults/1/schedule", map[string]any{
		"rotation_interval": 30, "alert_days_before": 7,
	}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("set schedule: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	w = getJSON(t, handler, "/v1/vaults/1/schedule", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("get schedule: expected 200, got %d", w.Code)
	}
	if interval := dataField(t, w)["rotation_interval"]; interval != float64(30) {
		t.Errorf("expected interval 30, got %v", interval)
	}

	w = doJSON(t, handler, "PUT", "/v1/vaults/1/schedule", map[string]any{"rotation_interval": 0}, admin)
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero interval: expected 400, got %d", w.Code)
	}
}

func TestTokenEndpoints(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)
	user := mintToken(t, srv, 7, models.RoleUser)

	// Only admins mint tokens.
	w := postJSON(t, handler, "/v1/auth/token/create", map[string]any{"user_id": 8}, user)
	if w.Code != http.StatusForbidden {
		t.Errorf("create as user: expected 403, got %d", w.Code)
	}

	w = postJSON(t, handler, "/v1/auth/token/create", map[string]any{
		"user_id": 8, "role": "user", "ttl": "1h",
	}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("create token: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	auth, ok := decodeBody(t, w)["auth"].(map[string]any)
	if !ok {
		t.Fatalf("missing auth object: %s", w.Body.String())
	}
	clientToken, _ := auth["client_token"].(string)
	if clientToken == "" {
		t.Fatal("expected a client token")
	}
	if auth["lease_duration"] != float64(3600) {
		t.Errorf("expected lease 3600, got %v", auth["lease_duration"])
	}

	w = getJSON(t, handler, "/v1/auth/token/lookup-self", clientToken)
	if w.Code != http.StatusOK {
		t.Fatalf("lookup-self: expected 200, got %d", w.Code)
	}
	if uid := dataField(t, w)["user_id"]; uid != float64(8) {
		t.Errorf("expected user_id 8, got %v", uid)
	}

	// Token holders may revoke their own token.
	w = postJSON(t, handler, "/v1/auth/token/revoke", map[string]any{"token": clientToken}, clientToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d (%s)", w.Code, w.Body.String())
	}
	if w := getJSON(t, handler, "/v1/auth/token/lookup-self", clientToken); w.Code != http.StatusForbidden {
		t.Errorf("revoked token: expected 403, got %d", w.Code)
	}
}

func TestAuditLogEndpoint(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)
	user := mintToken(t, srv, 7, models.RoleUser)

	postJSON(t, handler, "/v1/vaults", map[string]any{"name": "web-server"}, admin)
	getJSON(t, handler, "/v1/vaults/1", user) // denied, still audited

	if w := getJSON(t, handler, "/v1/sys/audit-log", user); w.Code != http.StatusForbidden {
		t.Errorf("audit as user: expected 403, got %d", w.Code)
	}

	w := getJSON(t, handler, "/v1/sys/audit-log", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("audit as admin: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	entries, ok := decodeBody(t, w)["data"].([]any)
	if !ok || len(entries) == 0 {
		t.Fatalf("expected audit entries, got %s", w.Body.String())
	}
	denied := false
	for _, e := range entries {
		entry := e.(map[string]any)
		if entry["decision"] == "denied" {
			denied = true
		}
	}
	if !denied {
		t.Error("expected a denied entry for the rejected vault read")
	}
}

func TestVaultExportEndpoint(t *testing.T) {
	srv, handler := newTestServer(t)
	admin := mintToken(t, srv, 1, models.RoleAdmin)
	user := mintToken(t, srv, 7, models.RoleUser)

	postJSON(t, handler, "/v1/vaults", map[string]any{"name": "web-server"}, admin)
	postJSON(t, handler, "/v1/vaults/1/secrets", map[string]any{
		"secret_type": "password", "label": "db-password", "value": "Secret123!",
	}, admin)

	if w := getJSON(t, handler, "/v1/vaults/1/export", user); w.Code != http.StatusForbidden {
		t.Errorf("export without permission: expected 403, got %d", w.Code)
	}

	w := getJSON(t, handler, "/v1/vaults/1/export", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	data := dataField(t, w)
	secrets, ok := data["secrets"].([]any)
	if !ok || len(secrets) != 1 {
		t.Fatalf("expected 1 exported secret, got %v", data["secrets"])
	}
	// Only ciphertext leaves the engine.
	if body := w.Body.String(); bytes.Contains([]byte(body), []byte("Secret123!")) {
		t.Error("export must not contain plaintext")
	}
}
