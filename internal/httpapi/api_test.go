package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"campusgrid.org/internal/audit"
	"campusgrid.org/internal/auth"
)

func newTestAPI(t *testing.T) (*API, *auth.Service) {
	t.Helper()
	deny := auth.NewDenylist()
	tokens, err := auth.NewTokenService([]byte("test-secret"), auth.WithDenylist(deny))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	trail := audit.NewTrail(audit.NewMemoryStore())
	authz, err := auth.NewAuthorizer(tokens, trail)
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	svc, err := auth.NewService(auth.NewMemoryUserStore(), auth.NewMemoryRefreshTokenStore(), tokens, trail,
		auth.WithServiceDenylist(deny))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return New(svc, authz, trail, "test"), svc
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, h http.Handler, email, name, password string) (token, userID string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "",
		`{"email":"`+email+`","full_name":"`+name+`","password":"`+password+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"email":"`+email+`","password":"`+password+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken, resp.User.ID
}

func TestHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["service"] != "auth-service" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "",
		`{"email":"alice@example.com","full_name":"Alice","password":"pw-secret"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body=%s", rec.Code, rec.Body.String())
	}
	var user auth.User
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.Role != auth.RoleStudent || !user.Active {
		t.Fatalf("unexpected user: %+v", user)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatal("password hash must not be serialized")
	}

	// Duplicate registration is a client error, not a server error.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/register", "",
		`{"email":"alice@example.com","full_name":"Alice","password":"pw-secret"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register: status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"email":"alice@example.com","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d", rec.Code)
	}

	token, userID := registerAndLogin(t, h, "bob@example.com", "Bob", "pw-secret")
	if token == "" || userID == "" {
		t.Fatal("login must return token and user")
	}
}

func TestRefreshEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "",
		`{"email":"carl@example.com","full_name":"Carl","password":"pw"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"email":"carl@example.com","password":"pw"}`)
	var login struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/refresh", "",
		`{"refresh_token":"`+login.RefreshToken+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body=%s", rec.Code, rec.Body.String())
	}

	// Single use: replaying the consumed token fails.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/refresh", "",
		`{"refresh_token":"`+login.RefreshToken+`"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: status %d", rec.Code)
	}
}

func TestUserListRequiresPermission(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	token, _ := registerAndLogin(t, h, "student@example.com", "Student", "pw")

	rec := doJSON(t, h, http.MethodGet, "/api/auth/users", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/auth/users", token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student listing users: status %d", rec.Code)
	}
}

func TestForbiddenAccessIsAudited(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()

	token, userID := registerAndLogin(t, h, "dana@example.com", "Dana", "pw")

	rec := doJSON(t, h, http.MethodGet, "/api/auth/users", token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	// Promote to admin out of band so Dana can read the trail.
	if _, err := svc.SetRole(context.Background(), userID, auth.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"email":"dana@example.com","password":"pw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-login: %d", rec.Code)
	}
	var relogin struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &relogin); err != nil {
		t.Fatalf("decode re-login: %v", err)
	}
	adminToken := relogin.AccessToken

	rec = doJSON(t, h, http.MethodGet, "/api/auth/audit-logs?action=access_denied", adminToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit-logs: status %d body=%s", rec.Code, rec.Body.String())
	}
	var entries []audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one access_denied entry, got %d", len(entries))
	}
	e := entries[0]
	if e.UserID != userID || e.Status != audit.StatusFailure || e.Resource != "user" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestCreateAuditLogEndpoint(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/audit-logs", "",
		`{"action":"access_denied","resource":"students","status":"failure","details":{"reason":"role_mismatch"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body=%s", rec.Code, rec.Body.String())
	}
	var created audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created entry: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected an assigned id")
	}
	if created.IPAddress == "" {
		t.Fatal("expected the caller address as a fallback ip")
	}
	if created.OccurredAt.IsZero() {
		t.Fatal("expected a timestamp")
	}

	for _, body := range []string{
		`{"resource":"students"}`,
		`{"action":"access_denied"}`,
		`{"action":"access_denied","resource":"students","status":"maybe"}`,
	} {
		rec = doJSON(t, h, http.MethodPost, "/api/auth/audit-logs", "", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}

	// The posted entry must come back through the query surface.
	_, userID := registerAndLogin(t, h, "ezra@example.com", "Ezra", "pw")
	if _, err := svc.SetRole(context.Background(), userID, auth.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"email":"ezra@example.com","password":"pw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-login: %d", rec.Code)
	}
	var relogin struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &relogin); err != nil {
		t.Fatalf("decode re-login: %v", err)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/auth/audit-logs?action=access_denied", relogin.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit-logs: status %d body=%s", rec.Code, rec.Body.String())
	}
	var entries []audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one access_denied entry, got %d", len(entries))
	}
	if entries[0].ID != created.ID || entries[0].Resource != "students" || entries[0].Details["reason"] != "role_mismatch" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestSelfAccessAllowed(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	token, userID := registerAndLogin(t, h, "erin@example.com", "Erin", "pw")

	rec := doJSON(t, h, http.MethodGet, "/api/auth/users/"+userID, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("self read: status %d body=%s", rec.Code, rec.Body.String())
	}
	var resp auth.UserWithPermissions
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != userID {
		t.Fatalf("unexpected user: %s", resp.ID)
	}
	if len(resp.Permissions) == 0 {
		t.Fatal("expected the student permission set")
	}

	// Another student's record is off limits.
	_, otherID := registerAndLogin(t, h, "frank@example.com", "Frank", "pw")
	rec = doJSON(t, h, http.MethodGet, "/api/auth/users/"+otherID, token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-user read: status %d", rec.Code)
	}
}

func TestSelfUpdate(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	token, userID := registerAndLogin(t, h, "gina@example.com", "Gina", "pw")

	rec := doJSON(t, h, http.MethodPut, "/api/auth/users/"+userID, token,
		`{"full_name":"Gina Renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("self update: status %d body=%s", rec.Code, rec.Body.String())
	}
	var user auth.User
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.FullName != "Gina Renamed" {
		t.Fatalf("update not applied: %s", user.FullName)
	}
}

func TestAssignRoleEndpoint(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()

	_, targetID := registerAndLogin(t, h, "target@example.com", "Target", "pw")
	_, adminID := registerAndLogin(t, h, "admin@example.com", "Admin", "pw")
	if _, err := svc.SetRole(context.Background(), adminID, auth.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"email":"admin@example.com","password":"pw"}`)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &login)

	rec = doJSON(t, h, http.MethodPost, "/api/auth/users/"+targetID+"/role", login.AccessToken,
		`{"role":"instructor"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign role: status %d body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["message"] != "user role changed from student to instructor" {
		t.Fatalf("unexpected message: %q", resp["message"])
	}

	// Unknown roles are rejected.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/users/"+targetID+"/role", login.AccessToken,
		`{"role":"wizard"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown role: status %d", rec.Code)
	}
}

func TestDeactivateEndpoint(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()

	_, targetID := registerAndLogin(t, h, "victim@example.com", "Victim", "pw")
	_, adminID := registerAndLogin(t, h, "root@example.com", "Root", "pw")
	if _, err := svc.SetRole(context.Background(), adminID, auth.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"email":"root@example.com","password":"pw"}`)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &login)

	rec = doJSON(t, h, http.MethodDelete, "/api/auth/users/"+targetID, login.AccessToken, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate: status %d body=%s", rec.Code, rec.Body.String())
	}

	// The deactivated account can no longer log in.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"email":"victim@example.com","password":"pw"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("inactive login: status %d", rec.Code)
	}
}

func TestUnknownRoute404(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/other/thing", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestMalformedJSONRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", `{"email": `)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/register", "", `{"email":"x@y.z","unknown_field":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", rec.Code)
	}
}
