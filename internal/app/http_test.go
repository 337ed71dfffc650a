package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ideahub/api/internal/config"
)

func newTestServer(t *testing.T) (http.Handler, *Service, *memStore) {
	t.Helper()
	ms := newMemStore()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	svc := New(cfg, ms, nil, nil)
	server := NewHTTPServer(svc, "*", zerolog.Nop())
	return server.Handler(), svc, ms
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func loginHTTP(t *testing.T, handler http.Handler, email, name string) (token, userID string) {
	t.Helper()
	recorder := doRequest(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{"email": email, "name": name})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	return payload["token"].(string), payload["userId"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	handler, _, _ := newTestServer(t)

	recorder := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("health returned %d", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("ready returned %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	handler, _, _ := newTestServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/ideas"},
		{http.MethodPost, "/api/ideas"},
		{http.MethodGet, "/api/requests"},
		{http.MethodPost, "/api/kanban"},
		{http.MethodGet, "/api/users"},
	} {
		recorder := doRequest(t, handler, route.method, route.path, "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token returned %d, want 401", route.method, route.path, recorder.Code)
		}
	}

	recorder := doRequest(t, handler, http.MethodGet, "/api/ideas", "not-a-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token returned %d, want 401", recorder.Code)
	}
}

func TestSignUpSignInFlow(t *testing.T) {
	handler, _, _ := newTestServer(t)

	recorder := doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "dev@example.com", "password": "hunter2hunter2", "name": "Dev",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", recorder.Code, recorder.Body.String())
	}

	// Duplicate email conflicts.
	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "dev@example.com", "password": "hunter2hunter2",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate signup returned %d, want 409", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "dev@example.com", "password": "hunter2hunter2",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("signin returned %d: %s", recorder.Code, recorder.Body.String())
	}
	token := decodeJSON(t, recorder)["token"].(string)

	recorder = doRequest(t, handler, http.MethodGet, "/api/ideas", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("authenticated list returned %d", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "dev@example.com", "password": "wrong-password",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("bad password returned %d, want 401", recorder.Code)
	}
}

func TestJoinRequestFlowOverHTTP(t *testing.T) {
	handler, _, _ := newTestServer(t)

	ownerToken, _ := loginHTTP(t, handler, "owner@example.com", "Owner")
	applicantToken, applicantID := loginHTTP(t, handler, "applicant@example.com", "Applicant")

	recorder := doRequest(t, handler, http.MethodPost, "/api/ideas", ownerToken, map[string]any{
		"title": "Realtime dashboard", "description": "Live metrics for the team",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create idea returned %d: %s", recorder.Code, recorder.Body.String())
	}
	ideaID := decodeJSON(t, recorder)["id"].(string)

	recorder = doRequest(t, handler, http.MethodPost, "/api/ideas/"+ideaID+"/join", applicantToken, map[string]string{"message": "count me in"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("join returned %d: %s", recorder.Code, recorder.Body.String())
	}
	requestID := decodeJSON(t, recorder)["id"].(string)

	// Second submission conflicts.
	recorder = doRequest(t, handler, http.MethodPost, "/api/ideas/"+ideaID+"/join", applicantToken, nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate join returned %d, want 409", recorder.Code)
	}

	// The applicant cannot see or decide the review queue.
	recorder = doRequest(t, handler, http.MethodGet, "/api/ideas/"+ideaID+"/join-requests", applicantToken, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("applicant listing requests returned %d, want 403", recorder.Code)
	}
	recorder = doRequest(t, handler, http.MethodPatch, "/api/requests/"+requestID, applicantToken, map[string]string{"outcome": "ACCEPTED"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("applicant deciding own request returned %d, want 403", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/ideas/"+ideaID+"/join-requests", ownerToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("owner listing requests returned %d", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPatch, "/api/requests/"+requestID, ownerToken, map[string]string{"outcome": "ACCEPTED"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("decide returned %d: %s", recorder.Code, recorder.Body.String())
	}
	if status := decodeJSON(t, recorder)["status"]; status != "ACCEPTED" {
		t.Fatalf("expected ACCEPTED, got %v", status)
	}

	// Re-deciding a terminal request conflicts.
	recorder = doRequest(t, handler, http.MethodPatch, "/api/requests/"+requestID, ownerToken, map[string]string{"outcome": "REJECTED"})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("re-decide returned %d, want 409", recorder.Code)
	}

	// The accepted applicant shows up as a contributor.
	recorder = doRequest(t, handler, http.MethodGet, "/api/ideas/"+ideaID, ownerToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("idea detail returned %d", recorder.Code)
	}
	members := decodeJSON(t, recorder)["members"].([]any)
	foundContributor := false
	for _, raw := range members {
		member := raw.(map[string]any)
		if member["userId"] == applicantID && member["role"] == "CONTRIBUTOR" {
			foundContributor = true
		}
	}
	if !foundContributor {
		t.Fatalf("expected applicant as CONTRIBUTOR in members, got %v", members)
	}
}

func TestBoardFlowOverHTTP(t *testing.T) {
	handler, _, _ := newTestServer(t)

	ownerToken, _ := loginHTTP(t, handler, "owner@example.com", "Owner")
	strangerToken, _ := loginHTTP(t, handler, "stranger@example.com", "Stranger")

	recorder := doRequest(t, handler, http.MethodPost, "/api/ideas", ownerToken, map[string]any{"title": "Board work"})
	ideaID := decodeJSON(t, recorder)["id"].(string)

	recorder = doRequest(t, handler, http.MethodPost, "/api/kanban", ownerToken, map[string]any{
		"ideaId": ideaID, "title": "Write docs",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create card returned %d: %s", recorder.Code, recorder.Body.String())
	}
	card := decodeJSON(t, recorder)
	if card["column"] != "BACKLOG" {
		t.Fatalf("new card should default to BACKLOG, got %v", card["column"])
	}
	cardID := card["id"].(string)

	recorder = doRequest(t, handler, http.MethodPost, "/api/kanban", strangerToken, map[string]any{
		"ideaId": ideaID, "title": "Not a member",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("non-member create card returned %d, want 403", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPatch, "/api/kanban/"+cardID, ownerToken, map[string]string{"column": "IN_PROGRESS"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("move card returned %d: %s", recorder.Code, recorder.Body.String())
	}
	if column := decodeJSON(t, recorder)["column"]; column != "IN_PROGRESS" {
		t.Fatalf("expected IN_PROGRESS, got %v", column)
	}

	recorder = doRequest(t, handler, http.MethodPatch, "/api/kanban/"+cardID, ownerToken, map[string]string{"column": "SOMEDAY"})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad column returned %d, want 422", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/ideas/"+ideaID+"/board", ownerToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("board returned %d", recorder.Code)
	}
	columns := decodeJSON(t, recorder)["columns"].(map[string]any)
	if len(columns["IN_PROGRESS"].([]any)) != 1 {
		t.Fatalf("expected one card in IN_PROGRESS, got %v", columns["IN_PROGRESS"])
	}
}

func TestPatchIdeaOverHTTP(t *testing.T) {
	handler, _, ms := newTestServer(t)

	ownerToken, _ := loginHTTP(t, handler, "owner@example.com", "Owner")
	strangerToken, _ := loginHTTP(t, handler, "stranger@example.com", "Stranger")

	recorder := doRequest(t, handler, http.MethodPost, "/api/ideas", ownerToken, map[string]any{"title": "Lifecycle over HTTP"})
	ideaID := decodeJSON(t, recorder)["id"].(string)

	recorder = doRequest(t, handler, http.MethodPatch, "/api/ideas/"+ideaID, ownerToken, map[string]any{"status": "ACTIVE"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("patch status returned %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(t, handler, http.MethodPatch, "/api/ideas/"+ideaID, strangerToken, map[string]any{"status": "ARCHIVED"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("stranger patch returned %d, want 403", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPatch, "/api/ideas/"+ideaID, ownerToken, map[string]any{"status": "LAUNCHED"})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid status returned %d, want 422", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPatch, "/api/ideas/"+ideaID, ownerToken, map[string]any{"longRunning": true})
	if recorder.Code != http.StatusOK {
		t.Fatalf("patch longRunning returned %d", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPatch, "/api/ideas/"+ideaID, ownerToken, map[string]any{})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty patch returned %d, want 422", recorder.Code)
	}

	// Admins bypass ownership.
	adminToken, adminID := loginHTTP(t, handler, "admin@example.com", "Admin")
	if err := ms.SetUserRole(context.Background(), adminID, "ADMIN"); err != nil {
		t.Fatalf("SetUserRole: %v", err)
	}
	recorder = doRequest(t, handler, http.MethodPatch, "/api/ideas/"+ideaID, adminToken, map[string]any{"status": "ARCHIVED"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("admin patch returned %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestSessionRefreshAndLogoutOverHTTP(t *testing.T) {
	handler, _, _ := newTestServer(t)

	recorder := doRequest(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{"email": "user@example.com", "name": "User"})
	payload := decodeJSON(t, recorder)
	refreshToken := payload["refreshToken"].(string)

	recorder = doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]string{"refreshToken": refreshToken})
	if recorder.Code != http.StatusOK {
		t.Fatalf("refresh returned %d: %s", recorder.Code, recorder.Body.String())
	}
	rotated := decodeJSON(t, recorder)

	// Old refresh token is dead after rotation.
	recorder = doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]string{"refreshToken": refreshToken})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("stale refresh returned %d, want 401", recorder.Code)
	}

	newToken := rotated["token"].(string)
	recorder = doRequest(t, handler, http.MethodPost, "/api/session/logout", newToken, map[string]string{"refreshToken": rotated["refreshToken"].(string)})
	if recorder.Code != http.StatusOK {
		t.Fatalf("logout returned %d", recorder.Code)
	}
	recorder = doRequest(t, handler, http.MethodGet, "/api/ideas", newToken, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token returned %d, want 401", recorder.Code)
	}
}

func TestUserDirectoryOverHTTP(t *testing.T) {
	handler, _, ms := newTestServer(t)

	token, userID := loginHTTP(t, handler, "user@example.com", "User")
	otherToken, otherID := loginHTTP(t, handler, "other@example.com", "Other")

	recorder := doRequest(t, handler, http.MethodPatch, "/api/users/"+userID, token, map[string]any{
		"name": "Updated Name", "bio": "Builder", "department": "Platform",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("patch own profile returned %d: %s", recorder.Code, recorder.Body.String())
	}

	// Editing someone else's profile requires admin.
	recorder = doRequest(t, handler, http.MethodPatch, "/api/users/"+userID, otherToken, map[string]any{"name": "Hijack"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("foreign profile patch returned %d, want 403", recorder.Code)
	}

	// Role changes are admin-only, even on yourself.
	recorder = doRequest(t, handler, http.MethodPatch, "/api/users/"+userID, token, map[string]any{"role": "ADMIN"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("self role change returned %d, want 403", recorder.Code)
	}

	if err := ms.SetUserRole(context.Background(), otherID, "ADMIN"); err != nil {
		t.Fatalf("SetUserRole: %v", err)
	}
	recorder = doRequest(t, handler, http.MethodPatch, "/api/users/"+userID, otherToken, map[string]any{"role": "ADMIN"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("admin role change returned %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/users/"+userID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get user returned %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if payload["name"] != "Updated Name" || payload["role"] != "ADMIN" {
		t.Fatalf("unexpected profile payload: %v", payload)
	}
}

func TestSkillsOverHTTP(t *testing.T) {
	handler, _, _ := newTestServer(t)

	token, userID := loginHTTP(t, handler, "user@example.com", "User")

	recorder := doRequest(t, handler, http.MethodPost, "/api/skills", token, map[string]string{"name": "Go"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create skill returned %d: %s", recorder.Code, recorder.Body.String())
	}
	skillID := decodeJSON(t, recorder)["id"].(string)

	recorder = doRequest(t, handler, http.MethodPost, "/api/skills", token, map[string]string{"name": "Go"})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate skill returned %d, want 409", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/users/"+userID+"/skills", token, map[string]string{"skillId": skillID, "level": "EXPERT"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("set user skill returned %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/users/"+userID, token, nil)
	skills := decodeJSON(t, recorder)["skills"].([]any)
	if len(skills) != 1 || skills[0].(map[string]any)["level"] != "EXPERT" {
		t.Fatalf("unexpected user skills: %v", skills)
	}

	recorder = doRequest(t, handler, http.MethodDelete, "/api/users/"+userID+"/skills/"+skillID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete user skill returned %d", recorder.Code)
	}
}
