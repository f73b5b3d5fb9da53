package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

type recordingMigrator struct {
	sessionID string
	userID    string
	err       error
}

func (m *recordingMigrator) MigrateToUser(ctx context.Context, sessionID, userID string) error {
	if m.err != nil {
		return m.err
	}
	m.sessionID = sessionID
	m.userID = userID
	return nil
}

func newTestGoogleService(t *testing.T, migrator SessionMigrator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer"}`))
	}))
	t.Cleanup(tokenSrv.Close)

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"abc123","email":"user@example.com","name":"Test User"}`))
	}))
	t.Cleanup(userSrv.Close)

	svc := NewGoogleService("client-id", "client-secret", "http://localhost/callback", "http://ui.local/app", migrator)
	svc.oauthConfig.Endpoint = oauth2.Endpoint{
		AuthURL:  tokenSrv.URL + "/auth",
		TokenURL: tokenSrv.URL + "/token",
	}
	svc.userinfoURL = userSrv.URL

	router := gin.New()
	svc.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func startLogin(t *testing.T, router *gin.Engine, sessionID string) string {
	t.Helper()
	target := "/api/v1/auth/google/start"
	if sessionID != "" {
		target += "?sessionId=" + sessionID
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	if resp.Code != http.StatusFound {
		t.Fatalf("expected 302 from start, got %d", resp.Code)
	}
	loc, err := url.Parse(resp.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse auth redirect: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatalf("expected state in auth redirect")
	}
	return state
}

func finishLogin(t *testing.T, router *gin.Engine, state string) *httptest.ResponseRecorder {
	t.Helper()
	resp := httptest.NewRecorder()
	target := "/api/v1/auth/google/callback?state=" + state + "&code=any-code"
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	return resp
}

func TestGoogleCallbackMigratesPendingSession(t *testing.T) {
	migrator := &recordingMigrator{}
	router := newTestGoogleService(t, migrator)

	state := startLogin(t, router, "sess-1")
	resp := finishLogin(t, router, state)
	if resp.Code != http.StatusFound {
		t.Fatalf("expected 302 from callback, got %d: %s", resp.Code, resp.Body.String())
	}

	if migrator.sessionID != "sess-1" {
		t.Fatalf("expected sess-1 migrated, got %q", migrator.sessionID)
	}
	if migrator.userID != "google:abc123" {
		t.Fatalf("expected google:abc123 as owner, got %q", migrator.userID)
	}

	loc, err := url.Parse(resp.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse ui redirect: %v", err)
	}
	if loc.Query().Get("token") == "" {
		t.Fatalf("expected token in ui redirect")
	}
	if loc.Query().Get("sessionId") != "sess-1" {
		t.Fatalf("expected sessionId in ui redirect, got %q", loc.Query().Get("sessionId"))
	}
}

func TestGoogleLoginSurvivesMigrationFailure(t *testing.T) {
	migrator := &recordingMigrator{err: errors.New("session gone")}
	router := newTestGoogleService(t, migrator)

	state := startLogin(t, router, "sess-1")
	resp := finishLogin(t, router, state)
	if resp.Code != http.StatusFound {
		t.Fatalf("expected login to complete despite handoff failure, got %d", resp.Code)
	}

	loc, err := url.Parse(resp.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse ui redirect: %v", err)
	}
	if loc.Query().Get("token") == "" {
		t.Fatalf("expected token in ui redirect")
	}
	if loc.Query().Get("sessionId") != "" {
		t.Fatalf("expected no sessionId after failed handoff, got %q", loc.Query().Get("sessionId"))
	}
}

func TestGoogleCallbackRejectsReplayedState(t *testing.T) {
	router := newTestGoogleService(t, &recordingMigrator{})

	state := startLogin(t, router, "")
	if resp := finishLogin(t, router, state); resp.Code != http.StatusFound {
		t.Fatalf("expected first callback to succeed, got %d", resp.Code)
	}
	if resp := finishLogin(t, router, state); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected replayed state to be rejected, got %d", resp.Code)
	}
}
