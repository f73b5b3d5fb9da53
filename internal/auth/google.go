package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	sharedauth "cvplus-backend/internal/shared/auth"
	"cvplus-backend/internal/shared/server/respond"
	"cvplus-backend/internal/shared/telemetry"
)

const defaultUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// SessionMigrator attaches an authenticated user to a session begun
// anonymously, so wizard progress follows the login.
type SessionMigrator interface {
	MigrateToUser(ctx context.Context, sessionID, userID string) error
}

// GoogleService handles the Google OAuth flow and the guest-session handoff
// that rides along with it: a sessionId passed to the start route is carried
// through the OAuth state and migrated to the signed-in user on callback.
type GoogleService struct {
	oauthConfig *oauth2.Config
	uiRedirect  string
	userinfoURL string
	stateTTL    time.Duration
	stateStore  *stateStore
	sessions    SessionMigrator
}

// NewGoogleService builds a GoogleService. sessions may be nil, which
// disables the session handoff.
func NewGoogleService(clientID, clientSecret, redirectURL, uiRedirect string, sessions SessionMigrator) *GoogleService {
	return &GoogleService{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		uiRedirect:  uiRedirect,
		userinfoURL: defaultUserinfoURL,
		stateTTL:    5 * time.Minute,
		stateStore:  newStateStore(),
		sessions:    sessions,
	}
}

// RegisterRoutes attaches Google auth routes.
func (s *GoogleService) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/google/start", s.start)
	rg.GET("/auth/google/callback", s.callback)
}

func (s *GoogleService) start(c *gin.Context) {
	if s.oauthConfig.ClientID == "" || s.oauthConfig.ClientSecret == "" || s.oauthConfig.RedirectURL == "" {
		respond.Error(c, http.StatusInternalServerError, "auth_not_configured", "Google auth not configured", nil)
		return
	}

	sessionID := c.Query("sessionId")
	state := uuid.NewString()
	s.stateStore.put(state, sessionID, time.Now().Add(s.stateTTL))

	telemetry.Info("auth.google.start", map[string]any{
		"pending_session": sessionID != "",
	})
	url := s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
	c.Redirect(http.StatusFound, url)
}

func (s *GoogleService) callback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "missing state or code", nil)
		return
	}

	sessionID, ok := s.stateStore.consume(state)
	if !ok {
		telemetry.Warn("auth.google.state_rejected", nil)
		respond.Error(c, http.StatusBadRequest, "invalid_request", "invalid or expired state", nil)
		return
	}

	ctx := c.Request.Context()
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		telemetry.Warn("auth.google.exchange_failed", map[string]any{
			"error": err.Error(),
		})
		respond.Error(c, http.StatusBadRequest, "invalid_request", "failed to exchange code", nil)
		return
	}

	userInfo, err := s.fetchUserInfo(ctx, token)
	if err != nil {
		telemetry.Warn("auth.google.userinfo_failed", map[string]any{
			"error": err.Error(),
		})
		respond.Error(c, http.StatusBadGateway, "auth_failed", "failed to fetch user profile", nil)
		return
	}

	if userInfo.Sub == "" {
		respond.Error(c, http.StatusBadGateway, "auth_failed", "invalid user profile", nil)
		return
	}

	userID := "google:" + userInfo.Sub
	jwt, err := sharedauth.SignJWT(sharedauth.Claims{
		Sub:     userID,
		Email:   userInfo.Email,
		Name:    userInfo.Name,
		Picture: userInfo.Picture,
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue token", nil)
		return
	}

	// The wizard session created before login follows the user; a failed
	// handoff still lets the login complete, the session just stays local.
	if sessionID != "" && s.sessions != nil {
		if err := s.sessions.MigrateToUser(ctx, sessionID, userID); err != nil {
			telemetry.Warn("auth.google.session_migrate_failed", map[string]any{
				"session_id": sessionID,
				"user_id":    userID,
				"error":      err.Error(),
			})
			sessionID = ""
		}
	}

	redirectURL, err := buildRedirect(s.uiRedirect, jwt, sessionID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to redirect", nil)
		return
	}

	telemetry.Info("auth.google.login", map[string]any{
		"user_id":          userID,
		"migrated_session": sessionID,
	})
	c.Redirect(http.StatusFound, redirectURL)
}

type googleUserInfo struct {
	Sub     string `json:"sub"`
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (s *GoogleService) fetchUserInfo(ctx context.Context, token *oauth2.Token) (googleUserInfo, error) {
	client := s.oauthConfig.Client(ctx, token)
	resp, err := client.Get(s.userinfoURL)
	if err != nil {
		return googleUserInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return googleUserInfo{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return googleUserInfo{}, err
	}

	// Some responses use "id" instead of "sub".
	if info.Sub == "" {
		info.Sub = info.ID
	}
	return info, nil
}

// stateStore holds pending OAuth states with the session each one carries.
type stateStore struct {
	items map[string]stateEntry
	mu    sync.Mutex
}

type stateEntry struct {
	sessionID string
	expires   time.Time
}

func newStateStore() *stateStore {
	return &stateStore{items: make(map[string]stateEntry)}
}

func (s *stateStore) put(state, sessionID string, exp time.Time) {
	s.mu.Lock()
	s.items[state] = stateEntry{sessionID: sessionID, expires: exp}
	s.mu.Unlock()
}

// consume removes the state and returns the session it carried. A state is
// single-use; replays and expired entries are rejected.
func (s *stateStore) consume(state string) (string, bool) {
	s.mu.Lock()
	entry, ok := s.items[state]
	if ok {
		delete(s.items, state)
	}
	s.mu.Unlock()
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.sessionID, true
}

func buildRedirect(rawURL, token, sessionID string) (string, error) {
	if rawURL == "" {
		return "", errors.New("redirect url required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
