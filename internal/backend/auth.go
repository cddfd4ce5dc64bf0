package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/robofleet/internal/kv"
)

// KeyTokenState is the cache key holding the newest refresh token.
const KeyTokenState = "backend_token"

const tokenStateVersion = 1

// AuthConfig selects how bearer tokens are obtained. A refresh token with a
// token URL wins over a static access token.
type AuthConfig struct {
	AccessToken  string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scopes       []string
}

func (a AuthConfig) refreshing() bool {
	return a.TokenURL != "" && a.RefreshToken != ""
}

func (a AuthConfig) Validate() error {
	if a.refreshing() {
		if a.ClientID == "" {
			return fmt.Errorf("auth client_id is required with a refresh token")
		}
		return nil
	}
	if strings.TrimSpace(a.AccessToken) == "" {
		return fmt.Errorf("auth requires an access token or a refresh token with token_url")
	}
	return nil
}

// tokenState is the persisted refresh state. Servers that rotate refresh
// tokens invalidate the configured one after the first refresh.
type tokenState struct {
	SchemaVersion int       `json:"schema_version"`
	ClientID      string    `json:"client_id"`
	RefreshToken  string    `json:"refresh_token"`
	Scope         string    `json:"scope,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
}

// tokenSource builds the oauth2 source. httpClient carries the token
// endpoint requests so they share timeouts with the API client. cache is
// optional; without it rotated refresh tokens live in memory only.
func tokenSource(ctx context.Context, auth AuthConfig, httpClient *http.Client, cache kv.Store, logger *slog.Logger) (oauth2.TokenSource, error) {
	if err := auth.Validate(); err != nil {
		return nil, err
	}
	if !auth.refreshing() {
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: strings.TrimSpace(auth.AccessToken),
			TokenType:   "Bearer",
		}), nil
	}
	src := &refreshingSource{
		ctx: context.WithValue(ctx, oauth2.HTTPClient, httpClient),
		config: &oauth2.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: auth.TokenURL},
			Scopes:       auth.Scopes,
		},
		cache:        cache,
		log:          logger,
		refreshToken: auth.RefreshToken,
	}
	src.loadState(ctx)
	return src, nil
}

// refreshingSource exchanges the newest refresh token on every call. Wrap
// it in oauth2.ReuseTokenSource to cache access tokens.
type refreshingSource struct {
	ctx    context.Context
	config *oauth2.Config
	cache  kv.Store
	log    *slog.Logger

	mu           sync.Mutex
	refreshToken string
}

func (s *refreshingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	current := s.refreshToken
	s.mu.Unlock()

	token, err := s.config.TokenSource(s.ctx, &oauth2.Token{RefreshToken: current}).Token()
	if err != nil {
		refreshFailure.Inc()
		tokenValid.Set(0)
		return nil, tokenError(err)
	}
	refreshSuccess.Inc()
	tokenValid.Set(1)

	if token.RefreshToken != "" && token.RefreshToken != current {
		s.mu.Lock()
		s.refreshToken = token.RefreshToken
		s.mu.Unlock()
		s.saveState(token.RefreshToken)
	}
	return token, nil
}

func (s *refreshingSource) scope() string {
	return strings.Join(s.config.Scopes, " ")
}

// loadState prefers a cached refresh token issued to the same client and
// scope over the configured one.
func (s *refreshingSource) loadState(ctx context.Context) {
	if s.cache == nil {
		return
	}
	raw, err := s.cache.Get(ctx, KeyTokenState)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn("token state unreadable", "error", err)
		}
		return
	}
	var state tokenState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		s.log.Warn("token state corrupt", "error", err)
		return
	}
	switch {
	case state.SchemaVersion != tokenStateVersion, state.RefreshToken == "":
		return
	case state.ClientID != s.config.ClientID:
		s.log.Info("ignoring cached refresh token for another client", "client_id", state.ClientID)
		return
	case state.Scope != s.scope():
		scopeMismatch.Inc()
		s.log.Warn("ignoring cached refresh token with different scope", "cached", state.Scope, "configured", s.scope())
		return
	}
	s.refreshToken = state.RefreshToken
}

func (s *refreshingSource) saveState(refreshToken string) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(tokenState{
		SchemaVersion: tokenStateVersion,
		ClientID:      s.config.ClientID,
		RefreshToken:  refreshToken,
		Scope:         s.scope(),
		SavedAt:       time.Now().UTC(),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, KeyTokenState, string(data)); err != nil {
		persistOK.Set(0)
		s.log.Warn("persist refresh token failed", "error", err)
		return
	}
	persistOK.Set(1)
}

// tokenError flattens oauth2 retrieve failures into a readable message.
func tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		body := strings.TrimSpace(string(retrieveErr.Body))
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return fmt.Errorf("%w: token refresh failed %d: %s", ErrUnauthorized, status, body)
	}
	return err
}
