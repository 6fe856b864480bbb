package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Mellanfrost/twitch-bot/internal/credential"
	boterr "github.com/Mellanfrost/twitch-bot/internal/errors"
	"github.com/Mellanfrost/twitch-bot/internal/metrics"
)

const httpCallTimeout = 10 * time.Second

// ScopeSource reports the scopes required by the currently active
// subscription registrations.
type ScopeSource interface {
	ActiveScopes() []string
}

// Options configures a Manager. URLs are configurable for testing; zero
// values must be filled by the caller (config package carries the
// production defaults).
type Options struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	ValidateURL  string
	AuthorizeURL string
	CallbackPort int

	// DefaultScopes are always requested, independent of registrations.
	DefaultScopes []string

	// OpenBrowser opens the authorization URL. Nil means the system
	// browser, or BrowserCommand when set.
	OpenBrowser func(url string) error

	// BrowserCommand overrides the platform default browser launcher.
	BrowserCommand string

	HTTPClient *http.Client
}

// Manager owns the bot's credential: it validates, refreshes, and when
// everything else fails re-authorizes interactively. It is the sole
// writer of the credential; every mutation is persisted before being
// adopted in memory, under one mutex, so concurrent readers never observe
// a token that is not yet durable.
type Manager struct {
	store  *credential.Store
	scopes ScopeSource
	opts   Options
	httpc  *http.Client

	mu   sync.Mutex
	cred credential.Credential

	ensureGroup singleflight.Group
}

// NewManager creates a Manager and loads the persisted credential.
func NewManager(store *credential.Store, scopes ScopeSource, opts Options) (*Manager, error) {
	cred, err := store.Load()
	if err != nil {
		return nil, err
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: httpCallTimeout}
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = systemBrowser(opts.BrowserCommand)
	}

	return &Manager{
		store:  store,
		scopes: scopes,
		opts:   opts,
		httpc:  httpc,
		cred:   cred,
	}, nil
}

// Current returns the credential as of now.
func (m *Manager) Current() credential.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// AccessToken returns the current access token. Callers racing a refresh
// see either the old persisted token or the new one, never an
// intermediate state.
func (m *Manager) AccessToken() string {
	return m.Current().AccessToken
}

// RequiredScopes is the minimal scope set: default scopes plus the union
// of scopes of every registration with at least one handler.
func (m *Manager) RequiredScopes() []string {
	set := make(map[string]struct{})
	for _, s := range m.opts.DefaultScopes {
		set[s] = struct{}{}
	}
	for _, s := range m.scopes.ActiveScopes() {
		set[s] = struct{}{}
	}
	scopes := make([]string, 0, len(set))
	for s := range set {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// Validate calls the validation endpoint and checks the granted scopes
// cover the required set. A 401 or a scope shortfall is KindUnauthorized;
// any other non-success status is KindValidation.
func (m *Manager) Validate(ctx context.Context, token string) ([]string, error) {
	if token == "" {
		return nil, boterr.Unauthorized("no access token present")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.opts.ValidateURL, nil)
	if err != nil {
		return nil, boterr.Validation("failed to create validate request", err)
	}
	req.Header.Set("Authorization", "OAuth "+token)

	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, boterr.Validation("failed to call validate endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, boterr.Unauthorized("validation endpoint rejected token")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, boterr.Validation(fmt.Sprintf("validate endpoint returned status %d", resp.StatusCode), nil)
	}

	var result struct {
		Scopes []string `json:"scopes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, boterr.Validation("failed to decode validate response", err)
	}

	granted := credential.Credential{Scopes: result.Scopes}
	if !granted.HasScopes(m.RequiredScopes()) {
		return nil, boterr.Unauthorized("token scopes do not cover required scopes")
	}

	return result.Scopes, nil
}

// Refresh exchanges the refresh token for a new credential. The new pair
// is persisted before adoption. A rejected refresh token (400/401) is
// KindUnauthorized; any other non-success status is KindTokenExchange.
func (m *Manager) Refresh(ctx context.Context) (credential.Credential, error) {
	refreshToken := m.Current().RefreshToken
	if refreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues("unauthorized").Inc()
		return credential.Credential{}, boterr.Unauthorized("no refresh token present")
	}

	data := url.Values{}
	data.Set("client_id", m.opts.ClientID)
	data.Set("client_secret", m.opts.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	cred, err := m.requestToken(ctx, data)
	if err != nil {
		if boterr.IsUnauthorized(err) {
			metrics.TokenRefreshes.WithLabelValues("unauthorized").Inc()
		} else {
			metrics.TokenRefreshes.WithLabelValues("error").Inc()
		}
		return credential.Credential{}, err
	}

	if err := m.adopt(cred); err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return credential.Credential{}, err
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	slog.InfoContext(ctx, "Access token refreshed")
	return cred, nil
}

// EnsureValid makes the credential usable again: validate the current
// token, refresh on failure, and as a last resort run the interactive
// authorization flow. Concurrent callers collapse into one cycle. When
// refresh and interactive authorization both fail the error is
// KindAuthentication, which the supervisor must not retry.
func (m *Manager) EnsureValid(ctx context.Context) (credential.Credential, error) {
	v, err, _ := m.ensureGroup.Do("ensure", func() (any, error) {
		return m.ensureValid(ctx)
	})
	if err != nil {
		return credential.Credential{}, err
	}
	return v.(credential.Credential), nil
}

func (m *Manager) ensureValid(ctx context.Context) (credential.Credential, error) {
	current := m.Current()

	scopes, err := m.Validate(ctx, current.AccessToken)
	if err == nil {
		current.Scopes = scopes
		m.setScopes(scopes)
		return current, nil
	}
	if !boterr.IsUnauthorized(err) {
		return credential.Credential{}, err
	}

	slog.InfoContext(ctx, "Access token invalid, attempting refresh")
	cred, refreshErr := m.Refresh(ctx)
	if refreshErr == nil {
		// A refreshed token keeps its original grant; it may still lack
		// scopes a newly activated registration requires.
		scopes, validateErr := m.Validate(ctx, cred.AccessToken)
		if validateErr == nil {
			cred.Scopes = scopes
			m.setScopes(scopes)
			return cred, nil
		}
		if !boterr.IsUnauthorized(validateErr) {
			return credential.Credential{}, validateErr
		}
		refreshErr = validateErr
	}
	if ctx.Err() != nil {
		return credential.Credential{}, refreshErr
	}

	slog.InfoContext(ctx, "Token refresh failed, starting interactive authorization", "error", refreshErr)
	cred, authErr := m.AuthorizeInteractively(ctx)
	if authErr == nil {
		return cred, nil
	}
	if boterr.IsKind(authErr, boterr.KindStateMismatch) {
		// Forgery detection is never folded into a generic failure.
		return credential.Credential{}, authErr
	}
	return credential.Credential{}, boterr.Authentication(
		"token refresh and interactive authorization both failed", authErr)
}

// requestToken posts form data to the token endpoint and decodes the
// credential from the response.
func (m *Manager) requestToken(ctx context.Context, data url.Values) (credential.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return credential.Credential{}, boterr.TokenExchange("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return credential.Credential{}, boterr.TokenExchange("failed to call token endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return credential.Credential{}, boterr.TokenExchange("failed to read token response", err)
	}

	// 400 covers a revoked refresh token, which needs re-authorization
	// just like a 401.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return credential.Credential{}, boterr.Unauthorized(
			fmt.Sprintf("token endpoint returned status %d: %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return credential.Credential{}, boterr.TokenExchange(
			fmt.Sprintf("token endpoint returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var result struct {
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
		Scope        []string `json:"scope"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return credential.Credential{}, boterr.TokenExchange("failed to decode token response", err)
	}

	return credential.Credential{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Scopes:       result.Scope,
	}, nil
}

// adopt persists the credential and only then makes it visible to
// readers. A persist failure keeps the old credential in memory.
func (m *Manager) adopt(cred credential.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Persist(cred); err != nil {
		return err
	}
	m.cred = cred
	return nil
}

func (m *Manager) setScopes(scopes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred.Scopes = scopes
}
