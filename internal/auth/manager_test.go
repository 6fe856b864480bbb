package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mellanfrost/twitch-bot/internal/credential"
	boterr "github.com/Mellanfrost/twitch-bot/internal/errors"
)

type stubScopes []string

func (s stubScopes) ActiveScopes() []string { return s }

// provider fakes the identity endpoints: /validate and /token. Tokens it
// issues are valid for the scopes in grantScopes.
type provider struct {
	mu            sync.Mutex
	validScopes   map[string][]string
	grantScopes   []string
	refreshStatus int // 0 means success
	grantsSeen    []string
}

func newProvider(grantScopes []string) *provider {
	return &provider{
		validScopes: make(map[string][]string),
		grantScopes: grantScopes,
	}
}

func (p *provider) accept(token string, scopes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validScopes[token] = scopes
}

func (p *provider) grants() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.grantsSeen...)
}

func (p *provider) handleValidate(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "OAuth ")
	p.mu.Lock()
	scopes, ok := p.validScopes[token]
	p.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"scopes": scopes})
}

func (p *provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	grant := r.FormValue("grant_type")

	p.mu.Lock()
	p.grantsSeen = append(p.grantsSeen, grant)
	refreshStatus := p.refreshStatus
	p.mu.Unlock()

	switch grant {
	case "refresh_token":
		if refreshStatus != 0 {
			w.WriteHeader(refreshStatus)
			return
		}
		p.issue(w, "refreshed")
	case "authorization_code":
		if r.FormValue("code") == "" || r.FormValue("redirect_uri") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p.issue(w, "authorized")
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (p *provider) issue(w http.ResponseWriter, prefix string) {
	access := prefix + "-access"
	p.mu.Lock()
	p.validScopes[access] = p.grantScopes
	scopes := p.grantScopes
	p.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"refresh_token": prefix + "-refresh",
		"scope":         scopes,
	})
}

func (p *provider) serve(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/validate", p.handleValidate)
	mux.HandleFunc("/token", p.handleToken)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, p *provider, active []string, browser func(string) error) (*Manager, string) {
	t.Helper()
	srv := p.serve(t)

	path := filepath.Join(t.TempDir(), ".env")
	store := credential.NewStore(path)

	m, err := NewManager(store, stubScopes(active), Options{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		TokenURL:      srv.URL + "/token",
		ValidateURL:   srv.URL + "/validate",
		AuthorizeURL:  srv.URL + "/authorize",
		CallbackPort:  0,
		DefaultScopes: []string{"user:write:chat"},
		OpenBrowser:   browser,
	})
	require.NoError(t, err)
	return m, path
}

// consentBrowser simulates the user approving the consent page: it parses
// the authorization URL and immediately performs the redirect callback.
func consentBrowser(t *testing.T, stateOverride string, capturedScope *string) func(string) error {
	t.Helper()
	return func(authorizeURL string) error {
		u, err := url.Parse(authorizeURL)
		if err != nil {
			return err
		}
		q := u.Query()
		if capturedScope != nil {
			*capturedScope = q.Get("scope")
		}
		state := q.Get("state")
		if stateOverride != "" {
			state = stateOverride
		}

		callback := q.Get("redirect_uri") + "/?" + url.Values{
			"code":  {"consent-code"},
			"state": {state},
		}.Encode()
		resp, err := http.Get(callback)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func TestManager_Validate(t *testing.T) {
	p := newProvider(nil)
	p.accept("good-token", []string{"user:write:chat", "moderator:read:followers"})
	m, _ := newTestManager(t, p, []string{"moderator:read:followers"}, nil)

	scopes, err := m.Validate(context.Background(), "good-token")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:write:chat", "moderator:read:followers"}, scopes)
}

func TestManager_Validate_Rejected(t *testing.T) {
	p := newProvider(nil)
	m, _ := newTestManager(t, p, nil, nil)

	_, err := m.Validate(context.Background(), "expired-token")
	require.Error(t, err)
	assert.True(t, boterr.IsUnauthorized(err))
}

func TestManager_Validate_ScopeShortfall(t *testing.T) {
	p := newProvider(nil)
	// Token is valid but lacks the follower scope required by the active
	// registration, so it is unusable for this process.
	p.accept("narrow-token", []string{"user:write:chat"})
	m, _ := newTestManager(t, p, []string{"moderator:read:followers"}, nil)

	_, err := m.Validate(context.Background(), "narrow-token")
	require.Error(t, err)
	assert.True(t, boterr.IsUnauthorized(err))
}

func TestManager_Validate_EmptyToken(t *testing.T) {
	m, _ := newTestManager(t, newProvider(nil), nil, nil)

	_, err := m.Validate(context.Background(), "")
	assert.True(t, boterr.IsUnauthorized(err))
}

func TestManager_Refresh_PersistsBeforeAdopt(t *testing.T) {
	p := newProvider([]string{"user:write:chat"})
	m, path := newTestManager(t, p, nil, nil)
	require.NoError(t, godotenv.Write(map[string]string{
		"ACCESS_TOKEN":  "old-access",
		"REFRESH_TOKEN": "old-refresh",
	}, path))
	seedCredential(t, m, "old-access", "old-refresh")

	cred, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", cred.AccessToken)
	assert.Equal(t, "refreshed-refresh", cred.RefreshToken)

	// Persisted state and in-memory state agree.
	onDisk, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", onDisk["ACCESS_TOKEN"])
	assert.Equal(t, "refreshed-refresh", onDisk["REFRESH_TOKEN"])
	assert.Equal(t, cred.AccessToken, m.AccessToken())
}

func TestManager_Refresh_Rejected(t *testing.T) {
	p := newProvider(nil)
	p.refreshStatus = http.StatusUnauthorized
	m, _ := newTestManager(t, p, nil, nil)
	seedCredential(t, m, "old-access", "revoked-refresh")

	_, err := m.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, boterr.IsUnauthorized(err))
	// The old credential stays in place.
	assert.Equal(t, "old-access", m.AccessToken())
}

func TestManager_Refresh_BadRequestIsUnauthorized(t *testing.T) {
	p := newProvider(nil)
	p.refreshStatus = http.StatusBadRequest
	m, _ := newTestManager(t, p, nil, nil)
	seedCredential(t, m, "old-access", "revoked-refresh")

	_, err := m.Refresh(context.Background())
	assert.True(t, boterr.IsUnauthorized(err))
}

func TestManager_Refresh_ServerError(t *testing.T) {
	p := newProvider(nil)
	p.refreshStatus = http.StatusInternalServerError
	m, _ := newTestManager(t, p, nil, nil)
	seedCredential(t, m, "old-access", "old-refresh")

	_, err := m.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, boterr.IsKind(err, boterr.KindTokenExchange))
}

func TestManager_Refresh_NoRefreshToken(t *testing.T) {
	m, _ := newTestManager(t, newProvider(nil), nil, nil)

	_, err := m.Refresh(context.Background())
	assert.True(t, boterr.IsUnauthorized(err))
}

func TestManager_AuthorizeInteractively(t *testing.T) {
	p := newProvider([]string{"user:write:chat", "moderator:read:followers"})

	var requestedScope string
	m, path := newTestManager(t, p, []string{"moderator:read:followers"}, consentBrowser(t, "", &requestedScope))

	cred, err := m.AuthorizeInteractively(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "authorized-access", cred.AccessToken)
	assert.Equal(t, "authorized-refresh", cred.RefreshToken)

	// Requested scopes are exactly defaults plus active registration scopes.
	assert.ElementsMatch(t,
		[]string{"user:write:chat", "moderator:read:followers"},
		strings.Fields(requestedScope))

	onDisk, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "authorized-access", onDisk["ACCESS_TOKEN"])
	assert.Equal(t, cred.AccessToken, m.AccessToken())
}

func TestManager_AuthorizeInteractively_StateMismatch(t *testing.T) {
	p := newProvider([]string{"user:write:chat"})
	m, _ := newTestManager(t, p, nil, consentBrowser(t, "forged-state", nil))

	_, err := m.AuthorizeInteractively(context.Background())
	require.Error(t, err)
	assert.True(t, boterr.IsKind(err, boterr.KindStateMismatch))
	assert.True(t, boterr.IsFatal(err))
	// No code exchange happens after a forged state.
	assert.Empty(t, p.grants())
}

func TestManager_AuthorizeInteractively_ContextCancelled(t *testing.T) {
	p := newProvider(nil)
	// Browser never completes the redirect.
	m, _ := newTestManager(t, p, nil, func(string) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.AuthorizeInteractively(ctx)
	require.Error(t, err)
	assert.True(t, boterr.IsKind(err, boterr.KindAuthentication))
}

func TestManager_EnsureValid_CurrentTokenStillValid(t *testing.T) {
	p := newProvider(nil)
	p.accept("live-token", []string{"user:write:chat"})
	m, _ := newTestManager(t, p, nil, nil)
	seedCredential(t, m, "live-token", "live-refresh")

	cred, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live-token", cred.AccessToken)
	assert.Empty(t, p.grants())
}

func TestManager_EnsureValid_RefreshRecovers(t *testing.T) {
	p := newProvider([]string{"user:write:chat"})
	m, _ := newTestManager(t, p, nil, nil)
	seedCredential(t, m, "expired-token", "good-refresh")

	cred, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", cred.AccessToken)
	assert.Equal(t, []string{"refresh_token"}, p.grants())
}

func TestManager_EnsureValid_RefreshRejectedFallsToInteractive(t *testing.T) {
	p := newProvider([]string{"user:write:chat"})
	p.refreshStatus = http.StatusUnauthorized
	m, _ := newTestManager(t, p, nil, consentBrowser(t, "", nil))
	seedCredential(t, m, "expired-token", "revoked-refresh")

	cred, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "authorized-access", cred.AccessToken)
	assert.Equal(t, []string{"refresh_token", "authorization_code"}, p.grants())
}

func TestManager_EnsureValid_BothFail(t *testing.T) {
	p := newProvider([]string{"user:write:chat"})
	p.refreshStatus = http.StatusUnauthorized
	// Browser errors out instead of completing the flow.
	m, _ := newTestManager(t, p, nil, func(string) error {
		return assert.AnError
	})
	seedCredential(t, m, "expired-token", "revoked-refresh")

	_, err := m.EnsureValid(context.Background())
	require.Error(t, err)
	assert.True(t, boterr.IsKind(err, boterr.KindAuthentication))
	assert.True(t, boterr.IsFatal(err))
}

func TestManager_RequiredScopes_Union(t *testing.T) {
	m, _ := newTestManager(t, newProvider(nil),
		[]string{"moderator:read:followers", "user:write:chat"}, nil)

	assert.Equal(t,
		[]string{"moderator:read:followers", "user:write:chat"},
		m.RequiredScopes())
}

func seedCredential(t *testing.T, m *Manager, access, refresh string) {
	t.Helper()
	require.NoError(t, m.adopt(credential.Credential{AccessToken: access, RefreshToken: refresh}))
}
