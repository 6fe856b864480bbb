package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/Mellanfrost/twitch-bot/internal/credential"
	boterr "github.com/Mellanfrost/twitch-bot/internal/errors"
	"github.com/Mellanfrost/twitch-bot/internal/metrics"
)

// AuthorizeInteractively runs the full authorization-code flow: start a
// one-shot loopback listener, open the consent page in a browser, wait
// for the redirect, verify the anti-forgery state, exchange the code,
// validate the new token, persist it, adopt it. A state mismatch is
// KindStateMismatch and must never be retried silently.
func (m *Manager) AuthorizeInteractively(ctx context.Context) (credential.Credential, error) {
	cred, err := m.authorizeInteractively(ctx)
	if err != nil {
		if boterr.IsKind(err, boterr.KindStateMismatch) {
			metrics.InteractiveAuthorizations.WithLabelValues("state_mismatch").Inc()
		} else {
			metrics.InteractiveAuthorizations.WithLabelValues("error").Inc()
		}
		return credential.Credential{}, err
	}
	metrics.InteractiveAuthorizations.WithLabelValues("success").Inc()
	return cred, nil
}

func (m *Manager) authorizeInteractively(ctx context.Context) (credential.Credential, error) {
	state, err := newStateToken()
	if err != nil {
		return credential.Credential{}, boterr.Authentication("failed to generate state token", err)
	}

	// The listener binds before the browser opens, so the redirect can
	// never race an unbound port. Close releases the port before return.
	listener, err := newCallbackListener(m.opts.CallbackPort)
	if err != nil {
		return credential.Credential{}, boterr.Authentication("failed to start callback listener", err)
	}
	defer listener.Close()

	redirectURI := fmt.Sprintf("http://localhost:%d", listener.Port())

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", m.opts.ClientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("scope", strings.Join(m.RequiredScopes(), " "))
	query.Set("state", state)
	authorizeURL := m.opts.AuthorizeURL + "?" + query.Encode()

	slog.InfoContext(ctx, "Opening browser for authorization", "redirect_uri", redirectURI)
	if err := m.opts.OpenBrowser(authorizeURL); err != nil {
		return credential.Credential{}, boterr.Authentication("failed to open browser", err)
	}

	result, err := listener.Wait(ctx)
	if err != nil {
		return credential.Credential{}, boterr.Authentication("authorization callback not received", err)
	}
	if result.state != state {
		return credential.Credential{}, boterr.StateMismatch("authorization state token does not match")
	}
	if result.code == "" {
		return credential.Credential{}, boterr.TokenExchange("authorization callback carried no code", nil)
	}

	data := url.Values{}
	data.Set("client_id", m.opts.ClientID)
	data.Set("client_secret", m.opts.ClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("code", result.code)
	data.Set("redirect_uri", redirectURI)

	cred, err := m.requestToken(ctx, data)
	if err != nil {
		return credential.Credential{}, err
	}

	if _, err := m.Validate(ctx, cred.AccessToken); err != nil {
		return credential.Credential{}, err
	}

	if err := m.adopt(cred); err != nil {
		return credential.Credential{}, err
	}

	slog.InfoContext(ctx, "Interactive authorization completed")
	return cred, nil
}

// newStateToken returns 32 bytes of randomness, URL-safe encoded.
func newStateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type callbackResult struct {
	code  string
	state string
}

// callbackListener is the one-shot loopback HTTP server that receives
// the authorization redirect. Only the first request counts; anything
// after it still gets a friendly page but is ignored.
type callbackListener struct {
	srv     *http.Server
	ln      net.Listener
	once    sync.Once
	results chan callbackResult
}

func newCallbackListener(port int) (*callbackListener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}

	l := &callbackListener{
		ln:      ln,
		results: make(chan callbackResult, 1),
	}
	l.srv = &http.Server{Handler: http.HandlerFunc(l.handle)}
	go l.srv.Serve(ln)
	return l, nil
}

func (l *callbackListener) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body>Authorization received. You can close this tab.</body></html>")

	query := r.URL.Query()
	l.once.Do(func() {
		l.results <- callbackResult{
			code:  query.Get("code"),
			state: query.Get("state"),
		}
	})
}

// Port returns the bound port. With a configured port of zero this is
// the port the kernel picked.
func (l *callbackListener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Wait blocks until the redirect arrives or the context ends.
func (l *callbackListener) Wait(ctx context.Context) (callbackResult, error) {
	select {
	case res := <-l.results:
		return res, nil
	case <-ctx.Done():
		return callbackResult{}, ctx.Err()
	}
}

// Close shuts the server down and releases the port.
func (l *callbackListener) Close() {
	l.srv.Close()
}
