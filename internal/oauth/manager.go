package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const expiryMargin = 30 * time.Second

// Manager obtains access tokens with the password grant, refreshes them with
// the refresh token while it works, and falls back to the password grant.
type Manager struct {
	decl       Declaration
	username   string
	password   string
	httpClient *http.Client
	config     *oauth2.Config

	mu              sync.Mutex
	token           *oauth2.Token
	refreshInFlight bool
}

func NewManager(decl Declaration, creds Credentials) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		decl:       decl,
		username:   creds.Username,
		password:   creds.Password,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  decl.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: strings.Fields(decl.Scope),
		},
	}, nil
}

// Start keeps the token fresh in the background until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.StartWithInterval(ctx, DefaultRefreshInterval)
}

func (m *Manager) StartWithInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	threshold := max(interval, expiryMargin)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshIfNeeded(ctx, threshold)
			}
		}
	}()
}

// AccessToken returns a valid token, fetching one if the cached token is
// missing or about to expire.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.validLocked(expiryMargin) {
		return m.token.AccessToken, nil
	}
	if err := m.fetchLocked(ctx); err != nil {
		return "", err
	}
	return m.token.AccessToken, nil
}

// Invalidate drops the cached access token so the next call fetches anew.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil {
		m.token.AccessToken = ""
	}
	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
}

// TriggerRefresh invalidates the token and refetches it in the background.
func (m *Manager) TriggerRefresh(ctx context.Context) {
	m.mu.Lock()
	if m.refreshInFlight {
		m.mu.Unlock()
		return
	}
	m.refreshInFlight = true
	m.mu.Unlock()

	m.Invalidate()
	go func() {
		defer func() {
			m.mu.Lock()
			m.refreshInFlight = false
			m.mu.Unlock()
		}()
		_, _ = m.AccessToken(context.WithoutCancel(ctx))
	}()
}

func (m *Manager) refreshIfNeeded(ctx context.Context, threshold time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validLocked(threshold) || m.refreshInFlight {
		return
	}
	_ = m.fetchLocked(ctx)
}

func (m *Manager) validLocked(margin time.Duration) bool {
	if m.token == nil || m.token.AccessToken == "" {
		return false
	}
	if m.token.Expiry.IsZero() {
		return true
	}
	return time.Until(m.token.Expiry) > margin
}

func (m *Manager) fetchLocked(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	if m.token != nil && m.token.RefreshToken != "" {
		token, err := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: m.token.RefreshToken}).Token()
		if err == nil {
			m.store(token, "refresh_token")
			return nil
		}
		refreshFailure.WithLabelValues(m.decl.Provider, "refresh_token").Inc()
	}

	token, err := m.config.PasswordCredentialsToken(ctx, m.username, m.password)
	if err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider, "password").Inc()
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			body := strings.TrimSpace(string(retrieveErr.Body))
			return fmt.Errorf("%s token request failed %d: %s", m.decl.Provider, retrieveErr.Response.StatusCode, body)
		}
		return fmt.Errorf("%s token request: %w", m.decl.Provider, err)
	}
	m.store(token, "password")
	return nil
}

func (m *Manager) store(token *oauth2.Token, grant string) {
	if token.RefreshToken == "" && m.token != nil {
		token.RefreshToken = m.token.RefreshToken
	}
	m.token = token
	refreshSuccess.WithLabelValues(m.decl.Provider, grant).Inc()
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)
}
