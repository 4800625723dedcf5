package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func tokenServer(t *testing.T, grants *[]string, failRefresh bool) *httptest.Server {
	t.Helper()
	var n atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		grant := r.PostForm.Get("grant_type")
		*grants = append(*grants, grant)
		if r.PostForm.Get("client_id") != "id" || r.PostForm.Get("client_secret") != "secret" {
			t.Fatalf("client credentials not sent in params: %v", r.PostForm)
		}
		switch grant {
		case "password":
			if r.PostForm.Get("username") != "user@example.com" || r.PostForm.Get("password") != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		case "refresh_token":
			if failRefresh {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
		}
		id := n.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-" + string(rune('0'+id)),
			"refresh_token": "refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
}

func newTestManager(t *testing.T, url string) *Manager {
	t.Helper()
	m, err := NewManager(
		Declaration{Provider: "flair", TokenURL: url, Scope: "structures.view structures.edit"},
		Credentials{ClientID: "id", ClientSecret: "secret", Username: "user@example.com", Password: "hunter2"},
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestAccessTokenPasswordGrantAndCache(t *testing.T) {
	var grants []string
	server := tokenServer(t, &grants, false)
	defer server.Close()
	m := newTestManager(t, server.URL)

	tok, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "token-1" {
		t.Fatalf("token = %q", tok)
	}
	if _, err := m.AccessToken(context.Background()); err != nil {
		t.Fatalf("cached AccessToken: %v", err)
	}
	if len(grants) != 1 || grants[0] != "password" {
		t.Fatalf("grants = %v", grants)
	}
}

func TestInvalidateUsesRefreshToken(t *testing.T) {
	var grants []string
	server := tokenServer(t, &grants, false)
	defer server.Close()
	m := newTestManager(t, server.URL)

	if _, err := m.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	m.Invalidate()
	tok, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "token-2" {
		t.Fatalf("token = %q", tok)
	}
	if strings.Join(grants, ",") != "password,refresh_token" {
		t.Fatalf("grants = %v", grants)
	}
}

func TestRefreshFailureFallsBackToPassword(t *testing.T) {
	var grants []string
	server := tokenServer(t, &grants, true)
	defer server.Close()
	m := newTestManager(t, server.URL)

	if _, err := m.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	m.Invalidate()
	if _, err := m.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if strings.Join(grants, ",") != "password,refresh_token,password" {
		t.Fatalf("grants = %v", grants)
	}
}

func TestBadPasswordSurfacesError(t *testing.T) {
	var grants []string
	server := tokenServer(t, &grants, false)
	defer server.Close()
	m, err := NewManager(
		Declaration{Provider: "flair", TokenURL: server.URL},
		Credentials{ClientID: "id", ClientSecret: "secret", Username: "user@example.com", Password: "wrong"},
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.AccessToken(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCredentialsValidate(t *testing.T) {
	err := Credentials{ClientID: "id"}.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, field := range []string{"client_secret", "username", "password"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error %q missing %s", err, field)
		}
	}
}
