package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/moneykeeper/authkit/internal/api"
	"github.com/moneykeeper/authkit/internal/tokenstore"
)

func newClient(t *testing.T, opts Options) *http.Client {
	t.Helper()
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &http.Client{Transport: a}
}

func TestAttachesBearerAndRequestID(t *testing.T) {
	store := tokenstore.NewMemory()
	store.SetAccessToken("access-1")
	store.SetRefreshToken("refresh-1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("Authorization = %q, want bearer access-1", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("X-Request-ID not set")
		}
	}))
	defer srv.Close()

	client := newClient(t, Options{
		Store:   store,
		Refresh: func(ctx context.Context) error { return nil },
	})
	resp, err := client.Get(srv.URL + "/api/entries/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	drain(resp)
}

func TestNoHeaderWithoutAccessToken(t *testing.T) {
	store := tokenstore.NewMemory()
	store.SetRefreshToken("refresh-1")

	var sawAuth atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			sawAuth.Store(true)
		}
	}))
	defer srv.Close()

	client := newClient(t, Options{
		Store:   store,
		Refresh: func(ctx context.Context) error { return nil },
	})
	resp, err := client.Get(srv.URL + "/api/entries/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	drain(resp)
	if sawAuth.Load() {
		t.Error("Authorization header sent without an access token")
	}
}

func TestRefreshAndReplayOnce(t *testing.T) {
	store := tokenstore.NewMemory()
	store.SetAccessToken("stale")
	store.SetRefreshToken("refresh-1")

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			if got := r.Header.Get("Authorization"); got != "Bearer stale" {
				t.Errorf("first attempt Authorization = %q", got)
			}
			w.WriteHeader(http.StatusUnauthorized)
		case 2:
			if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
				t.Errorf("replay Authorization = %q, want bearer fresh", got)
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"amount":100}` {
				t.Errorf("replay body = %q, body was not rewound", body)
			}
			w.WriteHeader(http.StatusCreated)
		default:
			t.Error("request sent more than twice")
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	var refreshed atomic.Int32
	client := newClient(t, Options{
		Store: store,
		Refresh: func(ctx context.Context) error {
			refreshed.Add(1)
			return store.SetAccessToken("fresh")
		},
	})

	resp, err := client.Post(srv.URL+"/api/entries/", "application/json",
		strings.NewReader(`{"amount":100}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	drain(resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if refreshed.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", refreshed.Load())
	}
}

func TestSecond401IsReturnedNotRetried(t *testing.T) {
	store := tokenstore.NewMemory()
	store.SetAccessToken("stale")
	store.SetRefreshToken("refresh-1")

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newClient(t, Options{
		Store:   store,
		Refresh: func(ctx context.Context) error { return store.SetAccessToken("fresh") },
	})
	resp, err := client.Get(srv.URL + "/api/entries/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	drain(resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want the second 401 passed through", resp.StatusCode)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hit %d times, want exactly 2", hits.Load())
	}
}

func TestNoRefreshTokenExpiresSession(t *testing.T) {
	store := tokenstore.NewMemory()
	store.SetAccessToken("stale")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var expired atomic.Bool
	refreshCalled := false
	client := newClient(t, Options{
		Store: store,
		Refresh: func(ctx context.Context) error {
			refreshCalled = true
			return nil
		},
		OnSessionExpired: func() { expired.Store(true) },
	})

	_, err := client.Get(srv.URL + "/api/entries/")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if refreshCalled {
		t.Error("refresh must not be attempted without a refresh token")
	}
	if !expired.Load() {
		t.Error("OnSessionExpired hook not called")
	}
	if store.AccessToken() != "" {
		t.Error("tokens not cleared after unrecoverable 401")
	}
}

func TestRefreshFailureExpiresSession(t *testing.T) {
	store := tokenstore.NewMemory()
	store.SetAccessToken("stale")
	store.SetRefreshToken("refresh-1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var expired atomic.Bool
	client := newClient(t, Options{
		Store:            store,
		Refresh:          func(ctx context.Context) error { return errors.New("refresh rejected") },
		OnSessionExpired: func() { expired.Store(true) },
	})

	_, err := client.Get(srv.URL + "/api/entries/")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if !expired.Load() {
		t.Error("OnSessionExpired hook not called")
	}
	if store.RefreshToken() != "" {
		t.Error("tokens not cleared after failed refresh")
	}
}

func TestAuthPathsAreExempt(t *testing.T) {
	store := tokenstore.NewMemory()
	store.SetAccessToken("access-1")
	store.SetRefreshToken("refresh-1")

	refreshCalled := false
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "" {
			t.Errorf("%s carries Authorization, auth endpoints must not", r.URL.Path)
		}
		// A 401 from an auth endpoint must pass straight through.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newClient(t, Options{
		Store: store,
		Refresh: func(ctx context.Context) error {
			refreshCalled = true
			return nil
		},
	})

	for _, path := range []string{api.PathLogin, api.PathRegister, api.PathRefresh} {
		resp, err := client.Post(srv.URL+path, "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("Post %s: %v", path, err)
		}
		drain(resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want untouched 401", path, resp.StatusCode)
		}
	}
	if refreshCalled {
		t.Error("refresh triggered by an auth endpoint")
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hit %d times, want 3 (no replays)", got)
	}
}

func TestAuthPathMatchesUnderPrefix(t *testing.T) {
	if !isAuthPath("/finance" + api.PathRefresh) {
		t.Error("prefixed refresh path not recognised as exempt")
	}
	if isAuthPath("/api/entries/") {
		t.Error("regular path flagged as auth path")
	}
}

func TestCallerRequestIsNotMutated(t *testing.T) {
	store := tokenstore.NewMemory()
	store.SetAccessToken("access-1")
	store.SetRefreshToken("refresh-1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	a, err := New(Options{
		Store:   store,
		Refresh: func(ctx context.Context) error { return nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/entries/", nil)
	resp, err := a.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	drain(resp)
	if req.Header.Get("Authorization") != "" {
		t.Error("RoundTrip mutated the caller's request headers")
	}
}
