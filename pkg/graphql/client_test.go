package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/replaykit/internal/cache"
)

func newServer(t *testing.T, calls *atomic.Int32, handler func(w http.ResponseWriter, req request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") == "Bearer bad-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func workspaceHandler(w http.ResponseWriter, req request) {
	json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{
			"viewer": nil,
			"auth": map[string]any{
				"workspaces": map[string]any{
					"edges": []any{
						map[string]any{"node": map[string]any{"id": "ws-1", "name": "Acme QA"}},
					},
				},
			},
		},
	})
}

func TestResolveIdentityWorkspace(t *testing.T) {
	srv := newServer(t, nil, workspaceHandler)
	c := New(srv.URL)

	id, err := c.ResolveIdentity(context.Background(), "rwk_key")
	if err != nil {
		t.Fatal(err)
	}
	if id.WorkspaceID != "ws-1" || id.WorkspaceName != "Acme QA" {
		t.Errorf("unexpected identity %+v", id)
	}
	if id.Kind() != "workspace" {
		t.Errorf("expected workspace kind, got %q", id.Kind())
	}
}

func TestResolveIdentityUser(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, req request) {
		w.Write([]byte(`{"data":{"viewer":{"user":{"id":"u-7","name":"Sam"}},"auth":{"workspaces":{"edges":[]}}}}`))
	})
	id, err := New(srv.URL).ResolveIdentity(context.Background(), "user-token")
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "u-7" || id.Kind() != "user" {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestResolveIdentityUnauthorized(t *testing.T) {
	srv := newServer(t, nil, workspaceHandler)
	c := New(srv.URL)

	if _, err := c.ResolveIdentity(context.Background(), "bad-token"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := c.ResolveIdentity(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for empty token, got %v", err)
	}
}

func TestResolveIdentityEmptyResult(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, req request) {
		w.Write([]byte(`{"data":{"viewer":null,"auth":null}}`))
	})
	if _, err := New(srv.URL).ResolveIdentity(context.Background(), "tok"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestQueryGraphQLErrors(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, req request) {
		if req.Variables["id"] != "r1" {
			t.Errorf("variables not sent: %v", req.Variables)
		}
		w.Write([]byte(`{"errors":[{"message":"not found"},{"message":"try again"}]}`))
	})

	err := New(srv.URL).Query(context.Background(), "tok", "query($id: UUID!) { recording(uuid: $id) { title } }", map[string]any{"id": "r1"}, nil)
	var ge *Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if len(ge.Messages) != 2 || ge.Error() != "graphql: not found; try again" {
		t.Errorf("unexpected error %v", ge)
	}
}

func TestQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL).Query(context.Background(), "tok", "{ x }", nil, nil)
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestResolveIdentityCached(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, &calls, workspaceHandler)
	store := cache.New(filepath.Join(t.TempDir(), cache.File))
	c := New(srv.URL, WithCache(store, time.Hour))
	ctx := context.Background()

	for range 3 {
		id, err := c.ResolveIdentity(ctx, "rwk_key")
		if err != nil {
			t.Fatal(err)
		}
		if id.WorkspaceID != "ws-1" {
			t.Errorf("unexpected identity %+v", id)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}

	// a different token is a different cache entry
	if _, err := c.ResolveIdentity(ctx, "rwk_other"); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
}

func TestCacheKeyHidesToken(t *testing.T) {
	key := cacheKey("rwk_secret")
	if key == "identity:rwk_secret" || len(key) != len("identity:")+16 {
		t.Errorf("unexpected key %q", key)
	}
}
