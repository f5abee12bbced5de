// Package graphql is a minimal client for the recording service's GraphQL
// API, used to resolve an access token to the user or workspace that owns it.
package graphql

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Store caches resolved identities. *cache.Cache satisfies it.
type Store interface {
	Get(key string, v any) (bool, error)
	Set(key string, v any, ttl time.Duration) error
}

// Client sends GraphQL queries over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	store      Store
	ttl        time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCache caches resolved identities in store for ttl.
func WithCache(store Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.store = store
		c.ttl = ttl
	}
}

// New creates a client for the GraphQL endpoint at url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Error is a GraphQL-level error returned with a 200 response.
type Error struct {
	Messages []string
}

func (e *Error) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// ErrUnauthorized is returned when the service rejects the token.
var ErrUnauthorized = errors.New("access token rejected")

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query runs query with variables and decodes the data field into out.
func (c *Client) Query(ctx context.Context, token, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var gr response
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if len(gr.Errors) > 0 {
		ge := &Error{}
		for _, e := range gr.Errors {
			ge.Messages = append(ge.Messages, e.Message)
		}
		return ge
	}
	if out == nil || len(gr.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("decoding data: %w", err)
	}
	return nil
}

// Identity is the owner of an access token. API keys belong to a
// workspace; personal tokens belong to a user.
type Identity struct {
	UserID        string `json:"userId,omitempty"`
	UserName      string `json:"userName,omitempty"`
	WorkspaceID   string `json:"workspaceId,omitempty"`
	WorkspaceName string `json:"workspaceName,omitempty"`
}

// Kind returns "workspace", "user" or "" for an empty identity.
func (id *Identity) Kind() string {
	switch {
	case id.WorkspaceID != "":
		return "workspace"
	case id.UserID != "":
		return "user"
	}
	return ""
}

const identityQuery = `query GetAuthInfo {
  viewer {
    user { id name }
  }
  auth {
    workspaces { edges { node { id name } } }
  }
}`

type identityData struct {
	Viewer *struct {
		User *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"user"`
	} `json:"viewer"`
	Auth *struct {
		Workspaces struct {
			Edges []struct {
				Node struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"workspaces"`
	} `json:"auth"`
}

// ResolveIdentity returns the user or workspace that owns token. Results are
// cached when the client has a Store; cache failures only cost a lookup.
func (c *Client) ResolveIdentity(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	key := cacheKey(token)
	if c.store != nil {
		var cached Identity
		if ok, err := c.store.Get(key, &cached); err != nil {
			slog.Debug("identity cache read failed", "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	var data identityData
	if err := c.Query(ctx, token, identityQuery, nil, &data); err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	id := &Identity{}
	if data.Viewer != nil && data.Viewer.User != nil {
		id.UserID = data.Viewer.User.ID
		id.UserName = data.Viewer.User.Name
	}
	if data.Auth != nil && len(data.Auth.Workspaces.Edges) > 0 {
		ws := data.Auth.Workspaces.Edges[0].Node
		id.WorkspaceID = ws.ID
		id.WorkspaceName = ws.Name
	}
	if id.Kind() == "" {
		return nil, fmt.Errorf("resolve identity: %w", ErrUnauthorized)
	}

	if c.store != nil {
		if err := c.store.Set(key, id, c.ttl); err != nil {
			slog.Debug("identity cache write failed", "error", err)
		}
	}
	return id, nil
}

// cacheKey keeps raw tokens out of the cache file.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "identity:" + hex.EncodeToString(sum[:8])
}
