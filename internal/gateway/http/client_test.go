package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"

	"github.com/crmarques/portsync/faults"
	"github.com/crmarques/portsync/gateway"
	"github.com/crmarques/portsync/resource"
)

func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := NewClient(cfg, logr.Discard())
	if err := client.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestFetchUnwrapsBlueprintEnvelope(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/blueprints/service" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"blueprint": map[string]any{
				"identifier": "service",
				"title":      "Service",
				"updatedAt":  "2026-02-01T10:00:00Z",
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL})
	remote, err := client.Fetch(context.Background(), gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remote == nil {
		t.Fatalf("expected a remote resource")
	}

	obj, _ := resource.AsObject(remote.Payload)
	if obj["title"] != "Service" {
		t.Fatalf("expected the envelope to be unwrapped, got %#v", remote.Payload)
	}
	if remote.Meta.UpdatedAt.IsZero() {
		t.Fatalf("expected updatedAt to be lifted into meta, got %#v", remote.Meta)
	}
}

func TestFetchMissingResourceIsNilNil(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok": false}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL})
	remote, err := client.Fetch(context.Background(), gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "absent"})
	if err != nil {
		t.Fatalf("a missing resource is not an error, got %v", err)
	}
	if remote != nil {
		t.Fatalf("expected nil remote, got %#v", remote)
	}
}

func TestErrorCategoriesByStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status   int
		category faults.ErrorCategory
	}{
		{http.StatusUnauthorized, faults.AuthError},
		{http.StatusForbidden, faults.AuthError},
		{http.StatusConflict, faults.ConflictError},
		{http.StatusBadRequest, faults.ValidationError},
		{http.StatusUnprocessableEntity, faults.ValidationError},
		{http.StatusInternalServerError, faults.TransportError},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))

		client := newTestClient(t, &Config{BaseURL: server.URL})
		_, err := client.Update(
			context.Background(),
			gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"},
			map[string]any{"identifier": "service"},
			gateway.MutateOptions{},
		)
		server.Close()

		if !faults.IsCategory(err, tc.category) {
			t.Fatalf("status %d: expected %s, got %#v", tc.status, tc.category, err)
		}
	}
}

func TestConnectionFailureIsTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL})
	_, err := client.Fetch(context.Background(), gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"})
	if !faults.IsCategory(err, faults.TransportError) {
		t.Fatalf("expected a transport error, got %#v", err)
	}
}

func TestCreateMappingIsRejected(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &Config{BaseURL: "http://localhost:0"})
	_, err := client.Create(
		context.Background(),
		gateway.Ref{Kind: gateway.KindMapping, Identifier: "github-exporter"},
		map[string]any{"resources": []any{}},
		gateway.MutateOptions{},
	)
	if !faults.IsCategory(err, faults.ValidationError) {
		t.Fatalf("expected mappings to be update-only, got %#v", err)
	}
}

func TestUpdateMappingPatchesConfigEndpoint(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"integration": map[string]any{"config": map[string]any{"resources": []any{}}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL})
	result, err := client.Update(
		context.Background(),
		gateway.Ref{Kind: gateway.KindMapping, Identifier: "github-exporter"},
		map[string]any{"resources": []any{}},
		gateway.MutateOptions{},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", gotMethod)
	}
	if gotPath != "/v1/integration/github-exporter/config" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if _, found := gotBody["config"]; !found {
		t.Fatalf("expected the payload under a config envelope, got %#v", gotBody)
	}
	if _, ok := resource.AsObject(result); !ok {
		t.Fatalf("expected the nested config back, got %#v", result)
	}
}

func TestMutatePassesPruneQuery(t *testing.T) {
	t.Parallel()

	var gotPrune string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrune = r.URL.Query().Get("prune")
		_ = json.NewEncoder(w).Encode(map[string]any{"blueprint": map[string]any{"identifier": "service"}})
	}))
	defer server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL})
	_, err := client.Update(
		context.Background(),
		gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"},
		map[string]any{"identifier": "service"},
		gateway.MutateOptions{Prune: true},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPrune != "true" {
		t.Fatalf("expected prune=true on the request, got %q", gotPrune)
	}
}

func TestClientCredentialsTokenIsExchangedOnceAndReused(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/access_token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)

		var credentials map[string]string
		_ = json.NewDecoder(r.Body).Decode(&credentials)
		if credentials["clientId"] != "machine-user" || credentials["clientSecret"] != "shhh" {
			t.Errorf("unexpected credentials %#v", credentials)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "token-123", "expiresIn": 3600})
	})
	mux.HandleFunc("GET /v1/blueprints/service", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("unexpected authorization header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"blueprint": map[string]any{"identifier": "service"}})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, &Config{
		BaseURL: server.URL,
		Auth: &AuthConfig{
			ClientCredentials: &ClientCredentialsConfig{
				TokenURL:     server.URL + "/v1/auth/access_token",
				ClientID:     "machine-user",
				ClientSecret: "shhh",
			},
		},
	})

	ref := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}
	for range 3 {
		if _, err := client.Fetch(context.Background(), ref); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := tokenCalls.Load(); got != 1 {
		t.Fatalf("expected one token exchange for the whole run, got %d", got)
	}
}

func TestTokenExchangeFailureIsAuthError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok": false, "message": "invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, &Config{
		BaseURL: server.URL,
		Auth: &AuthConfig{
			ClientCredentials: &ClientCredentialsConfig{
				TokenURL:     server.URL + "/v1/auth/access_token",
				ClientID:     "machine-user",
				ClientSecret: "wrong",
			},
		},
	})

	_, err := client.Fetch(context.Background(), gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"})
	if !faults.IsCategory(err, faults.AuthError) {
		t.Fatalf("expected an auth error, got %#v", err)
	}
}

func TestInitRejectsInvalidBaseURL(t *testing.T) {
	t.Parallel()

	client := NewClient(&Config{BaseURL: "not-a-url"}, logr.Discard())
	if err := client.Init(); err == nil {
		t.Fatalf("expected an error for a base url without scheme and host")
	}
}

func TestBuildURLPreservesBasePath(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &Config{BaseURL: "https://api.example.com/port"})
	built, err := client.buildURL("v1/blueprints/service", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if built != "https://api.example.com/port/v1/blueprints/service" {
		t.Fatalf("unexpected url %q", built)
	}
}

func TestScorecardRouteRequiresBlueprint(t *testing.T) {
	t.Parallel()

	_, err := routeFor(gateway.Ref{Kind: gateway.KindScorecard, Identifier: "quality"})
	if !faults.IsCategory(err, faults.ValidationError) {
		t.Fatalf("expected a validation error, got %#v", err)
	}
}
