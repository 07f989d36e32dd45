// Package http implements the remote state gateway over the platform's
// REST API.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/crmarques/portsync/faults"
	"github.com/crmarques/portsync/gateway"
	"github.com/crmarques/portsync/resource"
)

const (
	defaultRequestTimeout = 30 * time.Second
	tokenExpirySkew       = 30 * time.Second
)

// Client talks to the platform API and implements
// gateway.RemoteStateGateway. Before use it must be initialized with Init.
type Client struct {
	config  *Config
	client  *http.Client
	baseURL *url.URL
	limiter *rate.Limiter
	log     logr.Logger

	tokenMu sync.Mutex
	token   *accessToken
}

type accessToken struct {
	Value  string
	Expiry time.Time
}

func NewClient(cfg *Config, log logr.Logger) *Client {
	return &Client{
		config: cfg,
		log:    log,
	}
}

func (c *Client) Init() error {
	if c == nil {
		return errors.New("http gateway client is nil")
	}
	if c.config == nil {
		return errors.New("http gateway configuration is required")
	}

	rawBase := strings.TrimSpace(c.config.BaseURL)
	if rawBase == "" {
		return errors.New("http gateway base-url is required")
	}
	parsed, err := url.Parse(rawBase)
	if err != nil {
		return fmt.Errorf("invalid base-url %q: %w", rawBase, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("base-url %q must include scheme and host", rawBase)
	}
	c.baseURL = parsed

	tlsCfg := &tls.Config{}
	if c.config.TLS != nil && c.config.TLS.InsecureSkipVerify {
		tlsCfg.InsecureSkipVerify = true
	}
	c.client = &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}

	if c.config.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(c.config.RequestsPerSecond), 1)
	}

	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if tr, ok := c.client.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
	return nil
}

func (c *Client) Fetch(ctx context.Context, ref gateway.Ref) (*resource.RemoteResource, error) {
	route, err := routeFor(ref)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodGet, route.readPath, nil, nil)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, categorize(err)
	}

	payload, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	payload = route.unwrap(payload)

	remote, err := resource.NewRemoteResource(payload)
	if err != nil {
		return nil, err
	}
	return &remote, nil
}

func (c *Client) Create(ctx context.Context, ref gateway.Ref, payload resource.Value, opts gateway.MutateOptions) (resource.Value, error) {
	route, err := routeFor(ref)
	if err != nil {
		return nil, err
	}
	if route.createPath == "" {
		return nil, faults.NewTypedError(
			faults.ValidationError,
			fmt.Sprintf("%s resources cannot be created through this gateway", ref.Kind),
			nil,
		)
	}
	return c.mutate(ctx, http.MethodPost, route.createPath, route, payload, opts)
}

func (c *Client) Update(ctx context.Context, ref gateway.Ref, payload resource.Value, opts gateway.MutateOptions) (resource.Value, error) {
	route, err := routeFor(ref)
	if err != nil {
		return nil, err
	}
	return c.mutate(ctx, route.updateMethod, route.updatePath, route, payload, opts)
}

func (c *Client) mutate(
	ctx context.Context,
	method string,
	path string,
	route route,
	payload resource.Value,
	opts gateway.MutateOptions,
) (resource.Value, error) {
	encoded, err := json.Marshal(route.wrap(payload))
	if err != nil {
		return nil, faults.NewTypedError(faults.InternalError, "failed to encode payload", err)
	}

	var query url.Values
	if opts.Prune {
		query = url.Values{"prune": []string{"true"}}
	}

	body, err := c.do(ctx, method, path, query, encoded)
	if err != nil {
		return nil, categorize(err)
	}

	result, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	return route.unwrap(result), nil
}

func (c *Client) do(ctx context.Context, method string, path string, query url.Values, payload []byte) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("http gateway client is not initialized")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	fullURL, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	timeout := c.config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyDefaultHeaders(req)
	if err := c.applyAuth(reqCtx, req); err != nil {
		return nil, err
	}

	c.log.V(1).Info("gateway request", "method", method, "url", fullURL)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	return nil, &HTTPError{
		Method:     method,
		URL:        fullURL,
		StatusCode: resp.StatusCode,
		Body:       body,
	}
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("http request path is required")
	}
	if c.baseURL == nil {
		return "", errors.New("http gateway base url is not configured")
	}

	rel, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}

	base := *c.baseURL
	if base.Path != "" && !strings.HasSuffix(base.Path, "/") {
		base.Path = base.Path + "/"
	}
	reqURL := base.ResolveReference(rel)

	if len(query) > 0 {
		values := reqURL.Query()
		for key, items := range query {
			for _, item := range items {
				values.Add(key, item)
			}
		}
		reqURL.RawQuery = values.Encode()
	}

	return reqURL.String(), nil
}

func (c *Client) applyDefaultHeaders(req *http.Request) {
	if c.config == nil || len(c.config.DefaultHeaders) == 0 {
		return
	}
	for key, value := range c.config.DefaultHeaders {
		if strings.TrimSpace(key) == "" || value == "" {
			continue
		}
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
}

func (c *Client) applyAuth(ctx context.Context, req *http.Request) error {
	if c.config == nil || c.config.Auth == nil {
		return nil
	}

	if cfg := c.config.Auth.ClientCredentials; cfg != nil {
		token, err := c.ensureAccessToken(ctx, cfg)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}

	if cfg := c.config.Auth.BearerToken; cfg != nil && strings.TrimSpace(cfg.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
		return nil
	}

	if cfg := c.config.Auth.CustomHeader; cfg != nil {
		header := strings.TrimSpace(cfg.Header)
		token := strings.TrimSpace(cfg.Token)
		if header != "" && token != "" {
			req.Header.Set(header, token)
		}
	}

	return nil
}

func (c *Client) ensureAccessToken(ctx context.Context, cfg *ClientCredentialsConfig) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != nil && time.Until(c.token.Expiry) > tokenExpirySkew {
		return c.token.Value, nil
	}

	token, err := c.fetchAccessToken(ctx, cfg)
	if err != nil {
		return "", err
	}
	c.token = token
	return token.Value, nil
}

// fetchAccessToken exchanges the client pair for a short-lived bearer
// token. The platform expects a JSON body, not an OAuth2 form post.
func (c *Client) fetchAccessToken(ctx context.Context, cfg *ClientCredentialsConfig) (*accessToken, error) {
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, faults.NewTypedError(faults.AuthError, "client-credentials token-url is required", nil)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, faults.NewTypedError(faults.AuthError, "client-id and client-secret are required", nil)
	}

	payload, err := json.Marshal(map[string]string{
		"clientId":     cfg.ClientID,
		"clientSecret": cfg.ClientSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, faults.NewTypedError(faults.TransportError, "token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, faults.NewTypedError(
			faults.AuthError,
			fmt.Sprintf("token request returned status %d: %s", resp.StatusCode, limitBody(body)),
			nil,
		)
	}

	var parsed struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, faults.NewTypedError(faults.AuthError, "token response missing accessToken", nil)
	}

	expiry := time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	if parsed.ExpiresIn == 0 {
		expiry = time.Now().Add(5 * time.Minute)
	}
	return &accessToken{Value: parsed.AccessToken, Expiry: expiry}, nil
}

func decodeBody(body []byte) (resource.Value, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	value, err := resource.FromJSON(body)
	if err != nil {
		return nil, faults.NewTypedError(faults.TransportError, "malformed response body", err)
	}
	return value, nil
}
