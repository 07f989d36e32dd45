package http

import "time"

type Config struct {
	BaseURL        string            `yaml:"base-url"`
	DefaultHeaders map[string]string `yaml:"default-headers,omitempty"`
	Auth           *AuthConfig       `yaml:"auth,omitempty"`
	TLS            *TLSConfig        `yaml:"tls,omitempty"`
	RequestTimeout time.Duration     `yaml:"request-timeout,omitempty"`

	// RequestsPerSecond caps outgoing calls so large batches stay under
	// the platform's rate limits. Zero disables the limiter.
	RequestsPerSecond float64 `yaml:"requests-per-second,omitempty"`
}

type AuthConfig struct {
	ClientCredentials *ClientCredentialsConfig `yaml:"client-credentials,omitempty"`
	BearerToken       *BearerTokenConfig       `yaml:"bearer-token,omitempty"`
	CustomHeader      *CustomHeaderConfig      `yaml:"custom-header,omitempty"`
}

// ClientCredentialsConfig drives the platform's token exchange: a JSON
// post of the client pair returns a short-lived access token.
type ClientCredentialsConfig struct {
	TokenURL     string `yaml:"token-url"`
	ClientID     string `yaml:"client-id"`
	ClientSecret string `yaml:"client-secret"`
}

type BearerTokenConfig struct {
	Token string `yaml:"token"`
}

type CustomHeaderConfig struct {
	Header string `yaml:"header"`
	Token  string `yaml:"token"`
}

type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure-skip-verify,omitempty"`
}
