package config

import (
	httpgateway "github.com/crmarques/portsync/internal/gateway/http"
	"github.com/crmarques/portsync/repository"
)

const (
	CatalogFileEnvVar  = "PORTSYNC_CONTEXTS_FILE"
	DefaultCatalogPath = "~/.portsync/contexts.yaml"

	// Platform defaults; the global API domain serves both state and auth.
	DefaultBaseURL  = "https://api.port.io"
	DefaultTokenURL = "https://api.port.io/v1/auth/access_token"
)

type Catalog struct {
	Contexts   []Context `yaml:"contexts"`
	CurrentCtx string    `yaml:"current-ctx"`
}

type Context struct {
	Name    string             `yaml:"name"`
	Gateway httpgateway.Config `yaml:"gateway"`

	// GitSource, when set, keeps the declarations checkout synced from a
	// remote repository before each pass.
	GitSource *repository.GitSourceConfig `yaml:"git-source,omitempty"`

	// GuardThresholdSeconds overrides the overwrite-protection window.
	GuardThresholdSeconds int `yaml:"guard-threshold-seconds,omitempty"`

	Concurrency int `yaml:"concurrency,omitempty"`
}
