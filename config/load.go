package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/crmarques/portsync/faults"
	httpgateway "github.com/crmarques/portsync/internal/gateway/http"
)

// CatalogPath resolves the context catalog location: explicit path, then
// environment, then the default under the home directory.
func CatalogPath(explicit string) string {
	if path := strings.TrimSpace(explicit); path != "" {
		return expandHome(path)
	}
	if path := strings.TrimSpace(os.Getenv(CatalogFileEnvVar)); path != "" {
		return expandHome(path)
	}
	return expandHome(DefaultCatalogPath)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// LoadCatalog reads the catalog file. A missing file yields an empty
// catalog so the CLI can still run on environment variables alone.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Catalog{}, nil
		}
		return Catalog{}, faults.NewTypedError(faults.LoadError, "cannot read context catalog "+path, err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, faults.NewTypedError(faults.LoadError, "malformed context catalog "+path, err)
	}
	return catalog, nil
}

// SaveCatalog writes the catalog back, creating the parent directory on
// first use.
func SaveCatalog(path string, catalog Catalog) error {
	data, err := yaml.Marshal(catalog)
	if err != nil {
		return faults.NewTypedError(faults.InternalError, "cannot encode context catalog", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return faults.NewTypedError(faults.LoadError, "cannot create catalog directory", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return faults.NewTypedError(faults.LoadError, "cannot write context catalog "+path, err)
	}
	return nil
}

// Select picks a named context, falling back to the catalog's current
// context, falling back to a platform-default context configured purely
// from the environment.
func (c Catalog) Select(name string) (Context, error) {
	wanted := strings.TrimSpace(name)
	if wanted == "" {
		wanted = strings.TrimSpace(c.CurrentCtx)
	}

	if wanted != "" {
		for _, context := range c.Contexts {
			if context.Name == wanted {
				return context, nil
			}
		}
		return Context{}, faults.NewTypedError(faults.LoadError, "context "+wanted+" not found in catalog", nil)
	}

	return Context{Name: "default"}, nil
}

// LoadDotEnv pulls a .env file from the working directory into the
// process environment, matching how operators keep platform credentials
// next to their declaration files. A missing file is not an error.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// ApplyEnvOverrides fills gateway settings from the environment, with
// values already present in the context taking precedence. Credentials
// usually arrive this way rather than sitting in the catalog file.
func ApplyEnvOverrides(context *Context) {
	gw := &context.Gateway
	if strings.TrimSpace(gw.BaseURL) == "" {
		gw.BaseURL = envOr("PORT_BASE_URL", DefaultBaseURL)
	}

	clientID := os.Getenv("PORT_CLIENT_ID")
	clientSecret := os.Getenv("PORT_CLIENT_SECRET")
	if gw.Auth == nil && clientID != "" && clientSecret != "" {
		gw.Auth = &httpgateway.AuthConfig{
			ClientCredentials: &httpgateway.ClientCredentialsConfig{
				TokenURL:     envOr("PORT_AUTH_URL", DefaultTokenURL),
				ClientID:     clientID,
				ClientSecret: clientSecret,
			},
		}
		return
	}

	if gw.Auth != nil && gw.Auth.ClientCredentials != nil {
		creds := gw.Auth.ClientCredentials
		if creds.TokenURL == "" {
			creds.TokenURL = envOr("PORT_AUTH_URL", DefaultTokenURL)
		}
		if creds.ClientID == "" {
			creds.ClientID = clientID
		}
		if creds.ClientSecret == "" {
			creds.ClientSecret = clientSecret
		}
	}
}

func envOr(name string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}
