package consoleauth

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/autorent-leon/consoleauth/session"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of an [Engine]. Start from [DefaultConfig] or
// [LoadConfig] and override fields before passing it to [Builder.WithConfig].
type Config struct {
	API         APIConfig         `yaml:"api"`
	Storage     StorageConfig     `yaml:"storage"`
	Token       TokenConfig       `yaml:"token"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Routes      RoutesConfig      `yaml:"routes"`
	Audit       AuditConfig       `yaml:"audit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig points the engine at the rental backend.
type APIConfig struct {
	// BaseURL is the API root including the version segment, e.g.
	// http://localhost:8000/api/v1/.
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageBackend selects where the session token is persisted.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageFile   StorageBackend = "file"
	StorageRedis  StorageBackend = "redis"
)

// StorageConfig configures the durable token storage.
type StorageConfig struct {
	Backend  StorageBackend `yaml:"backend"`
	TokenKey string         `yaml:"token_key"`
	// FilePath is used by the file backend.
	FilePath string `yaml:"file_path"`
	// Redis* are used by the redis backend.
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig turns on signature verification of the stored token. When
// Verify is off the engine only decodes exp.
type TokenConfig struct {
	Verify bool `yaml:"verify"`
	// Algorithm is hs512, hs256 or ed25519.
	Algorithm string `yaml:"algorithm"`
	// Secret is the HMAC secret; PublicKey is a PEM or raw Ed25519 key.
	Secret    string `yaml:"secret"`
	PublicKey string `yaml:"public_key"`
	// KeyRing maps kid headers to secrets or public keys during rotation.
	KeyRing map[string]string `yaml:"key_ring"`
	Issuer  string            `yaml:"issuer"`
	Leeway  time.Duration     `yaml:"leeway"`
}

/*
====================================
PERMISSIONS CONFIG
====================================
*/

// PermissionsConfig configures the permission cache and catalog.
type PermissionsConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// ExtraCodes are registered in the catalog next to the built-in codes.
	ExtraCodes []string `yaml:"extra_codes"`
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig names the routes the guard redirects to. Overrides replace
// the required permission of a named route; an empty value makes the route
// login-only.
type RoutesConfig struct {
	Login        string            `yaml:"login"`
	Register     string            `yaml:"register"`
	Dashboard    string            `yaml:"dashboard"`
	Unauthorized string            `yaml:"unauthorized"`
	Error        string            `yaml:"error"`
	Overrides    map[string]string `yaml:"overrides"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the settings the console ships with.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:   "http://localhost:8000/api/v1/",
			Timeout:   15 * time.Second,
			UserAgent: "consoleauth",
		},
		Storage: StorageConfig{
			Backend:     StorageMemory,
			TokenKey:    session.DefaultTokenKey,
			RedisPrefix: "console",
		},
		Token: TokenConfig{
			Algorithm: "hs512",
		},
		Permissions: PermissionsConfig{
			FetchTimeout: 15 * time.Second,
		},
		Routes: RoutesConfig{
			Login:        "/login",
			Register:     "/register",
			Dashboard:    "/",
			Unauthorized: "/unauthorized",
			Error:        "/error",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// LoadConfig reads a YAML file on top of [DefaultConfig]. Keys absent from
// the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Permissions.ExtraCodes != nil {
		out.Permissions.ExtraCodes = append([]string(nil), cfg.Permissions.ExtraCodes...)
	}
	if cfg.Token.KeyRing != nil {
		out.Token.KeyRing = make(map[string]string, len(cfg.Token.KeyRing))
		for k, v := range cfg.Token.KeyRing {
			out.Token.KeyRing[k] = v
		}
	}
	if cfg.Routes.Overrides != nil {
		out.Routes.Overrides = make(map[string]string, len(cfg.Routes.Overrides))
		for k, v := range cfg.Routes.Overrides {
			out.Routes.Overrides[k] = v
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting, wrapped in [ErrInvalidConfig].
func (c *Config) Validate() error {
	// API
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("API BaseURL must be an absolute http(s) URL")
	}
	if c.API.Timeout < 0 {
		return invalid("API Timeout must be >= 0")
	}

	// Storage
	if strings.TrimSpace(c.Storage.TokenKey) == "" {
		return invalid("Storage TokenKey must not be empty")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.FilePath == "" {
			return invalid("Storage FilePath is required for the file backend")
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return invalid("Storage RedisAddr is required for the redis backend")
		}
		if c.Storage.RedisDB < 0 {
			return invalid("Storage RedisDB must be >= 0")
		}
	default:
		return invalid("Storage Backend must be memory, file or redis")
	}

	// Token
	if c.Token.Verify {
		switch strings.ToLower(c.Token.Algorithm) {
		case "hs512", "hs256":
			if c.Token.Secret == "" && len(c.Token.KeyRing) == 0 {
				return invalid("Token Secret or KeyRing is required for HMAC verification")
			}
		case "ed25519":
			if c.Token.PublicKey == "" && len(c.Token.KeyRing) == 0 {
				return invalid("Token PublicKey or KeyRing is required for ed25519 verification")
			}
		default:
			return invalid("Token Algorithm must be hs512, hs256 or ed25519")
		}
		for kid, key := range c.Token.KeyRing {
			if strings.TrimSpace(kid) == "" || key == "" {
				return invalid("Token KeyRing entries need a kid and a key")
			}
		}
		if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
			return invalid("Token Leeway must be between 0 and 2m")
		}
	}

	// Permissions
	if c.Permissions.FetchTimeout <= 0 {
		return invalid("Permissions FetchTimeout must be > 0")
	}
	for _, code := range c.Permissions.ExtraCodes {
		if strings.Count(code, ".") != 1 || strings.HasPrefix(code, ".") || strings.HasSuffix(code, ".") {
			return invalid("Permissions ExtraCodes entry " + code + " must look like app.codename")
		}
	}

	// Routes
	for name, path := range map[string]string{
		"Login":        c.Routes.Login,
		"Register":     c.Routes.Register,
		"Dashboard":    c.Routes.Dashboard,
		"Unauthorized": c.Routes.Unauthorized,
		"Error":        c.Routes.Error,
	} {
		if !strings.HasPrefix(path, "/") {
			return invalid("Routes " + name + " must start with /")
		}
	}
	if c.Routes.Login == c.Routes.Dashboard {
		return invalid("Routes Login and Dashboard must differ")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return invalid("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
