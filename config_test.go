package consoleauth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Storage.TokenKey != "autorent_leon_token" {
		t.Fatalf("unexpected token key %q", cfg.Storage.TokenKey)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"relative base url":     func(c *Config) { c.API.BaseURL = "api/v1/" },
		"ftp base url":          func(c *Config) { c.API.BaseURL = "ftp://host/api/" },
		"negative timeout":      func(c *Config) { c.API.Timeout = -time.Second },
		"empty token key":       func(c *Config) { c.Storage.TokenKey = " " },
		"unknown backend":       func(c *Config) { c.Storage.Backend = "cookie" },
		"file without path":     func(c *Config) { c.Storage.Backend = StorageFile },
		"redis without addr":    func(c *Config) { c.Storage.Backend = StorageRedis },
		"zero fetch timeout":    func(c *Config) { c.Permissions.FetchTimeout = 0 },
		"bad extra code":        func(c *Config) { c.Permissions.ExtraCodes = []string{"nodot"} },
		"relative login path":   func(c *Config) { c.Routes.Login = "login" },
		"login is dashboard":    func(c *Config) { c.Routes.Login = "/" },
		"verify without secret": func(c *Config) { c.Token.Verify = true },
		"verify unknown alg": func(c *Config) {
			c.Token.Verify = true
			c.Token.Algorithm = "rs256"
			c.Token.Secret = "s"
		},
		"ed25519 without public key": func(c *Config) {
			c.Token.Verify = true
			c.Token.Algorithm = "ed25519"
			c.Token.Secret = "s"
		},
		"empty kid in key ring": func(c *Config) {
			c.Token.Verify = true
			c.Token.KeyRing = map[string]string{"": "s"}
		},
		"verify leeway too large": func(c *Config) {
			c.Token.Verify = true
			c.Token.Secret = "s"
			c.Token.Leeway = time.Hour
		},
		"audit zero buffer": func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.yaml")
	data := `
api:
  base_url: https://api.autorent.test/api/v1/
  timeout: 5s
storage:
  backend: redis
  redis_addr: 127.0.0.1:6379
  redis_prefix: leon
permissions:
  fetch_timeout: 3s
  extra_codes: [maintenance.view_maintenance]
routes:
  overrides:
    profile: user.view_user
token:
  verify: true
  issuer: autorent
  key_ring:
    "2024-06": old-secret
    "2024-12": new-secret
audit:
  enabled: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.BaseURL != "https://api.autorent.test/api/v1/" || cfg.API.Timeout != 5*time.Second {
		t.Fatalf("unexpected api config %+v", cfg.API)
	}
	if cfg.Storage.Backend != StorageRedis || cfg.Storage.RedisPrefix != "leon" {
		t.Fatalf("unexpected storage config %+v", cfg.Storage)
	}
	if cfg.Storage.TokenKey != "autorent_leon_token" {
		t.Fatal("absent keys must keep defaults")
	}
	if cfg.Permissions.FetchTimeout != 3*time.Second || len(cfg.Permissions.ExtraCodes) != 1 {
		t.Fatalf("unexpected permissions config %+v", cfg.Permissions)
	}
	if cfg.Routes.Login != "/login" || cfg.Routes.Overrides["profile"] != "user.view_user" {
		t.Fatalf("unexpected routes config %+v", cfg.Routes)
	}
	if !cfg.Token.Verify || cfg.Token.Algorithm != "hs512" || len(cfg.Token.KeyRing) != 2 {
		t.Fatalf("unexpected token config %+v", cfg.Token)
	}
	if !cfg.Audit.Enabled || cfg.Audit.BufferSize != 1024 {
		t.Fatalf("unexpected audit config %+v", cfg.Audit)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("storage: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	if err := os.WriteFile(path, []byte("storage:\n  backend: floppy\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCloneConfigIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Permissions.ExtraCodes = []string{"a.b"}
	cfg.Routes.Overrides = map[string]string{"profile": "user.view_user"}
	cfg.Token.KeyRing = map[string]string{"k1": "secret"}

	out := cloneConfig(cfg)
	out.Permissions.ExtraCodes[0] = "x.y"
	out.Routes.Overrides["profile"] = ""
	out.Token.KeyRing["k1"] = "changed"

	if cfg.Permissions.ExtraCodes[0] != "a.b" || cfg.Routes.Overrides["profile"] != "user.view_user" || cfg.Token.KeyRing["k1"] != "secret" {
		t.Fatal("clone shares state with the original")
	}
}
