package consoleauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/autorent-leon/consoleauth/authapi"
	"github.com/autorent-leon/consoleauth/jwt"
	"github.com/autorent-leon/consoleauth/permission"
	"github.com/autorent-leon/consoleauth/session"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Dependencies not supplied explicitly are
// created from the Config: the Auth API client from Config.API and the
// token storage from Config.Storage.
type Builder struct {
	config Config

	api       APIClient
	storage   session.Storage
	redis     redis.UniversalClient
	logger    logr.Logger
	confirmer Confirmer
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: logr.Discard(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithAPIClient replaces the HTTP client built from Config.API, e.g. with a
// fake in tests.
func (b *Builder) WithAPIClient(api APIClient) *Builder {
	b.api = api
	return b
}

// WithStorage replaces the storage built from Config.Storage.
func (b *Builder) WithStorage(s session.Storage) *Builder {
	b.storage = s
	return b
}

// WithRedis makes the redis backend use an existing client instead of
// dialing Config.Storage.RedisAddr. The engine does not close it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(log logr.Logger) *Builder {
	b.logger = log
	return b
}

// WithConfirmer sets who is asked before logging out. The default
// confirms every logout.
func (b *Builder) WithConfirmer(c Confirmer) *Builder {
	b.confirmer = c
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for token expiry and audit timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. A Builder can
// be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := b.logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- PERMISSION CATALOG --------
	registry := permission.NewRegistry()
	for _, code := range permission.DefaultCodes() {
		if _, err := registry.Register(code); err != nil {
			return nil, err
		}
	}
	for _, code := range cfg.Permissions.ExtraCodes {
		if registry.Known(code) {
			continue
		}
		if _, err := registry.Register(code); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	registry.Freeze()

	engine := &Engine{
		config:   cfg,
		log:      log.WithName("consoleauth"),
		registry: registry,
		now:      now,
	}

	// -------- AUTH API --------
	api := b.api
	if api == nil {
		client, err := authapi.New(authapi.Config{
			BaseURL:   cfg.API.BaseURL,
			Timeout:   cfg.API.Timeout,
			UserAgent: cfg.API.UserAgent,
		}, authapi.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		api = client
	}
	engine.api = api

	// -------- TOKEN STORE --------
	var storeOpts []session.TokenStoreOption
	if cfg.Token.Verify {
		verifier, err := newTokenVerifier(cfg.Token, now)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, session.WithVerifier(verifier))
	}
	storage := b.storage
	if storage == nil {
		s, closer, err := b.openStorage(cfg.Storage)
		if err != nil {
			return nil, err
		}
		storage = s
		if closer != nil {
			engine.closers = append(engine.closers, closer)
		}
	}
	engine.tokens = session.NewTokenStore(storage, cfg.Storage.TokenKey, now, storeOpts...)

	// -------- PERMISSION CACHE --------
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.perms = permission.NewCache(api, permission.CacheConfig{
		FetchTimeout:  cfg.Permissions.FetchTimeout,
		OnAuthFailure: engine.onAuthFailure,
		OnEvent:       engine.onCacheEvent,
		Logger:        log,
	})

	engine.confirm = b.confirmer
	if engine.confirm == nil {
		engine.confirm = AlwaysConfirm
	}
	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = NewLogSink(log)
	}
	engine.audit = newAuditDispatcher(cfg.Audit, sink)

	b.built = true

	return engine, nil
}

// newTokenVerifier builds a verify-only jwt.Manager from the token section.
func newTokenVerifier(cfg TokenConfig, now func() time.Time) (*jwt.Manager, error) {
	var ring map[string][]byte
	if len(cfg.KeyRing) > 0 {
		ring = make(map[string][]byte, len(cfg.KeyRing))
		for kid, key := range cfg.KeyRing {
			ring[kid] = []byte(key)
		}
	}
	jc := jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.Algorithm)),
		PublicKey:     []byte(cfg.PublicKey),
		VerifyKeys:    ring,
		Issuer:        cfg.Issuer,
		Leeway:        cfg.Leeway,
		Now:           now,
	}
	if jc.SigningMethod != jwt.MethodEd25519 {
		jc.PrivateKey = []byte(cfg.Secret)
		jc.PublicKey = nil
	}
	m, err := jwt.NewManager(jc)
	if err != nil {
		return nil, fmt.Errorf("%w: token: %v", ErrInvalidConfig, err)
	}
	return m, nil
}

func (b *Builder) openStorage(cfg StorageConfig) (session.Storage, func() error, error) {
	switch cfg.Backend {
	case StorageFile:
		fs, err := session.NewFileStorage(cfg.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrSessionStorage, err)
		}
		return fs, nil, nil
	case StorageRedis:
		if b.redis != nil {
			return session.NewRedisStorage(b.redis, cfg.RedisPrefix), nil, nil
		}
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return session.NewRedisStorage(client, cfg.RedisPrefix), client.Close, nil
	default:
		return session.NewMemoryStorage(), nil, nil
	}
}
