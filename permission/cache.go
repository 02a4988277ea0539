package permission

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoToken is returned when Fetch is called without a session token.
	ErrNoToken = errors.New("no session token")
	// ErrStaleResult is returned to callers of a fetch whose session was
	// invalidated before the fetch completed. The result is discarded.
	ErrStaleResult = errors.New("permission fetch discarded: session changed")
)

const defaultFetchTimeout = 15 * time.Second

// Fetcher retrieves the permission Set for a bearer token.
type Fetcher interface {
	FetchPermissions(ctx context.Context, token string) (Set, error)
}

// FetcherFunc adapts a function to [Fetcher].
type FetcherFunc func(ctx context.Context, token string) (Set, error)

func (f FetcherFunc) FetchPermissions(ctx context.Context, token string) (Set, error) {
	return f(ctx, token)
}

// State is the fetch state of a [Cache].
type State uint8

const (
	StateIdle State = iota
	StateLoading
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is reported to CacheConfig.OnEvent as the cache works.
type Event uint8

const (
	EventCacheHit Event = iota
	EventFetchStarted
	EventFetchShared
	EventFetchSucceeded
	EventFetchFailed
	EventAuthRejected
	EventStaleDiscarded
)

// CacheConfig configures a [Cache].
type CacheConfig struct {
	// FetchTimeout bounds one network fetch. The fetch runs detached from
	// the caller that started it, so this is the only deadline it has.
	FetchTimeout time.Duration
	// OnAuthFailure runs once per fetch that the server rejected with
	// 401/403, after the error has been recorded. token is the rejected
	// token, so the callee can tell whether the session has since changed.
	OnAuthFailure func(token string)
	// OnEvent receives cache events; d is the fetch latency for
	// EventFetchSucceeded and EventFetchFailed.
	OnEvent func(ev Event, d time.Duration)
	Logger  logr.Logger
}

type settledFlight struct {
	generation uint64
	attempt    uint64
	set        Set
	err        error
}

// Cache holds the permission Set of the current session.
//
// Fetch is safe for concurrent use. At most one network fetch runs per
// invalidation cycle at a time; concurrent callers share its outcome.
type Cache struct {
	fetcher Fetcher
	config  CacheConfig
	log     logr.Logger
	group   singleflight.Group

	mu         sync.RWMutex
	value      *Set
	err        error
	loading    bool
	generation uint64
	attempt    uint64
	settled    *settledFlight
}

// NewCache creates a Cache that fetches through f.
func NewCache(f Fetcher, cfg CacheConfig) *Cache {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Cache{
		fetcher: f,
		config:  cfg,
		log:     log.WithName("permissions"),
	}
}

// Fetch returns the permission Set for token.
//
// A cached Set is returned without a network call. If a fetch is in flight
// the caller waits for it. Otherwise exactly one fetch is issued. Callers
// whose ctx ends stop waiting; the shared fetch keeps running.
func (c *Cache) Fetch(ctx context.Context, token string) (Set, error) {
	if token == "" {
		return Set{}, ErrNoToken
	}

	c.mu.Lock()
	if c.value != nil && c.err == nil && !c.loading {
		v := *c.value
		c.mu.Unlock()
		c.emit(EventCacheHit, 0)
		return v, nil
	}
	shared := c.loading
	if !shared {
		c.attempt++
		c.loading = true
	}
	generation, attempt := c.generation, c.attempt
	c.mu.Unlock()

	if shared {
		c.emit(EventFetchShared, 0)
	}

	key := strconv.FormatUint(generation, 10) + ":" + strconv.FormatUint(attempt, 10)
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.run(flightCtx, token, generation, attempt)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Set{}, res.Err
		}
		return res.Val.(Set), nil
	case <-ctx.Done():
		return Set{}, ctx.Err()
	}
}

// run performs the network fetch for one attempt. A caller that joined the
// attempt after singleflight already forgot it gets the settled outcome
// instead of a second request.
func (c *Cache) run(ctx context.Context, token string, generation, attempt uint64) (Set, error) {
	c.mu.RLock()
	if s := c.settled; s != nil && s.generation == generation && s.attempt == attempt {
		c.mu.RUnlock()
		return s.set, s.err
	}
	stale := generation != c.generation
	c.mu.RUnlock()
	if stale {
		c.emit(EventStaleDiscarded, 0)
		return Set{}, ErrStaleResult
	}

	c.emit(EventFetchStarted, 0)
	fetchCtx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	start := time.Now()
	set, err := c.fetcher.FetchPermissions(fetchCtx, token)
	cancel()
	elapsed := time.Since(start)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		c.log.V(1).Info("discarding permission fetch from a previous session", "generation", generation)
		c.emit(EventStaleDiscarded, elapsed)
		return Set{}, ErrStaleResult
	}
	c.loading = false
	if err != nil {
		c.value = nil
		c.err = err
	} else {
		v := set
		c.value = &v
		c.err = nil
	}
	c.settled = &settledFlight{generation: generation, attempt: attempt, set: set, err: err}
	c.mu.Unlock()

	if err == nil {
		c.log.V(1).Info("permissions loaded", "superuser", set.Superuser(), "codes", set.Len())
		c.emit(EventFetchSucceeded, elapsed)
		return set, nil
	}

	c.emit(EventFetchFailed, elapsed)
	if IsAuthFailure(err) {
		c.log.Info("permission fetch rejected, session is no longer authorized", "error", err.Error())
		c.emit(EventAuthRejected, elapsed)
		if c.config.OnAuthFailure != nil {
			c.config.OnAuthFailure(token)
		}
	} else {
		c.log.Info("permission fetch failed", "error", err.Error())
	}
	return Set{}, err
}

// Invalidate forgets the cached Set, any recorded error and the loading
// flag. A fetch already in flight will discard its result.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.value = nil
	c.err = nil
	c.loading = false
	c.settled = nil
}

// Has reports whether code is granted by the cached Set. An unknown Set
// grants nothing.
func (c *Cache) Has(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil {
		return false
	}
	return c.value.Has(code)
}

// Known reports whether a Set is cached.
func (c *Cache) Known() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value != nil
}

// Snapshot returns the cached Set, if any.
func (c *Cache) Snapshot() (Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil {
		return Set{}, false
	}
	return *c.value, true
}

// State returns the current fetch state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.loading:
		return StateLoading
	case c.err != nil:
		return StateError
	default:
		return StateIdle
	}
}

// Err returns the error recorded by the last failed fetch.
func (c *Cache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Cache) emit(ev Event, d time.Duration) {
	if c.config.OnEvent != nil {
		c.config.OnEvent(ev, d)
	}
}

type authFailure interface {
	AuthFailure() bool
}

// IsAuthFailure reports whether err carries a 401/403 rejection.
func IsAuthFailure(err error) bool {
	var af authFailure
	return errors.As(err, &af) && af.AuthFailure()
}
