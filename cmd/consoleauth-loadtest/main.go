// Command consoleauth-loadtest measures guard throughput and permission
// request deduplication against a fake backend.
//
// The navigate phase hammers guard.Navigate with warm permissions. The
// rotate phase mixes navigation with concurrent re-logins so permission
// fetches race session changes; it reports how many backend calls were
// made and how many stale results were discarded.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/autorent-leon/consoleauth"
	"github.com/autorent-leon/consoleauth/authapi/authapitest"
	"github.com/autorent-leon/consoleauth/guard"
	"github.com/autorent-leon/consoleauth/permission"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

const (
	loadEmail    = "load@autorent.test"
	loadPassword = "load-password"
)

func main() {
	var (
		concurrency = pflag.Int("concurrency", 64, "number of concurrent workers")
		ops         = pflag.Int("ops", 200000, "navigations per phase")
		logins      = pflag.Int("logins", 200, "re-logins during the rotate phase")
		apiLatency  = pflag.Duration("api-latency", 2*time.Millisecond, "artificial latency of the permission endpoint")
		redisAddr   = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = pflag.String("prefix", "loadtest", "token key prefix")
	)
	pflag.Parse()

	if *concurrency <= 0 || *ops <= 0 || *logins < 0 {
		fmt.Fprintln(os.Stderr, "concurrency and ops must be > 0, logins >= 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	api := authapitest.NewServer()
	defer api.Close()
	api.AddUser(authapitest.User{
		Name: "Load", Email: loadEmail, Password: loadPassword,
		Permissions: permission.Of("rental.view_rental", "vehicle.view_vehicle", "customer.view_customer"),
	})
	if *apiLatency > 0 {
		api.Fail("permission", authapitest.Failure{Delay: *apiLatency})
	}

	cfg := consoleauth.DefaultConfig()
	cfg.API.BaseURL = api.BaseURL()
	cfg.Storage.Backend = consoleauth.StorageRedis
	cfg.Storage.RedisAddr = addr
	cfg.Storage.RedisPrefix = *prefix

	engine, err := consoleauth.New().WithConfig(cfg).WithRedis(client).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	g, err := guard.ForEngine(engine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guard: %v\n", err)
		os.Exit(1)
	}

	if err := engine.Login(ctx, loadEmail, loadPassword); err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		os.Exit(1)
	}

	var paths []string
	for _, r := range g.Table().Routes() {
		if r.Secure {
			paths = append(paths, r.Path)
		}
	}

	navigateStats := runNavigatePhase(ctx, g, paths, *ops, *concurrency, nil)

	before := api.PermissionCalls.Load()
	rotateStats := runNavigatePhase(ctx, g, paths, *ops, *concurrency, func() {
		for i := 0; i < *logins; i++ {
			if err := engine.Login(ctx, loadEmail, loadPassword); err != nil {
				fmt.Fprintf(os.Stderr, "re-login %d: %v\n", i, err)
			}
		}
	})
	permissionCalls := api.PermissionCalls.Load() - before

	snap := engine.MetricsSnapshot()
	fmt.Println("---- results ----")
	printStats("navigate", navigateStats)
	printStats("rotate", rotateStats)
	fmt.Printf("rotate: logins=%d permission_calls=%d shared=%d stale_discarded=%d\n",
		*logins,
		permissionCalls,
		snap.Counters[consoleauth.MetricPermissionFetchShared],
		snap.Counters[consoleauth.MetricPermissionStaleDiscarded],
	)
}

// runNavigatePhase runs ops navigations across concurrency workers. When
// background is non-nil it runs alongside the workers.
func runNavigatePhase(ctx context.Context, g *guard.Guard, paths []string, ops, concurrency int, background func()) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	if background != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			background()
		}()
	}
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				path := paths[r.Intn(len(paths))]
				t0 := time.Now()
				_, d := g.Navigate(ctx, path)
				elapsed := time.Since(t0)
				if d.Outcome == consoleauth.RedirectLogin {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d logged_out=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
