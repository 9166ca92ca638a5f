package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/audit"
)

const loadtestAction = "loadtest"

type noUsers struct{}

func (noUsers) FindByIdentifier(context.Context, string) (authgate.UserRecord, error) {
	return authgate.UserRecord{}, authgate.ErrUserNotFound
}

func (noUsers) FindByID(context.Context, string) (authgate.UserRecord, error) {
	return authgate.UserRecord{}, authgate.ErrUserNotFound
}

func (noUsers) UpdateSecretHash(context.Context, string, string) error {
	return authgate.ErrUserNotFound
}

func main() {
	var (
		subjects    = flag.Int("subjects", 10000, "number of subjects to issue tokens for")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (verify + rate limit)")
		redisURL    = flag.String("redis-url", "", "redis URL; if empty, REDIS_URL env or miniredis is used")
	)
	flag.Parse()

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	url := *redisURL
	if url == "" {
		url = os.Getenv("REDIS_URL")
	}

	var client *redis.Client
	if url == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		opts, err := redis.ParseURL(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid redis url: %v\n", err)
			os.Exit(2)
		}
		client = redis.NewClient(opts)
		fmt.Printf("using redis at %s\n", opts.Addr)
	}
	defer client.Close()

	cfg := authgate.DefaultConfig()
	cfg.Token.Secret = []byte("loadtest-secret-loadtest-secret-0")
	cfg.Cache.Prefix = "authgate-loadtest:"
	cfg.RateLimit.Policies[loadtestAction] = authgate.RatePolicy{MaxAttempts: 1 << 30, Window: time.Hour}

	engine, err := authgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserRepository(noUsers{}).
		WithAuditSink(audit.NopSink{}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	tokens := make([]string, *subjects)
	fmt.Printf("issuing %d tokens...\n", *subjects)
	startSeed := time.Now()
	for i := range tokens {
		tok, _, err := engine.Issue(ctx, authgate.Subject{ID: fmt.Sprintf("subject-%d", i), Role: authgate.RoleUser})
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = tok
	}
	fmt.Printf("issued in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		_, err := engine.Verify(ctx, tokens[r.Intn(len(tokens))])
		return err
	})
	rateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		return engine.ConsumeRate(ctx, fmt.Sprintf("actor-%d", r.Intn(len(tokens))), loadtestAction)
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("ratelimit", rateStats)
}

func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
