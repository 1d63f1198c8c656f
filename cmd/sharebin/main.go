package main

import (
	"context"
	"crypto/rand"
	"os"
	"os/signal"
	"sharebin/cfg"
	"sharebin/svc/api"
	"sharebin/svc/cache"
	"sharebin/svc/db"
	"sharebin/svc/lim"
	"sharebin/svc/svc"
	"sharebin/svc/util"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck())
	}
	util.InitLog("info", false)
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().
		Str("environment", c.Environment).
		Str("backend", c.StoreBackend).
		Msg("starting sharebin")
	if err := run(c); err != nil {
		util.Error().Err(err).Msg("sharebin stopped with error")
		os.Exit(1)
	}
	util.Info().Msg("shutdown complete")
}

// healthCheck runs the container probe: exit 0 when the HTTP server answers /health.
func healthCheck() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := api.Probe(ctx, "http://127.0.0.1:"+port+"/health"); err != nil {
		return 1
	}
	return 0
}

func run(c *cfg.Cfg) error {
	ids, err := util.NewIDGen(c.IDLength)
	if err != nil {
		return errors.Wrap(err, "id generator")
	}
	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.StoreBackend == cfg.BackendRedis || c.Environment == "production" {
				return errors.Wrap(err, "redis")
			}
			util.Warn().Err(err).Msg("redis unavailable, continuing without it")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	var (
		store  svc.Store
		sqlite *db.SQLite
	)
	switch c.StoreBackend {
	case cfg.BackendMemory:
		store = db.NewMemory(ids, nil)
	case cfg.BackendSQLite:
		lru, err := cache.NewLRU(c.LRUCacheSize)
		if err != nil {
			return errors.Wrap(err, "lru cache")
		}
		sqlite, err = db.NewSQLiteWithConfig(c.DatabasePath, ids, lru, nil, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			return errors.Wrap(err, "sqlite")
		}
		util.Info().Str("path", c.DatabasePath).Int("lru_size", c.LRUCacheSize).Msg("database initialized")
		store = sqlite
	case cfg.BackendRedis:
		store = db.NewRedisStore(rdb, ids, nil)
	default:
		return errors.Errorf("unknown store backend %q", c.StoreBackend)
	}
	defer store.Close()

	share := svc.NewShare(store, ids, c)
	sweeper := svc.NewSweeper(store, c.SweepInterval)

	limitKey := []byte(c.RateLimitKey.Value())
	if len(limitKey) == 0 {
		limitKey = make([]byte, 32)
		if _, err := rand.Read(limitKey); err != nil {
			return errors.Wrap(err, "rate limit key")
		}
		if rdb != nil {
			util.Warn().Msg("RATE_LIMIT_KEY unset; replicas will not share rate limit windows")
		}
	}
	var (
		counter lim.Counter
		pinger  api.Pinger
	)
	if rdb != nil {
		counter = rdb
		pinger = rdb
	}
	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.ConservativeLimit, counter, limitKey, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, share, limiter, pinger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	if sqlite != nil {
		g.Go(func() error {
			return sqlite.RunWALMaintenance(gctx, db.DefaultCheckpointInterval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error().Err(err).Msg("server shutdown error")
		}
		share.Shutdown()
		return nil
	})
	return g.Wait()
}
