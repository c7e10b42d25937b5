package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tambola-live/engine/internal/broadcaster"
	"github.com/tambola-live/engine/internal/config"
	"github.com/tambola-live/engine/internal/engine"
	"github.com/tambola-live/engine/internal/hotstate/redisstore"
	"github.com/tambola-live/engine/internal/httpapi"
	"github.com/tambola-live/engine/internal/ingress"
	"github.com/tambola-live/engine/internal/logging"
	"github.com/tambola-live/engine/internal/payout"
	"github.com/tambola-live/engine/internal/prizequeue"
	"github.com/tambola-live/engine/internal/store/pgstore"
	"github.com/tambola-live/engine/internal/vip"
)

const releaseVersion = "1.0.0"

// reaperInterval bounds how often the prize queue reaper polls for
// prize items stuck in PROCESSING past their lease.
const reaperInterval = 30 * time.Second

func main() {
	log.SetFlags(0)
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCmd(cfg, releaseVersion, run).Execute())
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, err := logging.New(cfg.DevLogs())
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = root.Sync() }()
	factory := logging.NewFactory(root, cfg.Toggles())

	rdb := redis.NewClient(mustParseRedisURL(cfg.RedisURL()))
	defer rdb.Close()
	if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
		return fmt.Errorf("ping redis: %w", pingErr)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pgstore.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	hot := redisstore.New(rdb, factory.For(logging.CategoryHotState))
	durable := pgstore.New(pool, factory.For(logging.CategoryStore))
	payoutClient := payout.New(cfg.PayoutBaseURL(), cfg.PayoutTimeout())
	prizeQueue := prizequeue.New(durable, payoutClient, factory.For(logging.CategoryPrizeQueue), cfg.PayoutTimeout())
	prizeQueue.StartReaper(ctx, reaperInterval)

	manager := engine.NewManager(hot, durable, prizeQueue, factory.For(logging.CategoryEngine))
	registry := broadcaster.NewRegistry(hot, factory.For(logging.CategoryBroadcaster))
	vipChecker := vip.New(vip.NewRedisSet(rdb), factory.For(logging.CategoryIngress))
	adapter := ingress.New(manager, registry, vipChecker, factory.For(logging.CategoryIngress))

	server := httpapi.New(cfg, registry, adapter, root.Named("httpapi"))
	return server.Serve(ctx)
}

func mustParseRedisURL(raw string) *redis.Options {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	return opts
}
