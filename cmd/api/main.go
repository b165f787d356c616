package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/agentcash/internal/api"
	"github.com/punchamoorthee/agentcash/internal/cache"
	"github.com/punchamoorthee/agentcash/internal/config"
	"github.com/punchamoorthee/agentcash/internal/confirm"
	"github.com/punchamoorthee/agentcash/internal/database"
	"github.com/punchamoorthee/agentcash/internal/domain"
	"github.com/punchamoorthee/agentcash/internal/events"
	"github.com/punchamoorthee/agentcash/internal/expiry"
	"github.com/punchamoorthee/agentcash/internal/fee"
	"github.com/punchamoorthee/agentcash/internal/identity"
	"github.com/punchamoorthee/agentcash/internal/ledger"
	"github.com/punchamoorthee/agentcash/internal/logger"
	"github.com/punchamoorthee/agentcash/internal/registry"
	"github.com/punchamoorthee/agentcash/internal/service"
	"github.com/punchamoorthee/agentcash/internal/store"
)

const sweepLeaseKey = "agentcash:expiry-sweeper"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(zl, cfg.DBSource); err != nil {
		zl.Fatal("migrations failed", zap.Error(err))
	}
	pool, closePool, err := database.Connect(ctx, zl, database.Config{
		DSN:      cfg.DBSource,
		MaxConns: cfg.MaxDbConns,
		MinConns: cfg.MinDbConns,
	})
	if err != nil {
		zl.Fatal("unable to connect to database", zap.Error(err))
	}
	defer closePool()

	fees, err := fee.NewPolicy(cfg.FeeTable)
	if err != nil {
		zl.Fatal("invalid fee table", zap.Error(err))
	}
	codes, err := confirm.NewVerifier(cfg.CodeSealKey, cfg.BcryptCost)
	if err != nil {
		zl.Fatal("invalid code seal key", zap.Error(err))
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBrokers != "" {
		w := events.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer w.Close()
		publisher = events.NewKafkaPublisher(w)
		zl.Info("publishing request events", zap.String("topic", cfg.KafkaTopic))
	}

	// Without Redis every instance sweeps; expiries stay conditional updates.
	var lease expiry.Lease
	if cfg.RedisAddr != "" {
		rdb, closeRedis, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr})
		if err != nil {
			zl.Fatal("unable to connect to redis", zap.Error(err))
		}
		defer closeRedis()
		lease = cache.NewLease(rdb, sweepLeaseKey, uuid.NewString(), cfg.SweepInterval)
	}

	reg := registry.New(store.NewPostgres(pool), zl)
	svc := service.New(service.Deps{
		Registry:  reg,
		Fees:      fees,
		Codes:     codes,
		Ledger:    ledger.NewPostgres(pool, ledger.Limits{FloatFloor: cfg.FloatFloor, ActivationMinimum: cfg.ActivationMinimum}),
		Directory: identity.NewPostgres(pool),
		Events:    publisher,
		Logger:    zl,
	}, service.Options{
		Kinds: map[domain.Kind]service.KindRules{
			domain.KindWithdrawal:   {MinAmount: cfg.WithdrawalMin, MaxAmount: cfg.WithdrawalMax, TTL: cfg.WithdrawalTTL},
			domain.KindFloat:        {MinAmount: cfg.FloatMin, MaxAmount: cfg.FloatMax, TTL: cfg.FloatTTL},
			domain.KindCancellation: {TTL: cfg.CancellationTTL},
		},
		CancellationWindow: cfg.CancellationWindow,
		LedgerTimeout:      cfg.LedgerTimeout,
		PlatformAccount:    domain.AccountRef(cfg.PlatformAccount),
		FloatFloor:         cfg.FloatFloor,
	})

	sweeper := expiry.New(reg, svc, lease, zl.Named("expiry"), cfg.SweepInterval, cfg.SweepBatch)
	go sweeper.Run(ctx)

	handler := api.NewHandler(svc, zl, api.Options{
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
		Health:          pool.Ping,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.LedgerTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zl.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}
