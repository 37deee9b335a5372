package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"anchorid/internal/anchor"
	anchormetrics "anchorid/internal/anchor/metrics"
	"anchorid/internal/audit"
	"anchorid/internal/biometric"
	biometrichandler "anchorid/internal/biometric/handler"
	biometricmetrics "anchorid/internal/biometric/metrics"
	"anchorid/internal/docstore"
	"anchorid/internal/fraud"
	fraudhandler "anchorid/internal/fraud/handler"
	fraudmetrics "anchorid/internal/fraud/metrics"
	"anchorid/internal/ledger"
	"anchorid/internal/platform/config"
	"anchorid/internal/platform/httpserver"
	"anchorid/internal/platform/kafka"
	"anchorid/internal/platform/logger"
	platformredis "anchorid/internal/platform/redis"
	"anchorid/internal/registry"
	registryhandler "anchorid/internal/registry/handler"
	httptransport "anchorid/internal/transport/http"
	psync "anchorid/pkg/platform/sync"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Document store: postgres when configured, then redis, else in-memory.
	var docs docstore.Store = docstore.NewMemory()
	var db *sql.DB
	var redisClient *platformredis.Client

	switch {
	case cfg.PostgresURL != "":
		var err error
		db, err = sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		docs = docstore.NewPostgres(db)
		log.Info("using postgres document store")
	case cfg.RedisURL != "":
		var err error
		redisClient, err = platformredis.New(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		docs = docstore.NewRedis(redisClient.Client)
		log.Info("using redis document store")
	default:
		log.Warn("no store configured, falling back to in-memory")
	}

	// The simulated ledger stands in for a chain RPC client; this is the one
	// seam to swap when a real network backend lands.
	chain := ledger.NewMemory()

	anchors := anchor.New(chain, cfg.ContractRef, cfg.SignerAddress, anchor.NewNonceManager(), log,
		anchor.WithMetrics(anchormetrics.New()))
	reconciler := anchor.NewReconciler(anchors, log)
	locks := psync.NewKeyedMutex()

	// Audit trail: kafka when configured, memory otherwise.
	var sink audit.Sink = audit.NewMemorySink()
	var producer *kafka.Producer
	if cfg.KafkaBrokers != "" {
		var err error
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, log)
		if err != nil {
			return err
		}
		defer producer.Close()
		sink = audit.NewKafkaSink(producer, cfg.AuditTopic)
		log.Info("audit events publishing to kafka", "topic", cfg.AuditTopic)
	}
	auditor := audit.NewPublisher(sink, log)

	registrySvc := registry.New(docs, anchors, reconciler, locks, auditor, log, cfg.AnchorWait)
	biometricSvc := biometric.New(registrySvc, docs, anchors, reconciler, locks,
		biometric.NewDigestEmbedder(), auditor, log,
		biometric.Policy{
			FaceThreshold:        cfg.FaceThreshold,
			FingerprintThreshold: cfg.FingerprintThreshold,
			LivenessMin:          cfg.LivenessMin,
		},
		cfg.AnchorWait,
		biometric.WithMetrics(biometricmetrics.New()))
	fraudSvc := fraud.New(registrySvc, docs, anchors, reconciler, locks, auditor, log,
		cfg.FraudThreshold, cfg.FraudHistoryCap, cfg.AnchorWait,
		fraud.WithMetrics(fraudmetrics.New()))

	health := func(ctx context.Context) map[string]string {
		components := map[string]string{}
		if db != nil {
			components["postgres"] = healthState(db.PingContext(ctx))
		}
		if redisClient != nil {
			components["redis"] = healthState(redisClient.Health(ctx))
		}
		if producer != nil {
			if producer.Healthy(ctx) {
				components["kafka"] = "ok"
			} else {
				components["kafka"] = "unreachable"
			}
		}
		return components
	}

	router := httptransport.NewRouter(health,
		registryhandler.New(registrySvc, log),
		biometrichandler.New(biometricSvc, log),
		fraudhandler.New(fraudSvc, log))
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := reconciler.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func healthState(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}
