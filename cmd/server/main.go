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

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"veil/internal/compliance"
	"veil/internal/events"
	"veil/internal/fhe"
	"veil/internal/identity"
	"veil/internal/kyc"
	kychandler "veil/internal/kyc/handler"
	kycmetrics "veil/internal/kyc/metrics"
	"veil/internal/kyc/provider"
	noncestore "veil/internal/kyc/store/nonce"
	sessionstore "veil/internal/kyc/store/session"
	"veil/internal/ledger"
	"veil/internal/platform/config"
	"veil/internal/platform/httpserver"
	"veil/internal/platform/logger"
	"veil/internal/platform/metrics"
	platformredis "veil/internal/platform/redis"
)

// treasurySeed is the initial claim reserve minted at startup.
const treasurySeed = 1_000_000_000

// componentAddress derives a stable address for an internal component so the
// substrate can grant it decrypt permissions.
func componentAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("veil/component/" + name))[12:])
}

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal packages.
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

	coreMetrics := metrics.New()
	orchestratorMetrics := kycmetrics.New()

	// Event fan-out: in-memory audit trail, Prometheus counters, in-process
	// bus, and optionally Kafka.
	eventStore := events.NewMemoryStore()
	recorders := events.Fanout{
		events.NewPublisher(eventStore),
		events.NewMetricsRecorder(coreMetrics),
	}

	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(log))
	defer bus.Close()
	recorders = append(recorders, events.NewWatermillRecorder(bus))

	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		auditStore := events.NewPostgresStore(db)
		if err := auditStore.EnsureSchema(ctx); err != nil {
			return err
		}
		recorders = append(recorders, events.NewPublisher(auditStore))
		log.Info("event audit trail backed by postgres")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaRecorder(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = kafka.Close(flushCtx)
		}()
		recorders = append(recorders, kafka)
	}

	// Core: encrypted substrate, identity registry, compliance engine,
	// confidential ledger. Each active component gets its own address so the
	// substrate ACL can name it.
	ownerAddr := componentAddress("owner")
	registrarAddr := componentAddress("registrar")
	complianceAddr := componentAddress("compliance")
	ledgerAddr := componentAddress("ledger")

	engine := fhe.NewMemoryEngine()
	registry := identity.NewRegistry(engine, recorders, identity.SystemClock{}, ownerAddr, log)
	if err := registry.AddRegistrar(ownerAddr, registrarAddr); err != nil {
		return err
	}

	complianceEngine := compliance.NewEngine(complianceAddr, engine, registry, recorders, ownerAddr, log)
	tokenLedger := ledger.New(ledgerAddr, engine, complianceEngine, recorders, ownerAddr, log)
	if err := complianceEngine.AuthorizeCaller(ownerAddr, ledgerAddr); err != nil {
		return err
	}
	if err := tokenLedger.FundTreasury(ctx, ownerAddr, treasurySeed); err != nil {
		return err
	}

	// Orchestrator stores: Redis/Postgres when configured, in-memory for
	// local runs.
	var nonces kyc.NonceStore = noncestore.NewMemoryStore()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		nonces = noncestore.NewRedisStore(redisClient.Client)
		log.Info("nonce store backed by redis")
	}

	var sessions kyc.SessionStore = sessionstore.NewMemoryStore()
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		store := sessionstore.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sessions = store
		log.Info("session store backed by postgres")
	}

	orchestrator := kyc.NewService(
		nonces, sessions,
		provider.New(cfg.Provider),
		registry,
		fhe.SealU8,
		registrarAddr,
		cfg, log, orchestratorMetrics,
	)

	router := chi.NewRouter()
	kychandler.New(orchestrator, log).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting veil attestation service", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
