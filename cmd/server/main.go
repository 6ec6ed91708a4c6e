package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	authhandler "idchain/internal/auth/handler"
	authservice "idchain/internal/auth/service"
	"idchain/internal/auth/token"
	"idchain/internal/identity/cache"
	identityhandler "idchain/internal/identity/handler"
	identityservice "idchain/internal/identity/service"
	"idchain/internal/ledger"
	ledgermetrics "idchain/internal/ledger/metrics"
	"idchain/internal/platform/config"
	"idchain/internal/platform/httpserver"
	"idchain/internal/platform/kafka"
	"idchain/internal/platform/logger"
	"idchain/internal/platform/metrics"
	"idchain/internal/platform/postgres"
	"idchain/internal/platform/redis"
	ratelimit "idchain/internal/ratelimit/middleware"
	ratelimitmodels "idchain/internal/ratelimit/models"
	"idchain/internal/ratelimit/store/bucket"
	httptransport "idchain/internal/transport/http"
	userhandler "idchain/internal/users/handler"
	usermodels "idchain/internal/users/models"
	userservice "idchain/internal/users/service"
	userstore "idchain/internal/users/store"
	vhandler "idchain/internal/verification/handler"
	vmetrics "idchain/internal/verification/metrics"
	vservice "idchain/internal/verification/service"
	vstore "idchain/internal/verification/store"
	"idchain/internal/verification/worker"
	"idchain/pkg/platform/audit"
	"idchain/pkg/platform/audit/publisher"
	"idchain/pkg/platform/audit/relay"
	"idchain/pkg/platform/circuit"
	auditmemory "idchain/pkg/platform/audit/store/memory"
	auditpostgres "idchain/pkg/platform/audit/store/postgres"
	"idchain/pkg/platform/tx"
)

const (
	auditTopicPartitions  = 3
	statusBreakerFailures = 3
	statusBreakerCooldown = 30 * time.Second
)

type userRepository interface {
	userservice.Store
	vservice.UserStore
	FindByUsername(ctx context.Context, username string) (*usermodels.User, error)
}

type verificationRepository interface {
	vservice.VerificationStore
	identityservice.VerificationStore
}

type verifierRepository interface {
	vservice.VerifierStore
	authservice.VerifierStore
}

// stores groups the persistence layer. With a database URL everything lives
// in Postgres and audit events go through the outbox; otherwise the in-memory
// stores are used and nothing is relayed.
type stores struct {
	db            *sql.DB
	runner        tx.Runner
	users         userRepository
	verifications verificationRepository
	verifiers     verifierRepository
	audit         audit.Store
	outbox        *auditpostgres.Store
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "idchain: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if cfg.Auth.JWTSigningKey == config.DevJWTSigningKey {
		log.Warn("using the development JWT signing key; set SECRET_KEY")
	}
	if cfg.Server.AdminToken == "" {
		log.Warn("ADMIN_API_TOKEN is not set; admin routes are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	httpMetrics := metrics.New(reg)

	ledgerClient, err := ledger.Dial(ctx, cfg.Ledger.NodeURL, ledger.Config{
		ContractAddress: cfg.Ledger.ContractAddress,
		AdminKey:        cfg.Ledger.AdminPrivateKey,
		GasLimit:        cfg.Ledger.GasLimit,
		ConfirmTimeout:  cfg.Ledger.ConfirmTimeout,
		PollInterval:    cfg.Ledger.PollInterval,
	}, ledger.WithLogger(log), ledger.WithMetrics(ledgermetrics.New(reg)))
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer ledgerClient.Close()
	log.Info("ledger client ready",
		"contract_address", ledgerClient.ContractAddress(),
		"admin_address", ledgerClient.AdminAddress(),
	)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	checks := map[string]httptransport.HealthCheck{"ledger": ledgerClient.Ping}
	if st.db != nil {
		checks["postgres"] = st.db.PingContext
	}

	var (
		detailStore cache.Store     = cache.NewInMemory()
		bucketStore ratelimit.Store = bucket.NewInMemoryBucketStore()
	)
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
		detailStore = cache.NewRedis(rdb)
		bucketStore = bucket.NewRedisBucketStore(rdb)
		checks["redis"] = rdb.Health
		log.Info("identity cache and rate limits backed by redis")
	}
	details := cache.NewReader(ledgerClient, detailStore, cfg.Redis.CacheTTL,
		cache.WithLogger(log),
		cache.WithMetrics(cache.NewMetrics(reg)),
	)

	auditPublisher := publisher.New(st.audit,
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
	)

	usvc := userservice.New(st.users, ledgerClient, st.runner,
		userservice.WithLogger(log),
		userservice.WithAuditPublisher(auditPublisher),
		userservice.WithMetrics(httpMetrics),
		userservice.WithCacheInvalidator(details),
	)
	vsvc := vservice.New(st.verifications, st.verifiers, st.users, ledgerClient, st.runner,
		vservice.WithLogger(log),
		vservice.WithAuditPublisher(auditPublisher),
		vservice.WithMetrics(vmetrics.New(reg)),
		vservice.WithCacheInvalidator(details),
	)
	isvc := identityservice.New(st.users, st.verifications, ledgerClient, details,
		identityservice.WithLogger(log),
		identityservice.WithStatusTimeout(cfg.Ledger.StatusTimeout),
		identityservice.WithBreaker(circuit.New("ledger-status",
			circuit.WithFailureThreshold(statusBreakerFailures),
			circuit.WithCooldown(statusBreakerCooldown),
		)),
	)
	tokens := token.NewService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	asvc := authservice.New(st.users, st.verifiers, tokens, authservice.WithLogger(log))

	limiter := ratelimit.New(bucketStore, map[ratelimitmodels.EndpointClass]ratelimitmodels.Limit{
		ratelimitmodels.ClassAuth:  {Requests: cfg.RateLimit.Auth, Window: cfg.RateLimit.Window},
		ratelimitmodels.ClassWrite: {Requests: cfg.RateLimit.Write, Window: cfg.RateLimit.Window},
		ratelimitmodels.ClassRead:  {Requests: cfg.RateLimit.Read, Window: cfg.RateLimit.Window},
	}, log, ratelimit.WithDisabled(cfg.RateLimit.Disabled))

	verificationHandler := vhandler.New(vsvc, log, cfg.Reconcile.ClaimTTL)
	router := httptransport.NewRouter(httptransport.Config{
		Logger:      log,
		Metrics:     httpMetrics,
		Registry:    reg,
		AdminToken:  cfg.Server.AdminToken,
		Resolver:    asvc,
		RateLimiter: limiter,
		Handlers: []httptransport.Registrar{
			userhandler.New(usvc, log),
			authhandler.New(asvc, log, tokens.TTL()),
			verificationHandler,
			identityhandler.New(isvc, log),
		},
		Admin:  []httptransport.AdminRegistrar{verificationHandler},
		Checks: checks,
	})
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Ledger.ConfirmTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting idchain", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return worker.NewReconcileWorker(vsvc, log, cfg.Reconcile.Interval, cfg.Reconcile.ClaimTTL).Run(gctx)
	})

	if err := startRelay(gctx, g, cfg, st, log); err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL is not set; using in-memory stores")
		return &stores{
			runner:        tx.NewLockRunner(cfg.Database.TxTimeout),
			users:         userstore.NewInMemory(),
			verifications: vstore.NewInMemoryVerifications(),
			verifiers:     vstore.NewInMemoryVerifiers(),
			audit:         auditmemory.NewInMemoryStore(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	outbox := auditpostgres.New(db)
	return &stores{
		db:            db,
		runner:        tx.NewSQLRunner(db, cfg.Database.TxTimeout),
		users:         userstore.NewPostgres(db),
		verifications: vstore.NewPostgresVerifications(db),
		verifiers:     vstore.NewPostgresVerifiers(db),
		audit:         outbox,
		outbox:        outbox,
	}, nil
}

// startRelay publishes the audit outbox to Kafka when both are configured.
func startRelay(ctx context.Context, g *errgroup.Group, cfg *config.Config, st *stores, log *slog.Logger) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	if st.outbox == nil {
		log.Warn("KAFKA_BROKERS is set but audit events are only relayed from postgres")
		return nil
	}
	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	if err := producer.EnsureTopic(ctx, auditTopicPartitions, 1); err != nil {
		producer.Close()
		return fmt.Errorf("ensure audit topic: %w", err)
	}
	r := relay.New(st.outbox, producer, st.runner, log, cfg.Kafka.RelayInterval, cfg.Kafka.BatchSize)
	g.Go(func() error {
		defer producer.Close()
		return r.Run(ctx)
	})
	log.Info("audit relay started", "topic", producer.Topic())
	return nil
}
