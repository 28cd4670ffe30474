// Command server wires the certification registry: stores (Postgres or
// in-memory), the Redis-backed verification flow, the Kafka audit outbox,
// and the HTTP surface. Business logic lives under internal/.
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

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	adminhandler "certreg/internal/admin/handler"
	apphandler "certreg/internal/application/handler"
	"certreg/internal/application/service"
	appstore "certreg/internal/application/store"
	"certreg/internal/audit"
	"certreg/internal/certificate"
	"certreg/internal/dossier"
	"certreg/internal/notification"
	notifyhandler "certreg/internal/notification/handler"
	"certreg/internal/platform/config"
	"certreg/internal/platform/middleware"
	platformredis "certreg/internal/platform/redis"
	"certreg/internal/user"
	userhandler "certreg/internal/user/handler"
	"certreg/internal/verification"
	verifyhandler "certreg/internal/verification/handler"
)

func main() {
	cfg := config.FromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		logger.Info("connected to postgres")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	redisClient, err := platformredis.New(cfg.RedisAddr)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	// Store selection. Postgres when configured, process memory otherwise.
	var (
		apps         appstore.Store
		auditStore   audit.Store
		outboxSource audit.OutboxSource
		userStore    user.Store
		dossierStore dossier.Store
		notifStore   notification.Store
		verifStore   verification.Store
		txRunner     service.TxRunner = service.NoopTxRunner{}
	)
	if db != nil {
		apps = appstore.NewPostgres(db)
		pgAudit := audit.NewPostgresStore(db)
		auditStore, outboxSource = pgAudit, pgAudit
		userStore = user.NewPostgresStore(db)
		dossierStore = dossier.NewPostgresStore(db)
		notifStore = notification.NewPostgresStore(db)
		txRunner = newPostgresTxRunner(db)
	} else {
		apps = appstore.NewInMemory()
		auditStore = audit.NewInMemoryStore()
		userStore = user.NewInMemoryStore()
		dossierStore = dossier.NewInMemoryStore()
		notifStore = notification.NewInMemoryStore()
	}
	if redisClient != nil {
		verifStore = verification.NewRedisStore(redisClient.Client)
	} else {
		verifStore = verification.NewInMemoryStore()
	}

	recorder := audit.NewRecorder(auditStore)
	tokens := user.NewTokenService(cfg.JWTSigningKey, "certreg", cfg.JWTTTL)
	users := user.NewService(userStore, tokens, recorder, logger)
	dispatcher := notification.NewDispatcher(notifStore, notification.NewLogMailer(logger), users, logger)
	dossiers := dossier.NewService(dossierStore)
	issuer := certificate.NewIssuer(cfg.SecretKey, cfg.CertNumberPrefix)
	lifecycle := service.New(apps, dossiers, issuer, recorder, dispatcher, txRunner, logger)
	verifier := verification.NewService(verifStore, apps, dossiers, verification.NewLogSender(logger), logger)

	g, ctx := errgroup.WithContext(ctx)

	// Audit outbox draining requires both the durable outbox table and a
	// broker to drain it into.
	if len(cfg.KafkaBrokers) > 0 && outboxSource != nil {
		publisher, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return err
		}
		defer publisher.Close()
		worker := audit.NewOutboxWorker(outboxSource, publisher, logger)
		g.Go(func() error { return worker.Run(ctx) })
		logger.Info("audit outbox worker started", "topic", cfg.AuditTopic)
	}

	router := newRouter(routerDeps{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		tokens:     tokens,
		users:      users,
		lifecycle:  lifecycle,
		dossiers:   dossiers,
		verifier:   verifier,
		dispatcher: dispatcher,
		recorder:   recorder,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

type routerDeps struct {
	cfg        config.Config
	logger     *slog.Logger
	db         *sql.DB
	redis      *platformredis.Client
	tokens     *user.TokenService
	users      *user.Service
	lifecycle  *service.Service
	dossiers   *dossier.Service
	verifier   *verification.Service
	dispatcher *notification.Dispatcher
	recorder   *audit.Recorder
}

func newRouter(deps routerDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.logger))
	r.Use(middleware.RequestMetadata)
	r.Use(middleware.Logger(deps.logger))

	r.Get("/health", healthHandler(deps))
	r.Handle("/metrics", promhttp.Handler())

	// Public surface: registration, login, and certificate verification.
	userhandler.New(deps.users, deps.logger).RegisterPublic(r)
	verifyhandler.New(deps.verifier, deps.logger).Register(r)

	// Authenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.tokens, deps.logger))

		userhandler.New(deps.users, deps.logger).RegisterProtected(r)
		apphandler.New(deps.lifecycle, deps.dossiers, deps.logger).Register(r)
		notifyhandler.New(deps.dispatcher, deps.logger).Register(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStaff)
			adminhandler.New(deps.lifecycle, deps.users, deps.recorder, deps.logger).
				Register(r, middleware.RequireSuperAdmin)
		})
	})

	return r
}

func healthHandler(deps routerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := http.StatusOK
		body := "ok"
		if deps.db != nil {
			if err := deps.db.PingContext(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, "database unreachable"
			}
		}
		if deps.redis != nil && status == http.StatusOK {
			if err := deps.redis.Health(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, "redis unreachable"
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
