package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/email"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/events"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/loginattempt"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/storage"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-account")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secCfg, err := security.ConfigFromEnv()
	if err != nil {
		sugar.Fatalf("security config: %v", err)
	}
	if secCfg.Generated {
		sugar.Warn("JWT_SECRET not set; using a random per-process secret, tokens will not survive a restart")
	}
	tokens := security.NewTokenProvider(secCfg)

	dir, closeDir := openDirectory(ctx, sugar)
	defer closeDir()

	attempts, closeAttempts := openAttemptStore(ctx, sugar)
	defer closeAttempts()

	images, err := storage.New(storage.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("image store: %v", err)
	}

	publisher, closePublisher := openPublisher(sugar)
	defer closePublisher()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "account")

	svc := user.NewUserService(user.Deps{
		Directory: dir,
		Images:    images,
		Attempts:  attempts,
		Tokens:    tokens,
		Hasher:    security.BcryptHasher{Cost: secCfg.BcryptCost},
		Mailer:    email.New(email.ConfigFromEnv(), sugar),
		Events:    publisher,
		Metrics:   m,
		Logger:    sugar,
		BaseURL:   getenv("PUBLIC_BASE_URL", "http://localhost:8431"),
	})

	handler := router.RegisterRoutes(router.Options{
		Logger:        sugar,
		Users:         user.NewHandler(svc, sugar),
		Tokens:        tokens,
		Metrics:       m,
		AllowedOrigin: os.Getenv("CORS_ALLOWED_ORIGIN"),
	})
	srv := &http.Server{
		Addr:              getenv("HTTP_ADDR", "0.0.0.0:8431"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

// openDirectory uses Postgres when DATABASE_URL is set and an in-memory directory otherwise.
func openDirectory(ctx context.Context, sugar *zap.SugaredLogger) (user.Directory, func()) {
	cfg := database.ConfigFromEnv()
	if cfg.DSN == "" {
		node, err := utilities.NewSnowflakeNode()
		if err != nil {
			sugar.Fatalf("snowflake node: %v", err)
		}
		sugar.Warn("DATABASE_URL not set; accounts are kept in memory")
		return userrepo.NewMemoryRepo(node), func() {}
	}

	sqlDB, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	db := sqlx.NewDb(sqlDB, "postgres")
	repo := userrepo.NewUserRepo(db)
	if err := repo.EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure users table: %v", err)
	}
	return repo, func() { _ = db.Close() }
}

func openAttemptStore(ctx context.Context, sugar *zap.SugaredLogger) (loginattempt.Store, func()) {
	cfg := loginattempt.ConfigFromEnv()
	if cfg.RedisAddr == "" {
		return loginattempt.NewCache(cfg), func() {}
	}
	rdb, err := loginattempt.DialRedis(ctx, cfg)
	if err != nil {
		sugar.Fatalf("login attempt store: %v", err)
	}
	sugar.Infow("login attempts shared through redis", "addr", cfg.RedisAddr)
	return loginattempt.NewRedisStore(rdb, cfg), func() { _ = rdb.Close() }
}

func openPublisher(sugar *zap.SugaredLogger) (events.Publisher, func()) {
	cfg := events.ConfigFromEnv()
	if cfg.URL == "" {
		return events.NopPublisher{}, func() {}
	}
	p, err := events.NewNATSPublisher(cfg)
	if err != nil {
		// Events are advisory; the service runs without them.
		sugar.Warnw("nats unavailable, account events disabled", "err", err)
		return events.NopPublisher{}, func() {}
	}
	return p, p.Close
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
