package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/mcourselabs/mcourse-backend/api/routes"
	"github.com/mcourselabs/mcourse-backend/internal/courses"
	"github.com/mcourselabs/mcourse-backend/internal/enrollments"
	"github.com/mcourselabs/mcourse-backend/internal/notifications"
	"github.com/mcourselabs/mcourse-backend/internal/orders"
	"github.com/mcourselabs/mcourse-backend/internal/reconcile"
	sepaywebhook "github.com/mcourselabs/mcourse-backend/internal/webhooks/sepay"
	"github.com/mcourselabs/mcourse-backend/pkg/config"
	"github.com/mcourselabs/mcourse-backend/pkg/db"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
	"github.com/mcourselabs/mcourse-backend/pkg/migrate"
	"github.com/mcourselabs/mcourse-backend/pkg/redis"
	"github.com/mcourselabs/mcourse-backend/pkg/sepay"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sepayClient, err := sepay.NewClient(context.Background(), cfg.Sepay, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create sepay client", err)
		os.Exit(1)
	}

	coursesRepo := courses.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	reconcileRepo := reconcile.NewRepository(dbClient.DB())
	enrollmentsRepo := enrollments.NewRepository(dbClient.DB())
	notificationsRepo := notifications.NewRepository(dbClient.DB())

	ordersService, err := orders.NewService(ordersRepo, coursesRepo, dbClient, sepayClient, cfg.Payments)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	activator, err := enrollments.NewActivator(enrollmentsRepo, notificationsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create enrollment activator", err)
		os.Exit(1)
	}

	reconcileEngine, err := reconcile.NewEngine(reconcileRepo, dbClient, activator, sepayClient, cfg.Payments, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile engine", err)
		os.Exit(1)
	}

	webhookService, err := sepaywebhook.NewService(sepaywebhook.ServiceParams{
		Engine: reconcileEngine,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sepay webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := sepaywebhook.NewIdempotencyGuard(redisClient, cfg.Sepay.IPNReplayTTL, "sepay")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			sepayClient,
			ordersService,
			reconcileEngine,
			notificationsRepo,
			enrollmentsRepo,
			webhookService,
			webhookGuard,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
