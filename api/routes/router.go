package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcourselabs/mcourse-backend/api/controllers"
	webhookcontrollers "github.com/mcourselabs/mcourse-backend/api/controllers/webhooks"
	"github.com/mcourselabs/mcourse-backend/api/middleware"
	"github.com/mcourselabs/mcourse-backend/internal/enrollments"
	"github.com/mcourselabs/mcourse-backend/internal/notifications"
	"github.com/mcourselabs/mcourse-backend/internal/orders"
	"github.com/mcourselabs/mcourse-backend/internal/reconcile"
	sepaywebhook "github.com/mcourselabs/mcourse-backend/internal/webhooks/sepay"
	"github.com/mcourselabs/mcourse-backend/pkg/config"
	"github.com/mcourselabs/mcourse-backend/pkg/db"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
	"github.com/mcourselabs/mcourse-backend/pkg/redis"
	"github.com/mcourselabs/mcourse-backend/pkg/sepay"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	sepayClient *sepay.Client,
	ordersService orders.Service,
	reconcileEngine reconcile.Engine,
	notificationsRepo notifications.Repository,
	enrollmentsRepo enrollments.Repository,
	webhookService *sepaywebhook.Service,
	webhookGuard *sepaywebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/sepay", webhookcontrollers.SepayWebhook(webhookService, webhookGuard, logg))
		r.Post("/sepay/ipn", webhookcontrollers.SepayIPN(webhookService, sepayClient, webhookGuard, logg))
	})

	r.Get("/api/v1/payments/bank-info", controllers.BankInfo(sepayClient, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(ordersService, logg))
		})
		r.Route("/payments", func(r chi.Router) {
			r.Get("/{paymentID}", controllers.PaymentStatus(reconcileEngine, logg))
			r.Post("/{paymentID}/confirm", controllers.PaymentConfirm(reconcileEngine, logg))
		})
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notificationsRepo, logg))
			r.Post("/{notificationID}/read", controllers.MarkNotificationRead(notificationsRepo, logg))
		})
		r.Get("/enrollments", controllers.ListEnrollments(enrollmentsRepo, logg))
	})

	return r
}
