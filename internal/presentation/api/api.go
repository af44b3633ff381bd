package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slotline/courtqueue/internal/infrastructure/configs"
	"github.com/slotline/courtqueue/internal/infrastructure/logging"
	"github.com/slotline/courtqueue/internal/infrastructure/metrics"
	"github.com/slotline/courtqueue/internal/infrastructure/ratelimiter"
	healthHandler "github.com/slotline/courtqueue/internal/presentation/handler/health"
	notificationsHandler "github.com/slotline/courtqueue/internal/presentation/handler/notifications"
	queuesHandler "github.com/slotline/courtqueue/internal/presentation/handler/queues"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Application struct {
	config               configs.Config
	queuesHandler        *queuesHandler.Handler
	notificationsHandler *notificationsHandler.Handler
	healthHandler        *healthHandler.Handler
	logger               logging.Logger
	ratelimiter          ratelimiter.Limiter
	metrics              *metrics.Metrics
	registry             *prometheus.Registry
}

func NewApplication(
	config configs.Config,
	queuesHandler *queuesHandler.Handler,
	notificationsHandler *notificationsHandler.Handler,
	healthHandler *healthHandler.Handler,
	logger logging.Logger,
	ratelimiter ratelimiter.Limiter,
	m *metrics.Metrics,
	registry *prometheus.Registry,
) *Application {
	return &Application{
		config:               config,
		queuesHandler:        queuesHandler,
		notificationsHandler: notificationsHandler,
		healthHandler:        healthHandler,
		logger:               logger,
		ratelimiter:          ratelimiter,
		metrics:              m,
		registry:             registry,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(app.loggerMiddleware)
	r.Use(app.prometheusMiddleware)
	r.Use(app.rateLimiterMiddleware)
	r.Use(app.enableCors)

	r.Route("/api", func(r chi.Router) {
		// Queue operations are short-lived request/response calls.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/queues", func(r chi.Router) {
				r.Get("/", app.queuesHandler.GetAllQueuesHandler)
				r.Get("/{courtId}", app.queuesHandler.GetQueueStatusHandler)
				r.Get("/{courtId}/history", app.queuesHandler.GetQueueHistoryHandler)
				r.Post("/{courtId}/join", app.queuesHandler.JoinQueueHandler)
				r.Post("/{courtId}/leave", app.queuesHandler.LeaveQueueHandler)
			})
		})

		// Notification streams stay open indefinitely; no timeout here.
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/stream", app.notificationsHandler.StreamHandler)
			r.Get("/ws", app.notificationsHandler.WebSocketHandler)
		})

		r.Get("/health", app.healthHandler.GetHealth)
		r.Get("/healthz", app.healthHandler.GetHealth)
		r.Get("/ready", app.healthHandler.GetHealth)
		r.Get("/live", app.healthHandler.GetHealth)
	})

	r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	return otelhttp.NewHandler(r, "courtqueue-http")
}

func (app *Application) Run(mux http.Handler) error {
	// The SSE handler clears its own write deadline; WriteTimeout only
	// bounds the request/response endpoints.
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", app.config.HTTP.Host, app.config.HTTP.Port),
		Handler:      mux,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Info(logging.General, logging.Shutdown, "signal caught", map[logging.ExtraKey]any{
			"signal": s.String(),
		})

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})

	return nil
}
