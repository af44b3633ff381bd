package main

import (
	"context"
	"errors"
	"expvar"
	"log"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/slotline/courtqueue/internal/courts"
	"github.com/slotline/courtqueue/internal/infrastructure/configs"
	"github.com/slotline/courtqueue/internal/infrastructure/events"
	"github.com/slotline/courtqueue/internal/infrastructure/logging"
	"github.com/slotline/courtqueue/internal/infrastructure/messaging"
	"github.com/slotline/courtqueue/internal/infrastructure/metrics"
	"github.com/slotline/courtqueue/internal/infrastructure/ratelimiter"
	"github.com/slotline/courtqueue/internal/infrastructure/tracing"
	"github.com/slotline/courtqueue/internal/infrastructure/ws"
	"github.com/slotline/courtqueue/internal/persistence/db"
	"github.com/slotline/courtqueue/internal/persistence/repository"
	"github.com/slotline/courtqueue/internal/presentation/api"
	"github.com/slotline/courtqueue/internal/presentation/handler/health"
	"github.com/slotline/courtqueue/internal/presentation/handler/notifications"
	"github.com/slotline/courtqueue/internal/presentation/handler/queues"
	"github.com/slotline/courtqueue/internal/service"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	serviceName = "courtqueue-api"
)

func main() {
	tracerCfg := tracing.NewDefaultConfig(serviceName)

	sh, err := tracing.InitTracer(tracerCfg)
	if err != nil {
		log.Fatalf("Failed to initialize the tracer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sh(ctx)

	logger := logging.NewLogger(logging.NewDefaultConfig())

	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	mongoCfg := &db.MongoConfig{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
	}
	mongoClient, err := db.NewMongoClient(ctx, mongoCfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := db.DisconnectMongo(context.Background(), mongoClient); err != nil {
			log.Printf("mongodb disconnect failed: %v", err)
		}
	}()

	database := db.GetDatabase(mongoClient, mongoCfg)
	queueRepository := repository.NewCourtQueueRepository(database)
	auditRepository := repository.NewQueueAuditLogRepository(database)

	if err := queueRepository.EnsureIndexes(ctx); err != nil {
		log.Fatalf("failed to ensure queue indexes: %v", err)
	}
	if err := auditRepository.EnsureIndexes(ctx); err != nil {
		log.Fatalf("failed to ensure audit indexes: %v", err)
	}

	broker, err := messaging.NewRabbitMQ(cfg.AMQP.URI, cfg.AMQP.Exchange, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer broker.Close()
	broker.OnDrop = m.EventsDropped.Inc

	logger.Info(logging.RabbitMQ, logging.Startup, "broker connection established", map[logging.ExtraKey]any{
		"exchange": cfg.AMQP.Exchange,
	})

	publisher := events.NewQueuePublisher(broker)

	worker := events.NewQueueWorker(broker, auditRepository, cfg.AMQP.WorkerQueue, logger, m.AuditEventsProcessed.Inc)
	go func() {
		if err := worker.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(logging.RabbitMQ, logging.Worker, "audit worker stopped", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}()

	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	go func() {
		if err := hub.Feed(ctx, broker); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(logging.RabbitMQ, logging.Broadcast, "hub feed stopped", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}()

	courtLookup := courts.NewClient(cfg.Courts.BaseURL, cfg.Courts.Timeout)

	queueService := service.NewQueueService(
		queueRepository,
		courtLookup,
		publisher,
		logger,
		m,
		cfg.Queue.SlotMinutes,
	)

	queuesHandler := queues.NewHandler(queueService, auditRepository)
	notificationsHandler := notifications.NewHandler(broker, hub, logger, m)
	healthHandler := health.NewHandler(map[string]health.Probe{
		"mongodb":  mongoProbe(mongoClient),
		"rabbitmq": brokerProbe(broker),
	})

	rl := ratelimiter.New(ratelimiter.Options{
		MaxRatePerSecond: cfg.RateLimiter.MaxRatePerSecond,
		MaxBurst:         cfg.RateLimiter.MaxBurst,
		CacheTTL:         cfg.RateLimiter.CacheTTL,
		SourceHeaderKey:  cfg.RateLimiter.SourceHeaderKey,
	})

	app := api.NewApplication(*cfg, queuesHandler, notificationsHandler, healthHandler, logger, rl, m, registry)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.Mount()
	if err := app.Run(mux); err != nil {
		log.Fatal(err)
	}
}

func mongoProbe(client *mongo.Client) health.Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
}

func brokerProbe(broker *messaging.RabbitMQ) health.Probe {
	return func(ctx context.Context) error {
		if broker.IsClosed() {
			return errors.New("broker connection closed")
		}
		return nil
	}
}
