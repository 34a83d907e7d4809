package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/delivery"
	"storefront/internal/dispatch"
	"storefront/internal/domain"
	api_http "storefront/internal/handler/http/api"
	kafka_handler "storefront/internal/handler/kafka"
	"storefront/internal/metrics"
	"storefront/internal/notify"
	"storefront/internal/payment"
	"storefront/internal/queue"
	event_pg "storefront/internal/repository/event_repo/postgres"
	merchant_pg "storefront/internal/repository/merchant_repo/postgres"
	order_pg "storefront/internal/repository/order_repo/postgres"
	"storefront/internal/storage"
	"storefront/internal/webhook"
)

func ensureKafkaTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if err == kafka.TopicAlreadyExists {
			logger.Info("Kafka topics already exist, skipping creation.")
		} else {
			return fmt.Errorf("failed to create Kafka topics: %w", err)
		}
	} else {
		logger.Info("Kafka topics ensured successfully.", zap.Strings("topics", topics))
	}
	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	appLogger.Info("Webhook pipeline service starting...")

	metrics.Register()

	appLogger.Info("Waiting for database to be available...")
	var db *sql.DB
	maxRetries := 10
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(cfg.GetDBConnectionString())
		if err == nil {
			appLogger.Info("Successfully connected to PostgreSQL database!")
			break
		}
		appLogger.Warn(fmt.Sprintf("Failed to connect to database (attempt %d/%d): %v. Retrying in %s...", i+1, maxRetries, err, retryDelay))
		time.Sleep(retryDelay)
	}
	if db == nil {
		appLogger.Fatal("Could not connect to database after multiple retries. Exiting.", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		}
	}()

	appLogger.Info("Running database migrations...")
	m, err := migrate.New(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
	if err != nil {
		appLogger.Fatal("Failed to create migrate instance", zap.Error(err))
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	appLogger.Info("Database migrations completed successfully (or no new migrations).")

	orderRepository := order_pg.NewOrderRepository()
	eventRepository := event_pg.NewProcessedEventRepository()
	merchantRepository := merchant_pg.NewMerchantRepository()

	var sessionClient payment.SessionClient
	if cfg.StripeSecretKey != "" {
		sessionClient = payment.NewStripeClient(cfg.StripeSecretKey)
		appLogger.Info("Stripe session client initialized.")
	} else {
		appLogger.Warn("STRIPE_SECRET_KEY is not set; checkout endpoints will answer 503.")
	}

	notifier := notify.NewClient(
		cfg.EmailAPIURL,
		cfg.EmailAPIKey,
		cfg.EmailFrom,
		cfg.AdminEmail,
		appLogger.With(zap.String("component", "Notifier")),
	)

	tasks := []delivery.Task{delivery.KickoffEmailTask(notifier)}
	if cfg.AdminEmail != "" {
		tasks = append(tasks, delivery.AdminNoticeTask(notifier))
	}
	if cfg.S3Bucket != "" {
		uploader, err := storage.NewS3Store(context.Background(), cfg.S3Bucket, cfg.AWSRegion)
		if err != nil {
			appLogger.Fatal("Failed to initialize S3 storage", zap.Error(err))
		}
		tasks = append(tasks, delivery.WelcomePacketTask(uploader))
	} else {
		appLogger.Warn("S3_BUCKET is not set; welcome packet deliverable is disabled.")
	}

	orchestrator := delivery.NewOrchestrator(
		db,
		orderRepository,
		tasks,
		appLogger.With(zap.String("component", "DeliveryOrchestrator")),
	)

	dispatcher := dispatch.NewDispatcher(
		db,
		orderRepository,
		eventRepository,
		merchantRepository,
		sessionClient,
		orchestrator,
		appLogger.With(zap.String("component", "EventDispatcher")),
	)
	appLogger.Info("Event dispatcher initialized.")

	inlineDispatch := func(ctx context.Context, event *domain.Event) error {
		_, err := dispatcher.Dispatch(ctx, event)
		return err
	}

	var kafkaProducer queue.Producer
	if cfg.QueueEnabled() {
		topicCtx, topicCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := ensureKafkaTopics(topicCtx, cfg.GetKafkaBrokers(), []string{cfg.KafkaEventsTopic}, appLogger); err != nil {
			topicCancel()
			appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
		}
		topicCancel()

		kafkaProducer = queue.NewProducer(
			cfg.GetKafkaBrokers(),
			appLogger.With(zap.String("component", "KafkaProducer")),
		)
		defer func() {
			if err := kafkaProducer.Close(); err != nil {
				appLogger.Error("Error closing Kafka producer", zap.Error(err))
			}
		}()
		appLogger.Info("Kafka producer created successfully.")
	} else {
		appLogger.Warn("KAFKA_BROKER_URL is not set; events will be dispatched inline (degraded mode).")
	}

	publisher := queue.NewPublisher(
		kafkaProducer,
		cfg.KafkaEventsTopic,
		inlineDispatch,
		appLogger.With(zap.String("component", "EventPublisher")),
	)

	verifier := webhook.NewVerifier(cfg.StripeWebhookSecret, cfg.SignatureTolerance)
	if cfg.StripeWebhookSecret == "" {
		appLogger.Warn("STRIPE_WEBHOOK_SECRET is not set; the webhook endpoint will answer 503.")
	}

	if cfg.QueueBridgeToken == "" {
		appLogger.Warn("QUEUE_BRIDGE_TOKEN is not set; the queue bridge endpoint will answer 503.")
	}

	handler := api_http.NewHandler(
		verifier,
		publisher,
		dispatcher,
		sessionClient,
		orderRepository,
		db,
		cfg.BaseURL,
		cfg.StripeWebhookSecret != "",
		cfg.QueueBridgeToken,
		appLogger.With(zap.String("component", "HTTPHandler")),
	)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	api_http.RegisterRoutes(router, handler)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	appLogger.Info("HTTP server configured.", zap.String("address", httpServer.Addr))

	ctxMain, cancelMain := context.WithCancel(context.Background())

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	var eventsConsumer queue.Consumer
	if cfg.QueueEnabled() {
		eventsConsumer = queue.NewConsumer(
			cfg.GetKafkaBrokers(),
			cfg.KafkaConsumerGroup,
			cfg.KafkaEventsTopic,
			appLogger.With(zap.String("component", "EventsConsumer")),
		)
		eventHandler := kafka_handler.EventMessageHandler(
			dispatcher,
			appLogger.With(zap.String("component", "EventConsumerHandler")),
		)
		go func() {
			appLogger.Info("Starting events Kafka consumer...")
			if err := eventsConsumer.Start(ctxMain, eventHandler); err != nil && err != context.Canceled {
				appLogger.Error("Events Kafka consumer failed", zap.Error(err))
			}
			appLogger.Info("Events Kafka consumer stopped.")
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	appLogger.Info("Shutting down application...")
	cancelMain()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	if eventsConsumer != nil {
		eventsConsumer.Stop()
	}

	appLogger.Info("Application gracefully shut down.")
}
