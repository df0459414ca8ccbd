package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/events"
	"github.com/edlab/edlab/internal/handlers"
	"github.com/edlab/edlab/internal/metrics"
	"github.com/edlab/edlab/internal/middleware"
	"github.com/edlab/edlab/internal/notify"
	"github.com/edlab/edlab/internal/repository"
	"github.com/edlab/edlab/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Server.LogLevel).Warn("Unknown log level, keeping info")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	stores, closeStores, err := initStores(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize stores")
	}
	defer closeStores()

	publisher := initPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close event publisher")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	// Initialize services
	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}
	policy, err := service.NewVerificationPolicy(&cfg.OTP)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OTP verification policy")
	}

	otpService := service.NewOTPService(stores.OTPs, initSender(cfg, logger), policy, &cfg.OTP, appMetrics, logger)
	ledgerService := service.NewLedgerService(stores.Ledger, publisher, appMetrics, &cfg.Ledger, logger)
	labService := service.NewLabService(stores.Sessions, publisher, appMetrics, logger)
	refreshTokenService := service.NewRefreshTokenService(stores.RefreshTokens, jwtService, logger)
	authService := service.NewAuthService(stores.Users, otpService, ledgerService, refreshTokenService, logger)

	router := setupRouter(routerDeps{
		auth:        handlers.NewAuthHandlers(authService, logger),
		tokens:      handlers.NewTokenHandlers(ledgerService, logger),
		labs:        handlers.NewLabHandlers(labService, logger),
		system:      handlers.NewSystemHandlers(cfg.Server.Environment),
		requireAuth: middleware.NewAuthMiddleware(jwtService, logger).RequireAuth,
		otpLimiter:  middleware.NewIPRateLimiter(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, logger),
		metrics:     appMetrics,
		gatherer:    registry,
		cfg:         &cfg.Server,
		logger:      logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":         cfg.Server.Port,
			"environment":  cfg.Server.Environment,
			"store":        cfg.Store.Backend,
			"verification": cfg.OTP.VerificationMode,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// initStores builds the configured backend. The returned func releases its connections.
func initStores(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*repository.Stores, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := repository.PingRedis(pingCtx, client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
		return repository.NewRedisStores(client, logger), func() { _ = client.Close() }, nil

	case config.StoreDynamoDB:
		client, err := initDynamoDB(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewDynamoDBStores(client, cfg.DynamoDB.TableName, logger), func() {}, nil

	default:
		logger.Warn("Using in-memory stores; all state is lost on restart")
		return repository.NewMemoryStores(), func() {}, nil
	}
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func initPublisher(cfg *config.Config, logger *logrus.Logger) events.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.NewLogPublisher(logger)
	}
	logger.WithFields(logrus.Fields{
		"brokers": cfg.Kafka.Brokers,
		"topic":   cfg.Kafka.Topic,
	}).Info("Publishing domain events to Kafka")
	return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
}

func initSender(cfg *config.Config, logger *logrus.Logger) notify.Sender {
	if cfg.SMS.Provider == config.SMSProviderTwilio {
		return notify.NewTwilioSender(&cfg.SMS, logger)
	}
	return notify.NewLogSender(logger)
}
