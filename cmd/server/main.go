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
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/config"
	"github.com/voteverify/voteverify/internal/handlers"
	"github.com/voteverify/voteverify/internal/middleware"
	"github.com/voteverify/voteverify/internal/models"
	"github.com/voteverify/voteverify/internal/repository"
	"github.com/voteverify/voteverify/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dynamoClient *dynamodb.Client
	if cfg.OTP.Store == config.StoreDynamoDB || cfg.OTP.ChatLinkStore == config.StoreDynamoDB {
		dynamoClient, err = initDynamoDB(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize DynamoDB")
		}
	}

	otpStore, closeStore, err := initOTPStore(ctx, cfg, dynamoClient, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OTP store")
	}
	defer closeStore()

	var chatLinks repository.ChatLinkRepository = repository.NewMemoryChatLinkRepository()
	if cfg.OTP.ChatLinkStore == config.StoreDynamoDB {
		chatLinks = repository.NewDynamoChatLinkRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	}

	// Initialize services
	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	smsService := service.NewSMSService(&cfg.Twilio, &cfg.Delivery, cfg.OTP.Expiry, logger)
	bot := service.NewTelegramBot(&cfg.Telegram, cfg.Delivery.Timeout, logger)
	telegramService := service.NewTelegramService(bot, chatLinks, cfg.OTP.Expiry, cfg.Delivery.DefaultCountryCode, logger)

	dispatcher := service.NewDispatcher(cfg.Delivery.Timeout)
	dispatcher.Register(models.MethodSMS, smsService)
	dispatcher.Register(models.MethodTelegram, telegramService)

	otpService := service.NewOTPService(otpStore, dispatcher, &cfg.OTP, logger)

	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		logger.WithField("missing", missing).Warn("Some delivery channels are not configured")
	}
	if cfg.OTP.DemoMode {
		logger.Warn("Demo mode is enabled, codes are returned to the client instead of being delivered")
	}

	validator, err := handlers.NewRequestValidator(cfg.OTP.Length)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize request validator")
	}

	authHandlers := handlers.NewAuthHandlers(otpService, jwtService, validator, cfg, logger)
	telegramHandlers := handlers.NewTelegramHandlers(telegramService, validator, &cfg.Telegram, logger)

	authMiddleware := middleware.NewAuthMiddleware(jwtService, cfg.Admin.APIKey, logger)
	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	go rateLimiter.Cleanup(ctx, time.Minute)

	router := setupRouter(authHandlers, telegramHandlers, authMiddleware, rateLimiter, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      middleware.CORSMiddleware(cfg.Server.AllowedOrigins)(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}

func initOTPStore(ctx context.Context, cfg *config.Config, dynamoClient *dynamodb.Client, logger *logrus.Logger) (repository.OTPStore, func(), error) {
	switch cfg.OTP.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Endpoint, err)
		}

		logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis OTP store initialized")
		return repository.NewRedisOTPStore(client, cfg.OTP.Retention, logger), func() { _ = client.Close() }, nil

	case config.StoreDynamoDB:
		logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB OTP store initialized")
		return repository.NewDynamoOTPStore(dynamoClient, cfg.DynamoDB.TableName, cfg.OTP.Retention, logger), func() {}, nil

	default:
		logger.Info("In-memory OTP store initialized")
		return repository.NewMemoryOTPStore(), func() {}, nil
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
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func setupRouter(
	authHandlers *handlers.AuthHandlers,
	telegramHandlers *handlers.TelegramHandlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimiter *middleware.RateLimiter,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.Use(rateLimiter.Middleware)
	auth.HandleFunc("/send-otp", authHandlers.SendOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/environment-check", authHandlers.EnvironmentCheck).Methods("GET")

	telegram := api.PathPrefix("/telegram").Subrouter()
	telegram.HandleFunc("/webhook", telegramHandlers.Webhook).Methods("POST")
	telegram.HandleFunc("/instructions", telegramHandlers.Instructions).Methods("GET")
	telegram.Handle("/setup-webhook", authMiddleware.RequireAdmin(http.HandlerFunc(telegramHandlers.SetupWebhook))).Methods("POST")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireVerified)
	protected.HandleFunc("/me", authHandlers.Me).Methods("GET")

	return router
}
