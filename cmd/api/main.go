package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/rwandacancerrelief/notify-api/internal/config"
	"github.com/rwandacancerrelief/notify-api/internal/delivery"
	healthHandler "github.com/rwandacancerrelief/notify-api/internal/handler/health"
	notificationHandler "github.com/rwandacancerrelief/notify-api/internal/handler/notification"
	"github.com/rwandacancerrelief/notify-api/internal/middleware"
	"github.com/rwandacancerrelief/notify-api/internal/repository/postgres"
	"github.com/rwandacancerrelief/notify-api/internal/router"
	"github.com/rwandacancerrelief/notify-api/internal/service/dispatch"
	notificationService "github.com/rwandacancerrelief/notify-api/internal/service/notification"
	reminderService "github.com/rwandacancerrelief/notify-api/internal/service/reminder"
	"github.com/rwandacancerrelief/notify-api/pkg/logger"
	"github.com/rwandacancerrelief/notify-api/pkg/messaging/redis"
	"github.com/rwandacancerrelief/notify-api/pkg/metrics"
	"github.com/rwandacancerrelief/notify-api/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	m := metrics.NewMetrics("notify")

	// Repositories
	base := postgres.NewBaseRepository(db)
	notificationRepo := postgres.NewNotificationRepository(base)
	markerRepo := postgres.NewReminderMarkerRepository(base)
	sessionRepo := postgres.NewSessionRepository(base)
	chatRepo := postgres.NewChatRepository(base)
	userRepo := postgres.NewUserRepository(base)

	// Delivery channels
	channels := delivery.NewRegistry(
		delivery.NewEmailChannel(delivery.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}),
		delivery.NewInAppChannel(broker),
	)

	// Services
	enqueueSvc := notificationService.NewService(notificationRepo, chatRepo, userRepo, m, appLogger)
	reminderSvc := reminderService.NewService(notificationRepo, markerRepo, sessionRepo, userRepo, m, appLogger)
	runner := dispatch.NewRunner(notificationRepo, userRepo, channels, m, appLogger)

	// HTTP surface
	authMiddleware := middleware.NewServiceAuthMiddleware(middleware.ServiceAuthConfig{
		JWTSecret:  cfg.Auth.JWTSecret,
		APIKeyHash: cfg.Auth.APIKeyHash,
	}, security.NewBcryptHasher(0))

	notifH := notificationHandler.NewHandler(enqueueSvc, reminderSvc, runner.DispatchDue, notificationRepo)
	healthH := healthHandler.NewHandler(db)

	r := router.NewRouter(authMiddleware, notifH, healthH, router.Config{
		RateLimit: rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst: cfg.RateLimit.Burst,
		CORS:      middleware.DefaultCORSConfig(),
		Timeout:   middleware.TimeoutConfig{Duration: cfg.Server.RequestTimeout},
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
