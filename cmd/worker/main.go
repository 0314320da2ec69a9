package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/rwandacancerrelief/notify-api/internal/config"
	"github.com/rwandacancerrelief/notify-api/internal/delivery"
	"github.com/rwandacancerrelief/notify-api/internal/repository/postgres"
	"github.com/rwandacancerrelief/notify-api/internal/service/dispatch"
	reminderService "github.com/rwandacancerrelief/notify-api/internal/service/reminder"
	"github.com/rwandacancerrelief/notify-api/pkg/logger"
	"github.com/rwandacancerrelief/notify-api/pkg/messaging/redis"
	"github.com/rwandacancerrelief/notify-api/pkg/metrics"
)

// WorkerConfig is the poller's own configuration, taken from the
// environment. Database/Redis/SMTP settings come from the shared config
// file.
type WorkerConfig struct {
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"1m"`
	HealthAddr   string        `envconfig:"HEALTH_ADDR" default:":8081"`
}

func setupHealthCheck(addr string, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			appLogger.ZL.Error().Err(err).Msg("health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	var workerCfg WorkerConfig
	if err := envconfig.Process("NOTIFY_WORKER", &workerCfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load worker configuration")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil).WithFields(map[string]interface{}{
		"component": "dispatch-worker",
	})

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

	m := metrics.NewMetrics("notify_worker")

	base := postgres.NewBaseRepository(db)
	notificationRepo := postgres.NewNotificationRepository(base)
	markerRepo := postgres.NewReminderMarkerRepository(base)
	sessionRepo := postgres.NewSessionRepository(base)
	userRepo := postgres.NewUserRepository(base)

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

	reminderSvc := reminderService.NewService(notificationRepo, markerRepo, sessionRepo, userRepo, m, appLogger)
	runner := dispatch.NewRunner(notificationRepo, userRepo, channels, m, appLogger)

	setupHealthCheck(workerCfg.HealthAddr, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		appLogger.Info("shutting down dispatch worker")
		cancel()
	}()

	appLogger.Info("starting dispatch worker", "poll_interval", workerCfg.PollInterval.String())

	ticker := time.NewTicker(workerCfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			appLogger.Info("dispatch worker exited")
			return
		case <-ticker.C:
			if _, err := reminderSvc.SeedUpcomingSessionReminders(ctx); err != nil {
				appLogger.Error(err, "reminder seeding failed")
			}
			result, err := runner.DispatchDue(ctx)
			if err != nil {
				appLogger.Error(err, "dispatch run failed")
				continue
			}
			if result.Dispatched > 0 || result.Failed > 0 {
				appLogger.Info("dispatch run finished",
					"dispatched", result.Dispatched,
					"failed", result.Failed)
			}
		}
	}
}
