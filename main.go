package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audio-converter/config"
	"audio-converter/logger"
	"audio-converter/models"
	"audio-converter/report"
	"audio-converter/services"
	"audio-converter/worker"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("", "info").WithError(err).Fatal("Invalid configuration")
	}

	log := logger.New(cfg.Environment, cfg.LogLevel)
	log.Info("Starting audio conversion service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbSvc, err := services.NewDatabaseService(cfg.DatabaseURL, cfg.QueueTable)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer dbSvc.Close()
	if err := connectWithRetry(ctx, log, "database", dbSvc.Ping); err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	log.WithField("table", cfg.QueueTable).Info("Connected to database successfully")

	s3Svc := services.NewS3Service(cfg)

	model, err := services.NewWhisperCLI(cfg.WhisperPath, cfg.WhisperModel, cfg.WhisperLanguage)
	if err != nil {
		log.WithError(err).Fatal("Speech model is not available")
	}

	deps := worker.Dependencies{
		Store:       dbSvc,
		Fetcher:     services.NewFetchService(s3Svc),
		Transcriber: services.NewTranscriptionService(services.NewFFmpegDecoder(cfg.FFmpegPath), model),
		Summarizer:  services.NewSummaryService(cfg.LLMGatewayURL, cfg.LLMAPIKey, cfg.LLMModel),
		Publisher:   s3Svc,
		Registrar: services.NewRegistrarService(services.RegistrationTarget{
			URL:         cfg.RegistrationURL,
			Token:       cfg.RegistrationToken,
			WorkspaceID: cfg.WorkspaceID,
			OrgID:       cfg.OrgID,
			BoardID:     cfg.BoardID,
		}),
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		ping := func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		if err := connectWithRetry(ctx, log, "redis", ping); err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		redisSvc := services.NewRedisService(redisClient, cfg.RedisPrefix, cfg.StatusTTL, cfg.LockTTL)
		deps.Status = redisSvc
		deps.Locker = redisSvc
		log.WithField("addr", cfg.RedisAddr).Info("Connected to Redis successfully")
	}

	if cfg.NATSURL != "" {
		bus, err := services.ConnectEventBus(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to NATS")
		}
		defer bus.Close()
		deps.Events = bus
		log.WithField("subject_prefix", cfg.NATSSubjectPrefix).Info("Connected to NATS successfully")
	}

	pool := worker.NewPool(cfg, deps, log)

	log.WithFields(logrus.Fields{
		"batch_size":    cfg.BatchSize,
		"worker_count":  cfg.WorkerCount,
		"poll_interval": cfg.PollInterval.String(),
		"max_attempts":  cfg.MaxAttempts,
	}).Info("Service is ready to process conversions")

	err = pool.Run(ctx, func(rep *models.BatchReport) {
		if cfg.ReportPath == "" {
			return
		}
		if err := report.WriteXLSX(cfg.ReportPath, rep); err != nil {
			log.WithError(err).WithField("path", cfg.ReportPath).Warn("Failed to write batch report")
			return
		}
		log.WithField("path", cfg.ReportPath).Info("Batch report written")
	})
	if err != nil {
		log.WithError(err).Fatal("Conversion run aborted")
	}

	log.Info("Conversion service stopped")
}

// connectWithRetry pings a dependency with exponential backoff until it
// answers, ctx is cancelled or a minute has passed.
func connectWithRetry(ctx context.Context, log *logrus.Entry, name string, ping func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = time.Minute

	attempt := 0
	op := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := ping(pingCtx)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"dependency": name,
				"attempt":    attempt,
			}).Warn("Dependency not ready, retrying")
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
