package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/colmap"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/config"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/email"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/ffmpeg"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/metrics"
	miniostorage "github.com/Andrey-Arsen/robotic-vision/internal/infra/minio"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/postgres"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/rabbitmq"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/sqlite"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/tracing"
	"github.com/Andrey-Arsen/robotic-vision/internal/usecase"
	"github.com/Andrey-Arsen/robotic-vision/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.Load(envFile)
	fatalOnErr(err, "load config")
	fatalOnErr(cfg.ValidateWorker(), "validate config")

	log, err := logger.NewWithFormat(cfg.LogFormat, cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting reconstruction worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	if cfg.JaegerEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint, "reconstruction-worker")
		if err != nil {
			log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// Database
	err = postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir)
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		VideoBucket:   cfg.MinIOVideoBucket,
		ArchiveBucket: cfg.MinIOArchiveBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Pipeline
	runner := colmap.NewRunner(colmap.RunnerConfig{
		Path:         cfg.ToolPath,
		StageTimeout: cfg.StageTimeout,
		KillGrace:    cfg.KillGrace,
	}, log)
	fatalOnErr(runner.Verify(), "verify colmap")

	reconstruct := usecase.NewReconstructUseCase(
		runner,
		ffmpeg.NewSampler(ffmpeg.NewDecoder(cfg.FFmpegPath, cfg.FFprobePath, log), log),
		colmap.NewLayoutNormalizer(log),
		sqlite.NewInspector(),
		postgres.NewRunRepository(pool),
		log,
		usecase.ReconstructConfig{FrameRate: cfg.FrameRate, MaxImageSize: cfg.MaxImageSize},
	)

	var notifier *email.SMTPNotifier
	if cfg.SMTPHost != "" {
		notifier = email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)
	}

	uc := usecase.NewProcessRequestUseCase(
		postgres.NewJobRepository(pool), storage, reconstruct, ffmpeg.NewZipCreator(),
		statusPub, dlqPub, notifierOrNil(notifier),
		log,
		usecase.ProcessRequestConfig{
			WorkspaceRoot: cfg.WorkspaceRoot,
			TempDir:       cfg.TempDir,
			MaxRetries:    cfg.MaxRetries,
		},
	)

	// Metrics server, stopped when ctx is cancelled
	if cfg.MetricsPort > 0 {
		metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)
	}

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQRequestQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("reconstruction worker started, consuming messages",
		zap.String("queue", cfg.RabbitMQRequestQueue),
		zap.String("colmap", runner.Path()),
	)

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	consumer.Close()
	log.Info("reconstruction worker stopped")
}

// notifierOrNil keeps a nil *SMTPNotifier from becoming a non-nil interface.
func notifierOrNil(n *email.SMTPNotifier) port.FailureNotifier {
	if n == nil {
		return nil
	}
	return n
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
