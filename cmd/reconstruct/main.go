// Command reconstruct runs the reconstruction pipeline once over one video
// and exits: 0 on success, 1 when the pipeline aborts, 2 on a usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/colmap"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/config"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/ffmpeg"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/metrics"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/postgres"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/sqlite"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/tracing"
	"github.com/Andrey-Arsen/robotic-vision/internal/usecase"
	"github.com/Andrey-Arsen/robotic-vision/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	flags, err := config.ParseFlags("reconstruct", args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		return exitUsage
	}

	cfg, err := config.Load(flags.EnvFile())
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitUsage
	}
	flags.Apply(cfg)
	switch rest := flags.Args(); {
	case len(rest) > 1:
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", rest[1:])
		return exitUsage
	case len(rest) == 1:
		cfg.VideoPath = rest[0]
	}
	if err := cfg.ValidateRun(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		flags.Usage()
		return exitUsage
	}

	log, err := logger.NewWithFormat(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return exitUsage
	}
	defer log.Sync()

	if cfg.JaegerEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint, "reconstruct")
		if err != nil {
			log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	if cfg.MetricsPort > 0 {
		metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)
	}

	var runs port.RunRepository
	if cfg.DatabaseURL != "" {
		pool, err := openLedger(ctx, cfg)
		if err != nil {
			log.Warn("run ledger unavailable, continuing without it", zap.Error(err))
		} else {
			defer pool.Close()
			runs = postgres.NewRunRepository(pool)
		}
	}

	uc := usecase.NewReconstructUseCase(
		colmap.NewRunner(colmap.RunnerConfig{
			Path:         cfg.ToolPath,
			StageTimeout: cfg.StageTimeout,
			KillGrace:    cfg.KillGrace,
		}, log),
		ffmpeg.NewSampler(ffmpeg.NewDecoder(cfg.FFmpegPath, cfg.FFprobePath, log), log),
		colmap.NewLayoutNormalizer(log),
		sqlite.NewInspector(),
		runs,
		log,
		usecase.ReconstructConfig{FrameRate: cfg.FrameRate, MaxImageSize: cfg.MaxImageSize},
	)

	result, err := uc.Execute(ctx, usecase.ReconstructRequest{
		VideoPath:     cfg.VideoPath,
		WorkspaceRoot: cfg.WorkspaceRoot,
	})

	if cfg.MetricsTextfile != "" {
		if werr := metrics.WriteTextfile(cfg.MetricsTextfile); werr != nil {
			log.Warn("failed to write metrics textfile", zap.String("path", cfg.MetricsTextfile), zap.Error(werr))
		}
	}

	if err != nil {
		log.Error("reconstruction failed",
			zap.String("code", entity.ErrorCode(err)),
			zap.String("stage", string(result.FailedStage)),
			zap.Error(err),
		)
		return exitFailure
	}

	log.Info("reconstruction finished",
		zap.String("run_id", result.ID.String()),
		zap.Int("frames", result.FrameCount),
		zap.Duration("elapsed", result.Duration()),
	)
	return exitOK
}

func openLedger(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return pool, nil
}
