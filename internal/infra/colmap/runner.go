// Package colmap drives the COLMAP command line as a chain of blocking
// stage invocations and adapts its output tree to the canonical layout.
//
// Every invocation follows one contract: exit code 0 is success, any other
// exit code is a *entity.StageExecutionError, and an executable that cannot
// be started is a *entity.ConfigurationError. Nothing is retried here.
package colmap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

const defaultKillGrace = 10 * time.Second

type RunnerConfig struct {
	Path string
	// StageTimeout bounds each invocation. Zero means no limit.
	StageTimeout time.Duration
	// KillGrace is how long a cancelled child gets between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

// Runner runs COLMAP subcommands as child processes.
type Runner struct {
	path         string
	stageTimeout time.Duration
	killGrace    time.Duration
	logger       *zap.Logger
}

func NewRunner(cfg RunnerConfig, logger *zap.Logger) *Runner {
	grace := cfg.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}
	return &Runner{
		path:         cfg.Path,
		stageTimeout: cfg.StageTimeout,
		killGrace:    grace,
		logger:       logger,
	}
}

func (r *Runner) Path() string { return r.path }

// Verify checks that the executable is present. A bare command name is
// looked up on PATH.
func (r *Runner) Verify() error {
	path := r.path
	if path == "" {
		return &entity.ConfigurationError{Path: path, Err: errors.New("no executable configured")}
	}
	if filepath.Base(path) == path {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return &entity.ConfigurationError{Path: path, Err: err}
		}
		path = resolved
	}

	fi, err := os.Stat(path)
	if err != nil {
		return &entity.ConfigurationError{Path: r.path, Err: err}
	}
	if fi.IsDir() {
		return &entity.ConfigurationError{Path: r.path, Err: errors.New("is a directory")}
	}
	r.logger.Debug("reconstruction tool found", zap.String("path", path))
	return nil
}

// Invoke runs one subcommand and blocks until it exits. Child output is
// forwarded line by line to the logger.
func (r *Runner) Invoke(ctx context.Context, stage string, args []string, successMessage string) error {
	if r.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.stageTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return &entity.StageExecutionError{Subcommand: stage, ExitCode: -1, Err: err}
	}

	log := r.logger.With(zap.String("stage", stage))

	cmd := exec.CommandContext(ctx, r.path, append([]string{stage}, args...)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.killGrace

	stdout := &zapio.Writer{Log: log.With(zap.String("stream", "stdout")), Level: zapcore.InfoLevel}
	stderr := &zapio.Writer{Log: log.With(zap.String("stream", "stderr")), Level: zapcore.InfoLevel}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Info("stage started", zap.Strings("args", cmd.Args))
	started := time.Now()
	err := cmd.Run()
	_ = stdout.Close()
	_ = stderr.Close()

	if err == nil {
		log.Info(successMessage, zap.Duration("elapsed", time.Since(started)))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Error("stage cancelled", zap.Error(ctxErr))
		return &entity.StageExecutionError{Subcommand: stage, ExitCode: -1, Err: ctxErr}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Error("stage failed", zap.Int("exit_code", exitErr.ExitCode()))
		return &entity.StageExecutionError{Subcommand: stage, ExitCode: exitErr.ExitCode(), Err: err}
	}

	log.Error("stage could not start", zap.Error(err))
	return &entity.ConfigurationError{Path: r.path, Err: fmt.Errorf("start %s: %w", stage, err)}
}
