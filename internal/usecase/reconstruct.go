package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/fsx"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/metrics"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/workspace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type ReconstructConfig struct {
	FrameRate    float64
	MaxImageSize int
}

type ReconstructRequest struct {
	VideoPath     string
	WorkspaceRoot string
	// FrameRate overrides the configured sampling rate when positive.
	FrameRate float64
}

// ReconstructUseCase drives one video through sampling, the COLMAP stages
// and layout normalization. It keeps no state between calls.
type ReconstructUseCase struct {
	tool      port.ReconstructionTool
	sampler   port.FrameSampler
	layout    port.LayoutAdapter
	inspector port.FeatureDatabaseInspector
	runs      port.RunRepository
	logger    *zap.Logger
	cfg       ReconstructConfig
}

// NewReconstructUseCase wires the pipeline. inspector and runs may be nil.
func NewReconstructUseCase(
	tool port.ReconstructionTool,
	sampler port.FrameSampler,
	layout port.LayoutAdapter,
	inspector port.FeatureDatabaseInspector,
	runs port.RunRepository,
	logger *zap.Logger,
	cfg ReconstructConfig,
) *ReconstructUseCase {
	return &ReconstructUseCase{
		tool:      tool,
		sampler:   sampler,
		layout:    layout,
		inspector: inspector,
		runs:      runs,
		logger:    logger,
		cfg:       cfg,
	}
}

// step is one forward transition. run performs the work, gate checks on
// disk that the work left behind what the next step reads.
type step struct {
	stage entity.Stage
	run   func(ctx context.Context) error
	gate  func() error
}

// Execute runs the whole pipeline. The returned run is never nil; on failure
// it is in StageFailed with FailedStage set, and the error is one of the
// entity error types or a wrapped filesystem error.
func (uc *ReconstructUseCase) Execute(ctx context.Context, req ReconstructRequest) (*entity.Run, error) {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ReconstructUseCase.Execute")
	defer span.End()

	ws := workspace.New(req.WorkspaceRoot)
	run := entity.NewRun(req.VideoPath, ws.Root)
	span.SetAttributes(
		attribute.String("run.id", run.ID.String()),
		attribute.String("run.video_path", req.VideoPath),
		attribute.String("run.workspace", ws.Root),
	)
	log := uc.logger.With(zap.String("run_id", run.ID.String()), zap.String("video_path", req.VideoPath))

	rate := uc.cfg.FrameRate
	if req.FrameRate > 0 {
		rate = req.FrameRate
	}

	lock, err := ws.Lock()
	if err != nil {
		return uc.fail(ctx, run, err, log)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("failed to release workspace lock", zap.Error(err))
		}
	}()

	if err := ws.Reset(); err != nil {
		return uc.fail(ctx, run, err, log)
	}
	log.Info("workspace reset", zap.String("workspace", ws.Root))
	uc.save(ctx, run, log)

	for _, s := range uc.steps(ws, run, rate, log) {
		if err := uc.advance(ctx, run, s.stage, log); err != nil {
			return uc.fail(ctx, run, err, log)
		}
		if err := ctx.Err(); err != nil {
			return uc.fail(ctx, run, &entity.StageExecutionError{Stage: s.stage, ExitCode: -1, Err: err}, log)
		}

		stageCtx, stageSpan := tracer.Start(ctx, "stage."+strings.ToLower(string(s.stage)))
		start := time.Now()
		err := s.run(stageCtx)
		var stageErr *entity.StageExecutionError
		if errors.As(err, &stageErr) && stageErr.Stage == "" {
			stageErr.Stage = s.stage
		}
		if err == nil {
			err = s.gate()
		}
		metrics.StageDuration.WithLabelValues(string(s.stage)).Observe(time.Since(start).Seconds())
		if err != nil {
			stageSpan.RecordError(err)
			stageSpan.SetStatus(codes.Error, entity.ErrorCode(err))
			stageSpan.End()
			return uc.fail(ctx, run, err, log)
		}
		stageSpan.End()
	}

	if err := uc.advance(ctx, run, entity.StageDone, log); err != nil {
		return uc.fail(ctx, run, err, log)
	}
	metrics.RunsTotal.WithLabelValues(string(entity.StageDone)).Inc()
	log.Info("reconstruction completed",
		zap.Int("frames", run.FrameCount),
		zap.Int("stride", run.Stride),
		zap.Duration("elapsed", run.Duration()),
		zap.String("model", ws.Model),
	)
	return run, nil
}

func (uc *ReconstructUseCase) steps(ws workspace.Workspace, run *entity.Run, rate float64, log *zap.Logger) []step {
	return []step{
		{
			stage: entity.StageSampling,
			run: func(ctx context.Context) error {
				if err := uc.tool.Verify(); err != nil {
					return err
				}
				res, err := uc.sampler.Sample(ctx, run.VideoPath, ws.Input, rate)
				if err != nil {
					return err
				}
				run.FrameCount = res.Saved
				run.Stride = res.Stride
				metrics.FramesSampledTotal.Add(float64(res.Saved))
				return nil
			},
			gate: func() error {
				frames, err := ws.Frames()
				if err != nil {
					return err
				}
				if len(frames) == 0 {
					return &entity.ArtifactMissingError{Stage: entity.StageSampling, Path: ws.Input}
				}
				return nil
			},
		},
		{
			stage: entity.StageExtracting,
			run: func(ctx context.Context) error {
				if err := ws.Prepare(); err != nil {
					return err
				}
				return uc.tool.ExtractFeatures(ctx, ws.Input, ws.Database)
			},
			gate: fileGate(entity.StageExtracting, ws.Database),
		},
		{
			stage: entity.StageMatching,
			run: func(ctx context.Context) error {
				if err := uc.tool.MatchFeatures(ctx, ws.Database); err != nil {
					return err
				}
				uc.logFeatureStats(ctx, ws.Database, log)
				return nil
			},
			gate: fileGate(entity.StageMatching, ws.Database),
		},
		{
			stage: entity.StageReconstructing,
			run: func(ctx context.Context) error {
				return uc.tool.Reconstruct(ctx, ws.Database, ws.Input, ws.DistortedSparse)
			},
			gate: uc.modelGate(entity.StageReconstructing, ws.Distorted, ws.DistortedModel),
		},
		{
			stage: entity.StageUndistorting,
			run: func(ctx context.Context) error {
				return uc.tool.Undistort(ctx, ws.DistortedModel, ws.Input, ws.Output, uc.cfg.MaxImageSize)
			},
			gate: func() error {
				ok, err := fsx.Exists(ws.Sparse)
				if err != nil {
					return err
				}
				if !ok {
					return &entity.ArtifactMissingError{Stage: entity.StageUndistorting, Path: ws.Sparse}
				}
				return nil
			},
		},
		{
			stage: entity.StageNormalizing,
			run: func(context.Context) error {
				moved, err := uc.layout.Normalize(ws.Output)
				if err != nil {
					return fmt.Errorf("normalize layout: %w", err)
				}
				log.Info("layout normalized", zap.Int("relocated", len(moved)))
				return nil
			},
			gate: uc.modelGate(entity.StageNormalizing, ws.Output, ws.Model),
		},
	}
}

func fileGate(stage entity.Stage, path string) func() error {
	return func() error {
		ok, err := fsx.IsRegularFile(path)
		if err != nil {
			return err
		}
		if !ok {
			return &entity.ArtifactMissingError{Stage: stage, Path: path}
		}
		return nil
	}
}

// modelGate checks that base/sparse/0 holds a complete model. modelDir is
// only used for the error.
func (uc *ReconstructUseCase) modelGate(stage entity.Stage, base, modelDir string) func() error {
	return func() error {
		ok, err := uc.layout.Complete(base)
		if err != nil {
			return err
		}
		if !ok {
			return &entity.ArtifactMissingError{Stage: stage, Path: modelDir}
		}
		return nil
	}
}

func (uc *ReconstructUseCase) logFeatureStats(ctx context.Context, databasePath string, log *zap.Logger) {
	if uc.inspector == nil {
		return
	}
	stats, err := uc.inspector.Inspect(ctx, databasePath)
	if err != nil {
		log.Warn("could not read feature database", zap.Error(err))
		return
	}
	log.Info("feature database",
		zap.Int("images", stats.Images),
		zap.Int("keypoints", stats.Keypoints),
		zap.Int("matched_pairs", stats.MatchedPairs),
		zap.Int("verified_pairs", stats.VerifiedPairs),
	)
}

func (uc *ReconstructUseCase) advance(ctx context.Context, run *entity.Run, next entity.Stage, log *zap.Logger) error {
	if err := run.Advance(next); err != nil {
		return err
	}
	log.Info("stage started", zap.String("stage", string(next)))
	uc.save(ctx, run, log)
	return nil
}

func (uc *ReconstructUseCase) fail(ctx context.Context, run *entity.Run, err error, log *zap.Logger) (*entity.Run, error) {
	stage := run.Stage
	code := entity.ErrorCode(err)
	run.MarkFailed(err)

	metrics.StageFailuresTotal.WithLabelValues(string(stage), code).Inc()
	metrics.RunsTotal.WithLabelValues(string(entity.StageFailed)).Inc()

	log.Error("run aborted",
		zap.String("stage", string(stage)),
		zap.String("code", code),
		zap.Error(err),
	)
	uc.save(context.WithoutCancel(ctx), run, log)
	return run, err
}

// save records the run in the ledger. The ledger is observational, so a
// failed write is logged and the pipeline carries on.
func (uc *ReconstructUseCase) save(ctx context.Context, run *entity.Run, log *zap.Logger) {
	if uc.runs == nil {
		return
	}
	if err := uc.runs.Save(ctx, run); err != nil {
		log.Warn("failed to record run", zap.String("stage", string(run.Stage)), zap.Error(err))
	}
}
