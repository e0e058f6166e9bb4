package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/metrics"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/workspace"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Reconstructor runs the pipeline for one request. ReconstructUseCase
// implements it.
type Reconstructor interface {
	Execute(ctx context.Context, req ReconstructRequest) (*entity.Run, error)
}

type ProcessRequestUseCase struct {
	repo          port.JobRepository
	storage       port.ObjectStorage
	reconstructor Reconstructor
	archiver      port.Archiver
	publisher     port.StatusPublisher
	dlq           port.DLQPublisher
	notifier      port.FailureNotifier
	logger        *zap.Logger
	workspaceRoot string
	tempDir       string
	maxRetry      int
}

type ProcessRequestConfig struct {
	// WorkspaceRoot holds one workspace per job, named by job id.
	WorkspaceRoot string
	TempDir       string
	MaxRetries    int
}

func NewProcessRequestUseCase(
	repo port.JobRepository,
	storage port.ObjectStorage,
	reconstructor Reconstructor,
	archiver port.Archiver,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessRequestConfig,
) *ProcessRequestUseCase {
	return &ProcessRequestUseCase{
		repo:          repo,
		storage:       storage,
		reconstructor: reconstructor,
		archiver:      archiver,
		publisher:     publisher,
		dlq:           dlq,
		notifier:      notifier,
		logger:        logger,
		workspaceRoot: cfg.WorkspaceRoot,
		tempDir:       cfg.TempDir,
		maxRetry:      cfg.MaxRetries,
	}
}

// Execute handles one delivery. A nil return acks the message; an error asks
// the consumer to requeue it.
func (uc *ProcessRequestUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessRequestUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.ReconstructionRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}
	if msg.JobID == uuid.Nil || msg.VideoKey == "" {
		uc.logger.Error("rejecting incomplete message", zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "invalid_message: job_id and video_key are required")
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewJob(msg.UserID, msg.VideoKey, uc.maxRetry)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded", nil)
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}
	uc.publishStatus(ctx, job, log)

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.reconstructPipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.JobPhaseDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *ProcessRequestUseCase) reconstructPipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.ReconstructionRequestMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.tempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download video from MinIO
	dlStart := time.Now()
	ctx2, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "source"+videoExt(msg.VideoKey))
	if err := uc.storage.DownloadVideo(ctx2, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), nil, log)
	}
	spanDl.End()
	metrics.JobPhaseDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Sample and reconstruct
	recStart := time.Now()
	ws := workspace.New(filepath.Join(uc.workspaceRoot, job.ID.String()))
	run, err := uc.reconstructor.Execute(ctx, ReconstructRequest{
		VideoPath:     videoPath,
		WorkspaceRoot: ws.Root,
		FrameRate:     msg.FrameRate,
	})
	if err != nil {
		errMsg := entity.ErrorCode(err) + ": " + err.Error()
		if !entity.Retryable(err) {
			log.Error("reconstruction failed permanently", zap.Error(err))
			return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg, run)
		}
		log.Error("reconstruction failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, errMsg, run, log)
	}
	metrics.JobPhaseDuration.WithLabelValues("reconstruct").Observe(time.Since(recStart).Seconds())

	// Archive the canonical model and undistorted images
	zipStart := time.Now()
	ctx3, spanZip := tracer.Start(ctx, "create_archive")
	zipPath := filepath.Join(workDir, "reconstruction.zip")
	files, err := uc.archiver.CreateArchive(ctx3, ws.Output, []string{workspace.SparseDir, workspace.ImagesDir}, zipPath)
	if err != nil {
		spanZip.End()
		log.Error("archive creation failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "create_archive: "+err.Error(), run, log)
	}
	spanZip.End()
	metrics.JobPhaseDuration.WithLabelValues("archive").Observe(time.Since(zipStart).Seconds())

	// Upload archive to MinIO
	upStart := time.Now()
	ctx4, spanUp := tracer.Start(ctx, "upload_archive")
	archiveKey := fmt.Sprintf("%s/reconstruction_%s.zip", msg.UserID, job.ID.String())
	zipFile, err := os.Open(zipPath)
	if err != nil {
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "open_archive: "+err.Error(), run, log)
	}
	defer zipFile.Close()
	zipStat, err := zipFile.Stat()
	if err != nil {
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "stat_archive: "+err.Error(), run, log)
	}
	if err := uc.storage.UploadArchive(ctx4, archiveKey, zipFile, zipStat.Size()); err != nil {
		spanUp.End()
		log.Error("archive upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_archive: "+err.Error(), run, log)
	}
	spanUp.End()
	metrics.JobPhaseDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	job.MarkCompleted(archiveKey, run)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)

	log.Info("job completed successfully",
		zap.Int("frame_count", run.FrameCount),
		zap.Int("archived_files", files),
		zap.String("archive_key", archiveKey),
	)

	return nil
}

func (uc *ProcessRequestUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.ReconstructionRequestMessage,
	rawMsg []byte,
	errMsg string,
	run *entity.Run,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg, run)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg, run)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessRequestUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.ReconstructionRequestMessage,
	rawMsg []byte,
	errMsg string,
	run *entity.Run,
) error {
	// Publishing and notifying must still happen when shutdown cancelled ctx.
	ctx = context.WithoutCancel(ctx)

	job.MarkFailed(errMsg, run)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" && uc.notifier != nil {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *ProcessRequestUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	statusMsg := entity.ReconstructionStatusMessage{
		JobID:        job.ID,
		UserID:       job.UserID,
		Status:       job.Status,
		Stage:        job.LastStage,
		VideoKey:     job.VideoKey,
		ArchiveKey:   job.ArchiveKey,
		FrameCount:   job.FrameCount,
		ErrorMessage: job.ErrorMessage,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}

// videoExt keeps the container extension of the object key so ffprobe can
// use it as a hint.
func videoExt(key string) string {
	if ext := path.Ext(key); ext != "" {
		return ext
	}
	return ".mp4"
}
