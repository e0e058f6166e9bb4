package postgres

import (
	"context"
	"fmt"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	query := `
		INSERT INTO reconstruction_jobs (
			id, user_id, video_key, archive_key, status, last_stage,
			frame_count, attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.UserID, job.VideoKey, job.ArchiveKey, string(job.Status), string(job.LastStage),
		job.FrameCount, job.Attempt, job.MaxAttempts, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.Job) error {
	query := `
		UPDATE reconstruction_jobs SET
			status=$2, archive_key=$3, last_stage=$4, frame_count=$5,
			attempt=$6, error_message=$7, updated_at=$8, completed_at=$9
		WHERE id=$1`

	_, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.ArchiveKey, string(job.LastStage), job.FrameCount,
		job.Attempt, job.ErrorMessage, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query := `
		SELECT id, user_id, video_key, archive_key, status, last_stage,
			frame_count, attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		FROM reconstruction_jobs WHERE id=$1`

	job := &entity.Job{}
	var status, stage string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.VideoKey, &job.ArchiveKey, &status, &stage,
		&job.FrameCount, &job.Attempt, &job.MaxAttempts, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	job.Status = entity.JobStatus(status)
	job.LastStage = entity.Stage(stage)
	return job, nil
}

// RunRepository keeps one row per pipeline run, overwritten on every
// transition.
type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) Save(ctx context.Context, run *entity.Run) error {
	query := `
		INSERT INTO reconstruction_runs (
			id, video_path, workspace, stage, failed_stage, frame_count,
			stride, error_code, error_message, started_at, updated_at, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			stage=EXCLUDED.stage, failed_stage=EXCLUDED.failed_stage,
			frame_count=EXCLUDED.frame_count, stride=EXCLUDED.stride,
			error_code=EXCLUDED.error_code, error_message=EXCLUDED.error_message,
			updated_at=EXCLUDED.updated_at, finished_at=EXCLUDED.finished_at`

	_, err := r.pool.Exec(ctx, query,
		run.ID, run.VideoPath, run.Workspace, string(run.Stage), string(run.FailedStage), run.FrameCount,
		run.Stride, run.ErrorCode, run.ErrorMessage, run.StartedAt, run.UpdatedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (r *RunRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Run, error) {
	query := `
		SELECT id, video_path, workspace, stage, failed_stage, frame_count,
			stride, error_code, error_message, started_at, updated_at, finished_at
		FROM reconstruction_runs WHERE id=$1`

	run := &entity.Run{}
	var stage, failed string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.VideoPath, &run.Workspace, &stage, &failed, &run.FrameCount,
		&run.Stride, &run.ErrorCode, &run.ErrorMessage, &run.StartedAt, &run.UpdatedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find run by id: %w", err)
	}
	run.Stage = entity.Stage(stage)
	run.FailedStage = entity.Stage(failed)
	return run, nil
}
