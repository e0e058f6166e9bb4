package port

import (
	"context"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/google/uuid"
)

type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Update(ctx context.Context, job *entity.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}

// RunRepository records every state transition of a run.
type RunRepository interface {
	Save(ctx context.Context, run *entity.Run) error
}
