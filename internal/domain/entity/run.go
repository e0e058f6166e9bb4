package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage is a state of the reconstruction state machine.
type Stage string

const (
	StageIdle           Stage = "IDLE"
	StageSampling       Stage = "SAMPLING"
	StageExtracting     Stage = "EXTRACTING"
	StageMatching       Stage = "MATCHING"
	StageReconstructing Stage = "RECONSTRUCTING"
	StageUndistorting   Stage = "UNDISTORTING"
	StageNormalizing    Stage = "NORMALIZING"
	StageDone           Stage = "DONE"
	StageFailed         Stage = "FAILED"
)

// Stages lists the forward path of a run, Idle through Done.
var Stages = []Stage{
	StageIdle,
	StageSampling,
	StageExtracting,
	StageMatching,
	StageReconstructing,
	StageUndistorting,
	StageNormalizing,
	StageDone,
}

// Next returns the stage that follows s on the forward path.
func (s Stage) Next() (Stage, bool) {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1], true
		}
	}
	return "", false
}

func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Run is one pass of the pipeline over one workspace.
type Run struct {
	ID           uuid.UUID
	VideoPath    string
	Workspace    string
	Stage        Stage
	FailedStage  Stage
	FrameCount   int
	Stride       int
	ErrorCode    string
	ErrorMessage string
	StartedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
}

func NewRun(videoPath, workspace string) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:        uuid.New(),
		VideoPath: videoPath,
		Workspace: workspace,
		Stage:     StageIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the run to next. Only the immediate successor is accepted.
func (r *Run) Advance(next Stage) error {
	want, ok := r.Stage.Next()
	if !ok || want != next {
		return fmt.Errorf("invalid transition %s -> %s", r.Stage, next)
	}
	now := time.Now().UTC()
	r.Stage = next
	r.UpdatedAt = now
	if next == StageDone {
		r.FinishedAt = &now
	}
	return nil
}

// MarkFailed moves the run to StageFailed, remembering where it stopped.
func (r *Run) MarkFailed(err error) {
	now := time.Now().UTC()
	if !r.Stage.Terminal() {
		r.FailedStage = r.Stage
	}
	r.Stage = StageFailed
	r.ErrorCode = ErrorCode(err)
	r.ErrorMessage = err.Error()
	r.UpdatedAt = now
	r.FinishedAt = &now
}

func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
