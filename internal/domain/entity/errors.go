package entity

import (
	"errors"
	"fmt"
)

// ConfigurationError means the reconstruction tool could not be found or launched.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("reconstruction tool not available at %q: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SourceOpenError means the video source could not be opened or probed.
type SourceOpenError struct {
	Path string
	Err  error
}

func (e *SourceOpenError) Error() string {
	return fmt.Sprintf("open video %q: %v", e.Path, e.Err)
}

func (e *SourceOpenError) Unwrap() error { return e.Err }

// StageExecutionError means an external stage process exited non-zero or was cancelled.
// ExitCode is -1 when the process did not exit on its own.
// Stage is the pipeline stage and Subcommand the tool subcommand that ran in
// it. Either may be empty.
type StageExecutionError struct {
	Stage      Stage
	Subcommand string
	ExitCode   int
	Err        error
}

func (e *StageExecutionError) Error() string {
	name := e.Subcommand
	switch {
	case e.Stage != "" && e.Subcommand != "":
		name = fmt.Sprintf("%s (%s)", e.Stage, e.Subcommand)
	case e.Stage != "":
		name = string(e.Stage)
	}
	if e.ExitCode >= 0 {
		return fmt.Sprintf("stage %s exited with code %d", name, e.ExitCode)
	}
	return fmt.Sprintf("stage %s aborted: %v", name, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// ArtifactMissingError means a transition gate did not find the artifact the
// previous stage should have produced.
type ArtifactMissingError struct {
	Stage Stage
	Path  string
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("stage %s produced no artifact at %q", e.Stage, e.Path)
}

// WorkspaceLockedError means another run holds the workspace lock.
type WorkspaceLockedError struct {
	Path string
}

func (e *WorkspaceLockedError) Error() string {
	return fmt.Sprintf("workspace %q is locked by another run", e.Path)
}

// ErrorCode maps an error from the taxonomy to a short stable code for
// logs, status messages and the run ledger.
func ErrorCode(err error) string {
	var (
		cfgErr    *ConfigurationError
		srcErr    *SourceOpenError
		stageErr  *StageExecutionError
		missErr   *ArtifactMissingError
		lockedErr *WorkspaceLockedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &srcErr):
		return "source_open_error"
	case errors.As(err, &stageErr):
		return "stage_execution_error"
	case errors.As(err, &missErr):
		return "artifact_missing"
	case errors.As(err, &lockedErr):
		return "workspace_locked"
	default:
		return "internal_error"
	}
}

// Retryable reports whether a failed run is worth retrying as is.
// Configuration and source errors will fail the same way again.
func Retryable(err error) bool {
	switch ErrorCode(err) {
	case "configuration_error", "source_open_error":
		return false
	default:
		return true
	}
}
