// Package workspace owns the directory tree every pipeline stage reads from
// and writes to.
//
// The tree is rebuilt once per run by Reset, before anything else happens.
// Reset is destructive: it must never be called while a stage is running.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	InputDir     = "input"
	OutputDir    = "output"
	DistortedDir = "distorted"
	ImagesDir    = "images"
	SparseDir    = "sparse"
	ModelDir     = "0"
	DatabaseName = "database.db"

	// FramePattern is the printf pattern for sampled frame file names.
	FramePattern = "frame_%04d.png"
	frameGlob    = "frame_*.png"
	lockName     = ".reconstruct.lock"
)

// Workspace is the resolved set of fixed paths under one root.
type Workspace struct {
	Root string

	Input  string
	Output string

	Distorted       string
	Database        string
	DistortedSparse string
	DistortedModel  string

	Images string
	Sparse string
	Model  string
}

func New(root string) Workspace {
	root = filepath.Clean(root)
	output := filepath.Join(root, OutputDir)
	distorted := filepath.Join(output, DistortedDir)
	return Workspace{
		Root:            root,
		Input:           filepath.Join(root, InputDir),
		Output:          output,
		Distorted:       distorted,
		Database:        filepath.Join(distorted, DatabaseName),
		DistortedSparse: filepath.Join(distorted, SparseDir),
		DistortedModel:  filepath.Join(distorted, SparseDir, ModelDir),
		Images:          filepath.Join(output, ImagesDir),
		Sparse:          filepath.Join(output, SparseDir),
		Model:           filepath.Join(output, SparseDir, ModelDir),
	}
}

// ResetDirectory removes path with all its contents, if present, and
// recreates it empty. Calling it any number of times leaves the same state.
func ResetDirectory(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return nil
}

// Reset empties input and output. The lock file under Root is left alone.
func (w Workspace) Reset() error {
	for _, dir := range []string{w.Input, w.Output} {
		if err := ResetDirectory(dir); err != nil {
			return fmt.Errorf("reset workspace: %w", err)
		}
	}
	return nil
}

// Prepare creates the distorted model directory the extraction stages write into.
func (w Workspace) Prepare() error {
	if err := os.MkdirAll(w.DistortedModel, 0o755); err != nil {
		return fmt.Errorf("prepare distorted tree: %w", err)
	}
	return nil
}

// Frames lists the sampled frames in input, sorted by name (and thus by index).
func (w Workspace) Frames() ([]string, error) {
	frames, err := filepath.Glob(filepath.Join(w.Input, frameGlob))
	if err != nil {
		return nil, fmt.Errorf("glob frames: %w", err)
	}
	sort.Strings(frames)
	return frames, nil
}

// FramePath returns the path of the idx-th sampled frame.
func (w Workspace) FramePath(idx int) string {
	return FramePathIn(w.Input, idx)
}

func FramePathIn(dir string, idx int) string {
	return filepath.Join(dir, fmt.Sprintf(FramePattern, idx))
}
