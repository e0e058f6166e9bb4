package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/gofrs/flock"
)

// Lock is an advisory, exclusive hold on a workspace root.
type Lock struct {
	fl *flock.Flock
}

// Lock takes the workspace lock without blocking. A lock held elsewhere
// yields *entity.WorkspaceLockedError.
func (w Workspace) Lock() (*Lock, error) {
	if err := os.MkdirAll(w.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	fl := flock.New(filepath.Join(w.Root, lockName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return nil, &entity.WorkspaceLockedError{Path: w.Root}
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Unlock() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release workspace lock: %w", err)
	}
	return nil
}

func (l *Lock) Path() string {
	return l.fl.Path()
}
