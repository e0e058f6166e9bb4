package port

import "context"

// Archiver packs the named sub-directories of root into a single archive at
// outputPath and returns the number of files written.
type Archiver interface {
	CreateArchive(ctx context.Context, root string, dirs []string, outputPath string) (int, error)
}
