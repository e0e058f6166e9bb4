package port

import "context"

// ReconstructionTool runs the external photogrammetry stages. Each call blocks
// until the child process exits.
type ReconstructionTool interface {
	Verify() error
	ExtractFeatures(ctx context.Context, imageDir, databasePath string) error
	MatchFeatures(ctx context.Context, databasePath string) error
	Reconstruct(ctx context.Context, databasePath, imageDir, outputPath string) error
	Undistort(ctx context.Context, sparsePath, imageDir, outputBase string, maxImageSize int) error
}
