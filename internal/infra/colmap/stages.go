package colmap

import (
	"context"
	"strconv"
)

// COLMAP subcommands, one per pipeline stage.
const (
	StageFeatureExtractor  = "feature_extractor"
	StageExhaustiveMatcher = "exhaustive_matcher"
	StageMapper            = "mapper"
	StageImageUndistorter  = "image_undistorter"
)

// DefaultMaxImageSize caps the longest side of undistorted images, in pixels.
const DefaultMaxImageSize = 2000

func FeatureExtractorArgs(imageDir, databasePath string) []string {
	return []string{
		"--image_path", imageDir,
		"--database_path", databasePath,
	}
}

func ExhaustiveMatcherArgs(databasePath string) []string {
	return []string{
		"--database_path", databasePath,
	}
}

func MapperArgs(databasePath, imageDir, outputPath string) []string {
	return []string{
		"--database_path", databasePath,
		"--image_path", imageDir,
		"--output_path", outputPath,
	}
}

func ImageUndistorterArgs(sparsePath, imageDir, outputBase string, maxImageSize int) []string {
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	return []string{
		"--image_path", imageDir,
		"--input_path", sparsePath,
		"--output_path", outputBase,
		"--output_type", "COLMAP",
		"--max_image_size", strconv.Itoa(maxImageSize),
	}
}

// ExtractFeatures populates the feature database from every image in imageDir.
func (r *Runner) ExtractFeatures(ctx context.Context, imageDir, databasePath string) error {
	return r.Invoke(ctx, StageFeatureExtractor,
		FeatureExtractorArgs(imageDir, databasePath),
		"feature extraction completed")
}

// MatchFeatures matches every image pair exhaustively, updating the database in place.
func (r *Runner) MatchFeatures(ctx context.Context, databasePath string) error {
	return r.Invoke(ctx, StageExhaustiveMatcher,
		ExhaustiveMatcherArgs(databasePath),
		"feature matching completed")
}

// Reconstruct writes one or more sparse models under outputPath (0, 1, ...).
func (r *Runner) Reconstruct(ctx context.Context, databasePath, imageDir, outputPath string) error {
	return r.Invoke(ctx, StageMapper,
		MapperArgs(databasePath, imageDir, outputPath),
		"sparse reconstruction completed")
}

func (r *Runner) Undistort(ctx context.Context, sparsePath, imageDir, outputBase string, maxImageSize int) error {
	return r.Invoke(ctx, StageImageUndistorter,
		ImageUndistorterArgs(sparsePath, imageDir, outputBase, maxImageSize),
		"images undistorted")
}
