package colmap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/fsx"
	"go.uber.org/zap"
)

// ModelFiles are the sparse model artifacts, without extension.
var ModelFiles = []string{"cameras", "images", "points3D"}

// ModelExtensions are the encodings COLMAP writes models in.
var ModelExtensions = []string{".bin", ".txt"}

const (
	sparseDir = "sparse"
	modelDir  = "0"
)

// LayoutNormalizer moves model files that image_undistorter left directly
// under sparse/ one level down into sparse/0/. Depending on the COLMAP
// version the files land in either place.
type LayoutNormalizer struct {
	logger *zap.Logger
}

var _ port.LayoutAdapter = (*LayoutNormalizer)(nil)

func NewLayoutNormalizer(logger *zap.Logger) *LayoutNormalizer {
	return &LayoutNormalizer{logger: logger}
}

func (n *LayoutNormalizer) Normalize(outputBase string) ([]port.Relocation, error) {
	sparse := filepath.Join(outputBase, sparseDir)
	model := filepath.Join(sparse, modelDir)
	if err := os.MkdirAll(model, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}

	var moved []port.Relocation
	for _, name := range ModelFiles {
		for _, ext := range ModelExtensions {
			src := filepath.Join(sparse, name+ext)
			dst := filepath.Join(model, name+ext)

			ok, err := fsx.IsRegularFile(src)
			if err != nil {
				return moved, fmt.Errorf("stat %s: %w", src, err)
			}
			if !ok {
				continue
			}
			taken, err := fsx.Exists(dst)
			if err != nil {
				return moved, fmt.Errorf("stat %s: %w", dst, err)
			}
			if taken {
				continue
			}

			if err := fsx.Rename(src, dst); err != nil {
				return moved, fmt.Errorf("relocate %s: %w", name+ext, err)
			}
			n.logger.Info("moved model file into canonical directory",
				zap.String("file", name+ext),
				zap.String("to", model),
			)
			moved = append(moved, port.Relocation{From: src, To: dst})
		}
	}
	return moved, nil
}

func (n *LayoutNormalizer) Complete(outputBase string) (bool, error) {
	return ModelPresent(filepath.Join(outputBase, sparseDir, modelDir))
}

// ModelPresent reports whether dir holds every model file in one of the
// known encodings.
func ModelPresent(dir string) (bool, error) {
	for _, name := range ModelFiles {
		found := false
		for _, ext := range ModelExtensions {
			ok, err := fsx.IsRegularFile(filepath.Join(dir, name+ext))
			if err != nil {
				return false, err
			}
			if ok {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}
