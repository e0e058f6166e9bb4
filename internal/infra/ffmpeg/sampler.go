package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/workspace"
	"go.uber.org/zap"
)

// Sampler keeps every stride-th decoded frame and writes it as a
// sequentially numbered PNG.
type Sampler struct {
	decoder port.VideoDecoder
	encoder png.Encoder
	logger  *zap.Logger
}

func NewSampler(decoder port.VideoDecoder, logger *zap.Logger) *Sampler {
	return &Sampler{
		decoder: decoder,
		encoder: png.Encoder{CompressionLevel: png.BestSpeed},
		logger:  logger,
	}
}

// Stride is max(1, floor(nativeRate/targetRate)). Unknown, zero or
// non-finite rates clamp to 1.
func Stride(nativeRate, targetRate float64) int {
	if !(nativeRate > 0) || !(targetRate > 0) || math.IsInf(nativeRate, 0) {
		return 1
	}
	s := math.Floor(nativeRate / targetRate)
	if s < 1 || math.IsInf(s, 0) {
		return 1
	}
	return int(s)
}

func (s *Sampler) Sample(ctx context.Context, videoPath, destination string, targetRate float64) (*port.SampleResult, error) {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}

	stream, err := s.decoder.Open(ctx, videoPath)
	if err != nil {
		var soe *entity.SourceOpenError
		if errors.As(err, &soe) {
			return nil, err
		}
		return nil, &entity.SourceOpenError{Path: videoPath, Err: err}
	}
	defer stream.Close()

	info := stream.Info()
	stride := Stride(info.NativeRate, targetRate)
	res := &port.SampleResult{Stride: stride, NativeRate: info.NativeRate}

	s.logger.Info("sampling frames",
		zap.String("video_path", videoPath),
		zap.Float64("native_rate", info.NativeRate),
		zap.Float64("target_rate", targetRate),
		zap.Int("stride", stride),
	)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sample frames: %w", err)
		}
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", idx, err)
		}
		res.Decoded++
		if idx%stride != 0 {
			continue
		}

		path := workspace.FramePathIn(destination, res.Saved)
		if err := s.writeFrame(path, frame); err != nil {
			return nil, fmt.Errorf("write frame %d: %w", res.Saved, err)
		}
		res.FramePaths = append(res.FramePaths, path)
		res.Saved++
	}

	s.logger.Info("frames sampled",
		zap.Int("frames", res.Saved),
		zap.Int("decoded", res.Decoded),
		zap.String("destination", destination),
	)
	return res, nil
}

func (s *Sampler) writeFrame(path string, frame image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.encoder.Encode(f, frame); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
