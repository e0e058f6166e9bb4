package port

import (
	"context"
	"image"
)

// VideoInfo describes a video source as reported by its container.
// NativeRate is zero when the container does not report a frame rate.
type VideoInfo struct {
	Path       string
	NativeRate float64
	Width      int
	Height     int
}

// FrameStream yields decoded frames in native order. Next returns io.EOF after
// the last frame. The returned image may be reused by the next call. A stream
// is not restartable.
type FrameStream interface {
	Info() VideoInfo
	Next() (image.Image, error)
	Close() error
}

type VideoDecoder interface {
	Open(ctx context.Context, path string) (FrameStream, error)
}

type SampleResult struct {
	Saved      int
	Decoded    int
	Stride     int
	NativeRate float64
	FramePaths []string
}

type FrameSampler interface {
	Sample(ctx context.Context, videoPath, destination string, targetRate float64) (*SampleResult, error)
}
