package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStream yields total 2x2 frames whose top-left pixel encodes the source index.
type fakeStream struct {
	info   port.VideoInfo
	total  int
	next   int
	failAt int
	closed bool
}

func (f *fakeStream) Info() port.VideoInfo { return f.info }

func (f *fakeStream) Next() (image.Image, error) {
	if f.failAt >= 0 && f.next == f.failAt {
		return nil, errors.New("corrupt packet")
	}
	if f.next >= f.total {
		return nil, io.EOF
	}
	img := image.NewGray16(image.Rect(0, 0, 2, 2))
	img.SetGray16(0, 0, color.Gray16{Y: uint16(f.next)})
	f.next++
	return img, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeDecoder struct {
	stream  *fakeStream
	openErr error
}

func (d *fakeDecoder) Open(_ context.Context, path string) (port.FrameStream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.stream.info.Path = path
	return d.stream, nil
}

func newFakeDecoder(nativeRate float64, total int) *fakeDecoder {
	return &fakeDecoder{stream: &fakeStream{
		info:   port.VideoInfo{NativeRate: nativeRate, Width: 2, Height: 2},
		total:  total,
		failAt: -1,
	}}
}

func sourceIndex(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return int(color.Gray16Model.Convert(img.At(0, 0)).(color.Gray16).Y)
}

func TestStride(t *testing.T) {
	cases := []struct {
		native, target float64
		want           int
	}{
		{30, 2, 15},
		{30, 1, 30},
		{29.97, 2, 14},
		{30, 30, 1},
		{30, 60, 1},
		{0, 2, 1},
		{-1, 2, 1},
		{30, 0, 1},
		{30, -5, 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v/%v", tc.native, tc.target), func(t *testing.T) {
			assert.Equal(t, tc.want, Stride(tc.native, tc.target))
		})
	}
}

func TestSampleTenSecondsAtThirtyFPS(t *testing.T) {
	dec := newFakeDecoder(30, 300)
	dest := filepath.Join(t.TempDir(), "input")
	s := NewSampler(dec, zap.NewNop())

	res, err := s.Sample(context.Background(), "clip.mp4", dest, 2)
	require.NoError(t, err)

	assert.Equal(t, 20, res.Saved)
	assert.Equal(t, 300, res.Decoded)
	assert.Equal(t, 15, res.Stride)
	assert.True(t, dec.stream.closed)

	for i := 0; i < 20; i++ {
		path := filepath.Join(dest, fmt.Sprintf("frame_%04d.png", i))
		require.FileExists(t, path)
		assert.Equal(t, i*15, sourceIndex(t, path), "frame %d", i)
	}
	assert.NoFileExists(t, filepath.Join(dest, "frame_0020.png"))
}

func TestSampleFrameCountFollowsStride(t *testing.T) {
	for _, target := range []float64{1, 2, 3, 7, 30, 60, 0} {
		t.Run(fmt.Sprint(target), func(t *testing.T) {
			dec := newFakeDecoder(30, 300)
			res, err := NewSampler(dec, zap.NewNop()).Sample(context.Background(), "clip.mp4", t.TempDir(), target)
			require.NoError(t, err)

			stride := Stride(30, target)
			want := (300 + stride - 1) / stride
			assert.Equal(t, want, res.Saved)
			assert.Len(t, res.FramePaths, want)
		})
	}
}

func TestSampleUnknownRateKeepsEveryFrame(t *testing.T) {
	dec := newFakeDecoder(0, 5)
	res, err := NewSampler(dec, zap.NewNop()).Sample(context.Background(), "clip.mp4", t.TempDir(), 2)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Saved)
	assert.Equal(t, 1, res.Stride)
}

func TestSampleOpenFailureIsSourceOpenError(t *testing.T) {
	dec := &fakeDecoder{openErr: errors.New("moov atom not found")}
	_, err := NewSampler(dec, zap.NewNop()).Sample(context.Background(), "broken.mp4", t.TempDir(), 2)

	var soe *entity.SourceOpenError
	require.True(t, errors.As(err, &soe), "got %v", err)
	assert.Equal(t, "broken.mp4", soe.Path)
}

func TestSampleDecodeErrorAborts(t *testing.T) {
	dec := newFakeDecoder(30, 300)
	dec.stream.failAt = 40
	_, err := NewSampler(dec, zap.NewNop()).Sample(context.Background(), "clip.mp4", t.TempDir(), 2)
	assert.ErrorContains(t, err, "decode frame 40")
}

func TestSampleHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dec := newFakeDecoder(30, 300)
	dest := t.TempDir()

	_, err := NewSampler(dec, zap.NewNop()).Sample(ctx, "clip.mp4", dest, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(dest, "frame_0000.png"))
}
