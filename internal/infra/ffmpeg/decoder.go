package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
	"go.uber.org/zap"
)

// Decoder opens videos with ffprobe for metadata and streams raw RGBA frames
// out of ffmpeg.
type Decoder struct {
	ffmpegPath  string
	ffprobePath string
	logger      *zap.Logger
}

func NewDecoder(ffmpegPath, ffprobePath string, logger *zap.Logger) *Decoder {
	return &Decoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

func (d *Decoder) Open(ctx context.Context, videoPath string) (port.FrameStream, error) {
	fi, err := os.Stat(videoPath)
	if err != nil {
		return nil, &entity.SourceOpenError{Path: videoPath, Err: err}
	}
	if fi.IsDir() {
		return nil, &entity.SourceOpenError{Path: videoPath, Err: errors.New("is a directory")}
	}

	info, err := d.probe(ctx, videoPath)
	if err != nil {
		return nil, &entity.SourceOpenError{Path: videoPath, Err: err}
	}
	if info.NativeRate <= 0 {
		d.logger.Warn("video reports no frame rate, sampling every frame", zap.String("video_path", videoPath))
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-v", "error",
		"-i", videoPath,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &entity.SourceOpenError{Path: videoPath, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	return newStream(info, cmd, stdout, stderr), nil
}

// stream decodes every frame into the same buffer. An image returned by
// Next is only valid until the following call.
type stream struct {
	info      port.VideoInfo
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    *bytes.Buffer
	frame     *image.NRGBA
	frameSize int
	done      bool
}

func newStream(info port.VideoInfo, cmd *exec.Cmd, stdout io.ReadCloser, stderr *bytes.Buffer) *stream {
	frame := image.NewNRGBA(image.Rect(0, 0, info.Width, info.Height))
	return &stream{
		info:      info,
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
		frame:     frame,
		frameSize: len(frame.Pix),
	}
}

func (s *stream) Info() port.VideoInfo { return s.info }

func (s *stream) Next() (image.Image, error) {
	if s.done {
		return nil, io.EOF
	}
	_, err := io.ReadFull(s.stdout, s.frame.Pix)
	switch {
	case err == nil:
		return s.frame, nil
	case errors.Is(err, io.EOF):
		s.done = true
		if werr := s.cmd.Wait(); werr != nil {
			return nil, fmt.Errorf("ffmpeg: %w, output: %s", werr, strings.TrimSpace(s.stderr.String()))
		}
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		_ = s.cmd.Wait()
		return nil, fmt.Errorf("truncated frame (%d bytes expected): %s", s.frameSize, strings.TrimSpace(s.stderr.String()))
	default:
		return nil, fmt.Errorf("read frame: %w", err)
	}
}

func (s *stream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.stdout.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return nil
}
