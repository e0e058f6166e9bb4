package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/port"
)

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

func (d *Decoder) probe(ctx context.Context, videoPath string) (port.VideoInfo, error) {
	cmd := exec.CommandContext(ctx, d.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return port.VideoInfo{}, fmt.Errorf("ffprobe: %w, stderr: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return port.VideoInfo{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(videoPath, output)
}

func parseProbe(videoPath string, output []byte) (port.VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return port.VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return port.VideoInfo{}, fmt.Errorf("no video stream")
	}
	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return port.VideoInfo{}, fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}

	rate := parseRate(s.AvgFrameRate)
	if rate <= 0 {
		rate = parseRate(s.RFrameRate)
	}

	// ffmpeg autorotates on decode, so quarter turns swap the frame size.
	rotation, _ := strconv.ParseFloat(strings.TrimSpace(s.Tags.Rotate), 64)
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			rotation = sd.Rotation
		}
	}
	width, height := s.Width, s.Height
	if quarterTurn(rotation) {
		width, height = height, width
	}
	return port.VideoInfo{
		Path:       videoPath,
		NativeRate: rate,
		Width:      width,
		Height:     height,
	}, nil
}

func quarterTurn(degrees float64) bool {
	return math.Mod(math.Abs(math.Round(degrees)), 180) == 90
}

// parseRate reads an ffprobe rate such as "30000/1001" or "25". Unknown or
// malformed rates yield 0.
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	dv, err := strconv.ParseFloat(den, 64)
	if err != nil || dv == 0 {
		return 0
	}
	return n / dv
}
