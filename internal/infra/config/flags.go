package config

import (
	"flag"
	"io"
	"time"
)

// Flags holds the command line overrides. Only flags the user actually
// passed are applied, so an unset flag never masks an environment value.
type Flags struct {
	fs *flag.FlagSet

	envFile         string
	videoPath       string
	workspaceRoot   string
	toolPath        string
	frameRate       float64
	maxImageSize    int
	stageTimeout    time.Duration
	logLevel        string
	logFormat       string
	metricsTextfile string
}

func ParseFlags(name string, args []string, output io.Writer) (*Flags, error) {
	f := &Flags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.SetOutput(output)

	f.fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	f.fs.StringVar(&f.videoPath, "video", "", "video source file (VIDEO_PATH)")
	f.fs.StringVar(&f.workspaceRoot, "workspace", "", "workspace root directory (WORKSPACE_ROOT)")
	f.fs.StringVar(&f.toolPath, "colmap", "", "COLMAP executable (COLMAP_PATH)")
	f.fs.Float64Var(&f.frameRate, "frame-rate", 0, "frames per second to sample (FRAME_RATE)")
	f.fs.IntVar(&f.maxImageSize, "max-image-size", 0, "undistorted image size cap in pixels (MAX_IMAGE_SIZE)")
	f.fs.DurationVar(&f.stageTimeout, "stage-timeout", 0, "per-stage timeout, 0 for none (STAGE_TIMEOUT)")
	f.fs.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error (LOG_LEVEL)")
	f.fs.StringVar(&f.logFormat, "log-format", "", "json|console (LOG_FORMAT)")
	f.fs.StringVar(&f.metricsTextfile, "metrics-textfile", "", "write run metrics to this file on exit (METRICS_TEXTFILE)")

	if err := f.fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Flags) EnvFile() string { return f.envFile }

// Args returns the positional arguments left after the flags.
func (f *Flags) Args() []string { return f.fs.Args() }

func (f *Flags) Usage() { f.fs.Usage() }

// Apply copies every explicitly set flag onto cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "video":
			cfg.VideoPath = f.videoPath
		case "workspace":
			cfg.WorkspaceRoot = f.workspaceRoot
		case "colmap":
			cfg.ToolPath = f.toolPath
		case "frame-rate":
			cfg.FrameRate = f.frameRate
		case "max-image-size":
			cfg.MaxImageSize = f.maxImageSize
		case "stage-timeout":
			cfg.StageTimeout = f.stageTimeout
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "log-format":
			cfg.LogFormat = f.logFormat
		case "metrics-textfile":
			cfg.MetricsTextfile = f.metricsTextfile
		}
	})
}
