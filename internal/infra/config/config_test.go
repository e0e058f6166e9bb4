package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "workspace", cfg.WorkspaceRoot)
	assert.Equal(t, "colmap", cfg.ToolPath)
	assert.Equal(t, 2.0, cfg.FrameRate)
	assert.Equal(t, 2000, cfg.MaxImageSize)
	assert.Equal(t, time.Duration(0), cfg.StageTimeout)
	assert.Equal(t, 10*time.Second, cfg.KillGrace)
	assert.Equal(t, "reconstruction.request", cfg.RabbitMQRequestQueue)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.JaegerEndpoint)
	assert.Zero(t, cfg.MetricsPort)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("FRAME_RATE", "5")
	t.Setenv("STAGE_TIMEOUT", "90s")
	t.Setenv("COLMAP_PATH", "/opt/colmap/bin/colmap")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.FrameRate)
	assert.Equal(t, 90*time.Second, cfg.StageTimeout)
	assert.Equal(t, "/opt/colmap/bin/colmap", cfg.ToolPath)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("MAX_IMAGE_SIZE", "large")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("WORKSPACE_ROOT=/from/file\nMAX_IMAGE_SIZE=1000\n"), 0o644))
	t.Setenv("MAX_IMAGE_SIZE", "1600")
	// godotenv writes into the process environment; register cleanup first.
	t.Setenv("WORKSPACE_ROOT", "")
	require.NoError(t, os.Unsetenv("WORKSPACE_ROOT"))

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "/from/file", cfg.WorkspaceRoot)
	assert.Equal(t, 1600, cfg.MaxImageSize)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestFlags_OverrideOnlyWhenSet(t *testing.T) {
	t.Setenv("FRAME_RATE", "4")
	t.Setenv("WORKSPACE_ROOT", "/env/ws")

	flags, err := ParseFlags("reconstruct", []string{"-video", "clip.mp4", "-frame-rate", "1.5"}, io.Discard)
	require.NoError(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	flags.Apply(cfg)

	assert.Equal(t, "clip.mp4", cfg.VideoPath)
	assert.Equal(t, 1.5, cfg.FrameRate)
	assert.Equal(t, "/env/ws", cfg.WorkspaceRoot)
}

func TestFlags_UnknownFlag(t *testing.T) {
	_, err := ParseFlags("reconstruct", []string{"-nope"}, io.Discard)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.VideoPath = "clip.mp4"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero rate", mutate: func(c *Config) { c.FrameRate = 0 }, wantErr: "frame rate"},
		{name: "negative rate", mutate: func(c *Config) { c.FrameRate = -1 }, wantErr: "frame rate"},
		{name: "zero size", mutate: func(c *Config) { c.MaxImageSize = 0 }, wantErr: "max image size"},
		{name: "empty tool", mutate: func(c *Config) { c.ToolPath = " " }, wantErr: "colmap path"},
		{name: "empty workspace", mutate: func(c *Config) { c.WorkspaceRoot = "" }, wantErr: "workspace root"},
		{name: "negative timeout", mutate: func(c *Config) { c.StageTimeout = -time.Second }, wantErr: "stage timeout"},
		{name: "no video", mutate: func(c *Config) { c.VideoPath = "" }, wantErr: "video path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.ValidateRun()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DoesNotRequireVideo(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestValidateWorker(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.ValidateWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database url")
	assert.Contains(t, err.Error(), "minio endpoint")

	cfg.DatabaseURL = "postgres://u:p@db:5432/rv"
	cfg.MinIOEndpoint = "minio:9000"
	assert.NoError(t, cfg.ValidateWorker())
}
