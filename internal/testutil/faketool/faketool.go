// Package faketool writes a shell script that stands in for the COLMAP
// binary in tests. It records every call and produces placeholder artifacts
// in the same places the real tool does.
package faketool

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const script = `#!/bin/sh
dir=$(dirname "$0")
stage=$1
shift
echo "$stage $*" >> "$dir/calls.log"
if [ -f "$dir/hang_$stage" ]; then
  exec sleep 30
fi
if [ -f "$dir/fail_$stage" ]; then
  echo "simulated failure in $stage" >&2
  exit 7
fi
db=""; img=""; out=""
while [ $# -gt 1 ]; do
  case "$1" in
    --database_path) db=$2 ;;
    --image_path) img=$2 ;;
    --output_path) out=$2 ;;
  esac
  shift 2
done
echo "running $stage"
case "$stage" in
  feature_extractor)
    : > "$db" ;;
  exhaustive_matcher)
    [ -f "$db" ] || exit 2 ;;
  mapper)
    if [ ! -f "$dir/empty_mapper" ]; then
      mkdir -p "$out/0"
      for f in cameras images points3D; do : > "$out/0/$f.bin"; done
    fi ;;
  image_undistorter)
    mkdir -p "$out/images" "$out/sparse"
    cp "$img"/*.png "$out/images/" 2>/dev/null
    for f in cameras images points3D; do : > "$out/sparse/$f.bin"; done ;;
esac
exit 0
`

type Tool struct {
	dir  string
	path string
}

// Write installs the fake tool in a fresh temp dir. Tests are skipped on
// platforms without /bin/sh.
func Write(t *testing.T) *Tool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool needs /bin/sh")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "colmap")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return &Tool{dir: dir, path: path}
}

func (f *Tool) Path() string { return f.path }

// FailOn makes the given subcommand exit with code 7.
func (f *Tool) FailOn(t *testing.T, stage string) { f.marker(t, "fail_"+stage) }

// HangOn makes the given subcommand sleep until killed.
func (f *Tool) HangOn(t *testing.T, stage string) { f.marker(t, "hang_"+stage) }

// EmptyMapper makes mapper succeed without writing a model.
func (f *Tool) EmptyMapper(t *testing.T) { f.marker(t, "empty_mapper") }

func (f *Tool) marker(t *testing.T, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, name), nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
}

// Calls returns one line per invocation: subcommand followed by its arguments.
func (f *Tool) Calls(t *testing.T) []string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.dir, "calls.log"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read calls: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

// Stages returns only the subcommand of each call.
func (f *Tool) Stages(t *testing.T) []string {
	var stages []string
	for _, c := range f.Calls(t) {
		name, _, _ := strings.Cut(c, " ")
		stages = append(stages, name)
	}
	return stages
}
