package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/store"
)

// writeConfig writes a small file-backed configuration into dir.
func writeConfig(t *testing.T, dir, exportPath string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
app:
  environment: development
  log_level: warn
evolution:
  module_count: 12
  seed: 42
  parallelism: 2
storage:
  backend: file
  dir: %s
symbols:
  source: fixed
  fixed: [MATICUSDT, OPUSDT]
  export_path: %s
monitoring:
  enable_metrics: false
`, filepath.Join(dir, "state"), exportPath)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRun_PrintsBriefing(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, filepath.Join(dir, "selected.json"))

	var out bytes.Buffer
	code := run(context.Background(), []string{"-config", path, "-rounds", "2"}, &out)
	require.Equal(t, exitOK, code)

	assert.Contains(t, out.String(), "King")
	assert.FileExists(t, filepath.Join(dir, "selected.json"))

	// State survives for the next invocation.
	fs, err := store.NewFileStore(filepath.Join(dir, "state"))
	require.NoError(t, err)
	kings, err := fs.LoadKingPool(context.Background())
	require.NoError(t, err)
	assert.Len(t, kings, 1)
	godline, err := fs.LoadGodline(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, godline)
}

func TestRun_NoReport(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, filepath.Join(dir, "selected.json"))

	var withReport, withoutReport bytes.Buffer
	require.Equal(t, exitOK, run(context.Background(), []string{"-config", path}, &withReport))
	require.Equal(t, exitOK, run(context.Background(), []string{"-config", path, "-report=false"}, &withoutReport))
	assert.Greater(t, withReport.Len(), withoutReport.Len())
}

func TestRun_PartialWrite(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	path := writeConfig(t, dir, filepath.Join(blocker, "selected.json"))

	var out bytes.Buffer
	code := run(context.Background(), []string{"-config", path}, &out)
	assert.Equal(t, exitPartialWrite, code)
	assert.Contains(t, out.String(), "King")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args func(t *testing.T) []string
	}{
		{
			name: "unknown flag",
			args: func(*testing.T) []string { return []string{"-nope"} },
		},
		{
			name: "malformed config",
			args: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "bad.yaml")
				require.NoError(t, os.WriteFile(path, []byte("evolution: [not a map"), 0o600))
				return []string{"-config", path}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, exitError, run(context.Background(), tt.args(t), &out))
			assert.Empty(t, out.String())
		})
	}
}

func TestExitCode(t *testing.T) {
	partial := &evolution.PartialWriteError{
		RoundID:  "r1",
		Failures: map[string]error{"godline": errors.New("disk full")},
	}

	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitPartialWrite, exitCode(partial))
	assert.Equal(t, exitPartialWrite, exitCode(fmt.Errorf("round: %w", partial)))
	assert.Equal(t, exitError, exitCode(errors.New("boom")))
}
