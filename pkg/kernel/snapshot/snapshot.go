// Package snapshot prepares per-run copies of an environment's data so the
// action runner can mutate them without touching the source files.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handle identifies a prepared snapshot. For Dir it is the snapshot file path.
type Handle string

// Manager prepares and releases data snapshots.
type Manager interface {
	Prepare(ctx context.Context, env string) (Handle, error)
	Delete(h Handle) error
}

// Dir consolidates <Root>/<env>/data/*.json into one JSON object keyed by
// file stem and writes it under TempDir.
type Dir struct {
	Root    string
	TempDir string
	Logger  *zap.Logger
}

// NewDir returns a Dir manager. An empty tempDir means os.TempDir().
func NewDir(root, tempDir string, logger *zap.Logger) *Dir {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dir{Root: root, TempDir: tempDir, Logger: logger.Named("snapshot")}
}

// DataDir returns the directory holding the source data of env.
func (d *Dir) DataDir(env string) string {
	return filepath.Join(d.Root, env, "data")
}

// Prepare writes a fresh snapshot of env and returns its path.
func (d *Dir) Prepare(ctx context.Context, env string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src := d.DataDir(env)
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("data directory not found for environment %q: expected %s", env, src)
	}

	files, err := filepath.Glob(filepath.Join(src, "*.json"))
	if err != nil {
		return "", fmt.Errorf("list data files: %w", err)
	}
	sort.Strings(files)

	merged := make(map[string]json.RawMessage, len(files))
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			d.log().Warn("skipping unreadable data file", zap.String("file", f), zap.Error(err))
			continue
		}
		if !json.Valid(raw) {
			d.log().Warn("skipping malformed data file", zap.String("file", f))
			continue
		}
		merged[strings.TrimSuffix(filepath.Base(f), ".json")] = raw
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := d.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(tmp, fmt.Sprintf("env_data_%s_%s.json", env, uuid.NewString()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	d.log().Debug("prepared snapshot", zap.String("env", env), zap.Int("files", len(merged)), zap.String("path", path))
	return Handle(path), nil
}

// Delete removes a snapshot. Deleting a snapshot that is already gone is
// not an error.
func (d *Dir) Delete(h Handle) error {
	if h == "" {
		return nil
	}
	if err := os.Remove(string(h)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (d *Dir) log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
