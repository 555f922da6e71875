// Package compressor shrinks encoded animations, on-device or through a
// Tinify-compatible web service, and writes results atomically.
package compressor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"frame-converter-go/internal/encoder"
)

var (
	ErrUnsupported = errors.New("format not supported by compressor")
	ErrRemote      = errors.New("remote compression failed")
)

// Compressor transforms an encoded animation into a smaller one. There is no
// guarantee the result is smaller; use Run to keep the original in that case.
type Compressor interface {
	Compress(ctx context.Context, data []byte, format encoder.Format, quality int) ([]byte, error)
}

// Outcome describes one compression pass.
type Outcome struct {
	OriginalSize    int64
	CompressedSize  int64
	PercentageSaved float64
	Action          string // "compressed" or "original"
}

// Run compresses data and keeps the original when the result is not smaller.
// On error the original bytes are returned together with the error.
func Run(ctx context.Context, c Compressor, data []byte, format encoder.Format, quality int) ([]byte, Outcome, error) {
	out := Outcome{
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(data)),
		Action:         "original",
	}

	compressed, err := c.Compress(ctx, data, format, quality)
	if err != nil {
		return data, out, err
	}
	if len(compressed) == 0 || len(compressed) >= len(data) {
		return data, out, nil
	}

	out.CompressedSize = int64(len(compressed))
	out.Action = "compressed"
	out.PercentageSaved = float64(out.OriginalSize-out.CompressedSize) * 100 / float64(out.OriginalSize)
	return compressed, out, nil
}

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// TempFiles returns leftover temporary files WriteFileAtomic may have created
// for path.
func TempFiles(path string) []string {
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp"))
	return matches
}
