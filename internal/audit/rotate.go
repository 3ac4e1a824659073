// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/leadflow/auditlog/internal/logging"
)

// rotatedTimeLayout names rotated segments, e.g. audit-20260830T141502.log.gz.
const rotatedTimeLayout = "20060102T150405"

// RotatorConfig tunes rotation and retention.
type RotatorConfig struct {
	Path             string
	MaxSizeBytes     int64
	CompressionLevel int
	RetentionDays    int
}

// Rotator renames the active log to a timestamped segment, compresses
// it, and prunes segments past retention. All methods are called from
// the writer goroutine only.
type Rotator struct {
	config RotatorConfig
}

// NewRotator creates a rotator. A compression level outside 1..9 falls
// back to gzip's default.
func NewRotator(cfg RotatorConfig) *Rotator {
	if cfg.CompressionLevel < gzip.BestSpeed || cfg.CompressionLevel > gzip.BestCompression {
		cfg.CompressionLevel = gzip.DefaultCompression
	}
	return &Rotator{config: cfg}
}

// MaxSize returns the rotation threshold in bytes.
func (r *Rotator) MaxSize() int64 {
	return r.config.MaxSizeBytes
}

// Rotate closes the active file, renames it with a timestamp suffix,
// compresses the segment, and returns a fresh active file. A failure
// after the active handle is closed reopens the original path, so a
// non-nil file may accompany a non-nil error; callers must adopt it or
// every later write hits a closed handle.
func (r *Rotator) Rotate(active *os.File) (*os.File, error) {
	if err := active.Sync(); err != nil {
		// The handle is still open and usable.
		return active, fmt.Errorf("failed to sync before rotation: %w", err)
	}
	if err := active.Close(); err != nil {
		return r.reopen(), fmt.Errorf("failed to close active log: %w", err)
	}

	rotated := r.rotatedName(time.Now().UTC())
	if err := os.Rename(r.config.Path, rotated); err != nil {
		return r.reopen(), fmt.Errorf("failed to rename active log: %w", err)
	}

	fresh, err := os.OpenFile(r.config.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return r.reopen(), fmt.Errorf("failed to open fresh log file: %w", err)
	}

	if err := r.compress(rotated); err != nil {
		// The uncompressed segment stays in place; queries can still
		// read it and the next sweep retries nothing. Log and move on.
		logging.Warn().Err(err).Str("segment", rotated).Msg("Failed to compress rotated segment")
	}

	r.sweepRetention()
	return fresh, nil
}

// reopen restores a handle on the active path after a partial rotation
// closed the previous one. Returns nil when the path cannot be opened.
func (r *Rotator) reopen() *os.File {
	f, err := os.OpenFile(r.config.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		logging.Error().Err(err).Str("path", r.config.Path).Msg("Failed to reopen audit log after rotation failure")
		return nil
	}
	return f
}

// rotatedName builds a unique timestamped segment path.
func (r *Rotator) rotatedName(now time.Time) string {
	dir := filepath.Dir(r.config.Path)
	base := strings.TrimSuffix(filepath.Base(r.config.Path), filepath.Ext(r.config.Path))
	name := filepath.Join(dir, fmt.Sprintf("%s-%s.log", base, now.Format(rotatedTimeLayout)))
	for i := 1; ; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			if _, err := os.Stat(name + ".gz"); os.IsNotExist(err) {
				return name
			}
		}
		name = filepath.Join(dir, fmt.Sprintf("%s-%s-%d.log", base, now.Format(rotatedTimeLayout), i))
	}
}

// compress gzips a rotated segment and removes the original.
func (r *Rotator) compress(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	gz, err := gzip.NewWriterLevel(dst, r.config.CompressionLevel)
	if err != nil {
		dst.Close()
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return fmt.Errorf("failed to compress segment: %w", err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	return os.Remove(path)
}

// sweepRetention deletes compressed segments older than the retention
// window. Zero retention keeps everything.
func (r *Rotator) sweepRetention() {
	if r.config.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -r.config.RetentionDays)

	pattern := r.segmentGlob()
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				logging.Warn().Err(err).Str("segment", path).Msg("Failed to remove expired segment")
			} else {
				logging.Info().Str("segment", path).Msg("Removed expired audit segment")
			}
		}
	}
}

// segmentGlob matches rotated compressed segments next to the active file.
func (r *Rotator) segmentGlob() string {
	dir := filepath.Dir(r.config.Path)
	base := strings.TrimSuffix(filepath.Base(r.config.Path), filepath.Ext(r.config.Path))
	return filepath.Join(dir, base+"-*.log.gz")
}

// Segments returns the rotated segment paths for this log, compressed
// and not, oldest first by name.
func (r *Rotator) Segments() []string {
	compressed, _ := filepath.Glob(r.segmentGlob())
	plain, _ := filepath.Glob(strings.TrimSuffix(r.segmentGlob(), ".gz"))
	segments := append(plain, compressed...)
	sort.Strings(segments)
	return segments
}
