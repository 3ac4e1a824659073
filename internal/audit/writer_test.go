// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/leadflow/auditlog/internal/cache"
	"github.com/leadflow/auditlog/internal/security"
)

func newTestWriter(t *testing.T, cfg WriterConfig, rotator *Rotator) *Writer {
	t.Helper()
	c := cache.New(time.Minute)
	t.Cleanup(c.Stop)
	mon, err := security.NewMonitor("")
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	w, err := NewWriter(cfg, rotator, c, mon, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return w
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if scanner.Text() != "" {
			lines = append(lines, scanner.Text())
		}
	}
	return lines
}

func TestWriterFlushPersistsInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w := newTestWriter(t, WriterConfig{
		Path:          path,
		QueueSize:     100,
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, nil)
	defer w.Close()

	for i := 0; i < 10; i++ {
		ev := sampleEvent()
		ev.Details = map[string]interface{}{"seq": i}
		if err := w.Enqueue(ev); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 10 {
		t.Fatalf("got %d lines, want 10", len(lines))
	}
	for i, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %d unmarshal: %v", i, err)
		}
		if int(ev.Details["seq"].(float64)) != i {
			t.Errorf("line %d has seq %v, want %d", i, ev.Details["seq"], i)
		}
	}
}

func TestWriterBatchSizeTrigger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w := newTestWriter(t, WriterConfig{
		Path:          path,
		QueueSize:     100,
		BatchSize:     5,
		FlushInterval: time.Hour,
	}, nil)
	defer w.Close()

	for i := 0; i < 5; i++ {
		if err := w.Enqueue(sampleEvent()); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	// The batch trigger should flush without an explicit Flush call.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(readLines(t, path)) == 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch of 5 not flushed, got %d lines", len(readLines(t, path)))
}

func TestWriterIntervalTrigger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w := newTestWriter(t, WriterConfig{
		Path:          path,
		QueueSize:     100,
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
	}, nil)
	defer w.Close()

	if err := w.Enqueue(sampleEvent()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(readLines(t, path)) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("interval trigger did not flush")
}

func TestWriterQueueFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	// BatchSize 1 forces a write+fsync per event, so the producer
	// outruns the worker and hits the queue bound.
	w := newTestWriter(t, WriterConfig{
		Path:          path,
		QueueSize:     2,
		BatchSize:     1,
		FlushInterval: time.Hour,
	}, nil)
	defer w.Close()

	var sawFull bool
	for i := 0; i < 1000; i++ {
		if err := w.Enqueue(sampleEvent()); err == ErrQueueFull {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Error("expected ErrQueueFull on a saturated queue")
	}
}

func TestWriterCloseIdempotentAndFinalFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w := newTestWriter(t, WriterConfig{
		Path:          path,
		QueueSize:     100,
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, nil)

	for i := 0; i < 3; i++ {
		if err := w.Enqueue(sampleEvent()); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if got := len(readLines(t, path)); got != 3 {
		t.Errorf("final flush wrote %d lines, want 3 (and no duplicates)", got)
	}

	if err := w.Enqueue(sampleEvent()); err != ErrShutdown {
		t.Errorf("Enqueue after Close = %v, want ErrShutdown", err)
	}
	if err := w.Flush(); err != ErrShutdown {
		t.Errorf("Flush after Close = %v, want ErrShutdown", err)
	}
}

func TestRotationOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	rotator := NewRotator(RotatorConfig{
		Path:         path,
		MaxSizeBytes: 1024,
	})
	w := newTestWriter(t, WriterConfig{
		Path:          path,
		QueueSize:     100,
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, rotator)
	defer w.Close()

	// First flush: file starts empty, no rotation, content exceeds 1KB.
	big := strings.Repeat("x", 200)
	for i := 0; i < 10; i++ {
		ev := sampleEvent()
		ev.Details = map[string]interface{}{"pad": big, "batch": "first"}
		if err := w.Enqueue(ev); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Second flush: size check fires, prior content rotates out.
	ev := sampleEvent()
	ev.Details = map[string]interface{}{"batch": "second"}
	if err := w.Enqueue(ev); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	archives, err := filepath.Glob(filepath.Join(dir, "audit-*.log.gz"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("got %d compressed segments, want 1", len(archives))
	}

	// Active file holds only the post-rotation batch.
	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("active file has %d lines, want 1", len(lines))
	}
	if !strings.Contains(lines[0], `"batch":"second"`) {
		t.Errorf("active file holds wrong content: %s", lines[0])
	}

	// The archive holds the prior content, readable after decompression.
	f, err := os.Open(archives[0])
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	var archived int
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		archived++
		if !strings.Contains(scanner.Text(), `"batch":"first"`) {
			t.Errorf("archive holds unexpected line: %s", scanner.Text())
		}
	}
	if archived != 10 {
		t.Errorf("archive has %d events, want 10", archived)
	}

	// The uncompressed segment must be gone.
	plain, _ := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	if len(plain) != 0 {
		t.Errorf("uncompressed segment left behind: %v", plain)
	}
}

func TestRotateFailureReturnsUsableHandle(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "audit.log")
	f, err := os.OpenFile(active, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// The rotator's path does not exist, so the rename step fails after
	// the active handle is already closed.
	rotator := NewRotator(RotatorConfig{
		Path:         filepath.Join(dir, "elsewhere.log"),
		MaxSizeBytes: 1,
	})

	fresh, err := rotator.Rotate(f)
	if err == nil {
		t.Fatal("expected rotation to fail")
	}
	if fresh == nil {
		t.Fatal("failed rotation must hand back a usable handle")
	}
	defer fresh.Close()
	if _, err := fresh.Write([]byte("still writing\n")); err != nil {
		t.Errorf("write after failed rotation: %v", err)
	}
}

func TestWriterSurvivesRotationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	// This rotator cannot even reopen its own path (the parent directory
	// does not exist), so the writer has to recover the handle itself.
	rotator := NewRotator(RotatorConfig{
		Path:         filepath.Join(dir, "missing", "audit.log"),
		MaxSizeBytes: 1,
	})
	w := newTestWriter(t, WriterConfig{
		Path:          path,
		QueueSize:     100,
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, rotator)
	defer w.Close()

	for i := 0; i < 3; i++ {
		if err := w.Enqueue(sampleEvent()); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The file now exceeds the threshold; this flush attempts a rotation
	// that fails. Events must keep landing on disk regardless.
	for i := 0; i < 4; i++ {
		if err := w.Enqueue(sampleEvent()); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := len(readLines(t, path)); got != 7 {
		t.Errorf("got %d lines after failed rotation, want 7 (writer handle broken?)", got)
	}
}

func TestRetentionSweep(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	old := filepath.Join(dir, "audit-20200101T000000.log.gz")
	if err := os.WriteFile(old, []byte("old"), 0640); err != nil {
		t.Fatalf("write: %v", err)
	}
	stale := time.Now().AddDate(0, 0, -100)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fresh := filepath.Join(dir, "audit-20260801T000000.log.gz")
	if err := os.WriteFile(fresh, []byte("fresh"), 0640); err != nil {
		t.Fatalf("write: %v", err)
	}

	rotator := NewRotator(RotatorConfig{
		Path:          path,
		MaxSizeBytes:  1 << 20,
		RetentionDays: 90,
	})
	rotator.sweepRetention()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("segment past retention should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("segment within retention should survive")
	}
}
