// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/leadflow/auditlog/internal/cache"
	"github.com/leadflow/auditlog/internal/logging"
	"github.com/leadflow/auditlog/internal/metrics"
	"github.com/leadflow/auditlog/internal/security"
)

// WriterConfig tunes the async writer.
type WriterConfig struct {
	Path          string
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// Writer owns the active log file exclusively: one goroutine performs
// every write and every rotation, so no write can land in a file
// mid-rename. Callers enqueue without blocking on disk I/O; Flush and
// Close block until the worker acknowledges.
type Writer struct {
	config  WriterConfig
	file    *os.File
	batch   []Event
	rotator *Rotator
	cache   *cache.Cache
	monitor *security.Monitor

	// onFlush, when set, receives each durably written batch. Used for
	// webhook event streaming.
	onFlush func([]Event)

	queue    chan Event
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewWriter opens (or creates) the active log file and starts the worker
// goroutine.
func NewWriter(cfg WriterConfig, rotator *Rotator, c *cache.Cache, monitor *security.Monitor, onFlush func([]Event)) (*Writer, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log %s: %w", cfg.Path, err)
	}

	w := &Writer{
		config:   cfg,
		file:     file,
		batch:    make([]Event, 0, cfg.BatchSize),
		rotator:  rotator,
		cache:    c,
		monitor:  monitor,
		onFlush:  onFlush,
		queue:    make(chan Event, cfg.QueueSize),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Enqueue hands an event to the worker without blocking on disk I/O.
// Returns ErrQueueFull when the queue is at capacity and ErrShutdown
// after Close.
func (w *Writer) Enqueue(ev Event) error {
	if w.closed.Load() {
		return ErrShutdown
	}
	select {
	case w.queue <- ev:
		metrics.QueueDepth.Set(float64(len(w.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Flush forces an out-of-band drain and blocks until every event
// enqueued before the call is durably written.
func (w *Writer) Flush() error {
	if w.closed.Load() {
		return ErrShutdown
	}
	ack := make(chan struct{})
	select {
	case w.flushReq <- ack:
	case <-w.done:
		return ErrShutdown
	}
	select {
	case <-ack:
		return nil
	case <-w.done:
		return ErrShutdown
	}
}

// Close stops accepting events, performs a final flush, and joins the
// worker. Safe to call multiple times.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.stop)
	})
	<-w.done
	return nil
}

// run is the worker loop. Only this goroutine touches the file handle.
func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-w.queue:
			w.batch = append(w.batch, ev)
			metrics.QueueDepth.Set(float64(len(w.queue)))
			if len(w.batch) >= w.config.BatchSize {
				w.flushBatch()
			}

		case <-ticker.C:
			w.flushBatch()

		case ack := <-w.flushReq:
			w.drainQueue()
			w.flushBatch()
			close(ack)

		case <-w.stop:
			w.drainQueue()
			w.flushBatch()
			if err := w.file.Close(); err != nil {
				logging.Warn().Err(err).Msg("Failed to close audit log file")
			}
			return
		}
	}
}

// drainQueue empties the queue into the batch, flushing when it fills.
func (w *Writer) drainQueue() {
	for {
		select {
		case ev := <-w.queue:
			w.batch = append(w.batch, ev)
			if len(w.batch) >= w.config.BatchSize {
				w.flushBatch()
			}
		default:
			metrics.QueueDepth.Set(0)
			return
		}
	}
}

// flushBatch writes the accumulated batch as NDJSON, fsyncs, invalidates
// the query cache, and hands the batch to the stream hook. A batch write
// failure is retried per event; an event failing twice becomes a
// security event and is dropped. Write failures never propagate to the
// enqueueing caller.
func (w *Writer) flushBatch() {
	if len(w.batch) == 0 {
		return
	}
	start := time.Now()

	w.maybeRotate()

	written := w.batch
	if err := w.writeAll(written); err != nil {
		logging.Warn().Err(err).Int("batch", len(written)).Msg("Batch write failed, retrying per event")
		written = w.retryIndividually(written)
	}

	if err := w.file.Sync(); err != nil {
		logging.Error().Err(err).Msg("Audit log fsync failed")
	}

	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	metrics.FlushBatchSize.Observe(float64(len(w.batch)))
	metrics.EventsWritten.Add(float64(len(written)))

	w.batch = w.batch[:0]
	w.cache.Clear()

	if w.onFlush != nil && len(written) > 0 {
		w.onFlush(written)
	}
}

// writeAll appends every event in one buffer write.
func (w *Writer) writeAll(events []Event) error {
	var buf []byte
	for i := range events {
		line, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to serialize event: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	_, err := w.file.Write(buf)
	return err
}

// retryIndividually writes events one at a time, recording and dropping
// any that fail a second time. Returns the events that made it to disk.
func (w *Writer) retryIndividually(events []Event) []Event {
	written := make([]Event, 0, len(events))
	for i := range events {
		line, err := json.Marshal(&events[i])
		if err == nil {
			line = append(line, '\n')
			_, err = w.file.Write(line)
		}
		if err != nil {
			metrics.EventsDropped.WithLabelValues("write_error").Inc()
			w.monitor.Record(security.TypeAuditWriteError, map[string]interface{}{
				"event_type": events[i].EventType,
				"lead_id":    events[i].LeadID,
				"error":      err.Error(),
			})
			logging.Error().Err(err).Str("event_type", events[i].EventType).Msg("Audit event dropped after retry")
			continue
		}
		written = append(written, events[i])
	}
	return written
}

// maybeRotate rotates the active file when it exceeds the size limit.
// Runs on the worker goroutine, so rotation is exclusive with writes.
func (w *Writer) maybeRotate() {
	if w.rotator == nil {
		return
	}
	info, err := w.file.Stat()
	if err != nil {
		logging.Warn().Err(err).Msg("Cannot stat audit log for rotation check")
		return
	}
	if info.Size() < w.rotator.MaxSize() {
		return
	}

	fresh, err := w.rotator.Rotate(w.file)
	if err != nil {
		logging.Error().Err(err).Msg("Audit log rotation failed")
		// A failed rotation may still hand back a reopened handle; a
		// nil one means the previous handle is closed and the writer
		// must recover its own, or every later flush drops events.
		if fresh == nil {
			fresh = w.reopen()
		}
		if fresh != nil {
			w.file = fresh
		}
		return
	}
	w.file = fresh
	w.cache.Clear()
	metrics.RotationsTotal.Inc()
}

// reopen restores the writer's handle after a rotation failure left the
// previous one closed.
func (w *Writer) reopen() *os.File {
	f, err := os.OpenFile(w.config.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		logging.Error().Err(err).Str("path", w.config.Path).Msg("Failed to reopen audit log after rotation failure")
		return nil
	}
	return f
}
