// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

// Package ratelimit gates event admission with per-source token buckets.
// Each source key (typically "workflow:lead_id") gets its own bucket that
// refills at a fixed rate up to a burst cap. Rejections are advisory: the
// engine records them and returns an error, but never retries internally.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultKey is used when an event carries neither workflow nor lead ID.
const DefaultKey = "default"

// Config holds token bucket parameters.
type Config struct {
	// Rate is tokens added per second. Default 100.
	Rate float64

	// Burst is the bucket capacity. Tokens never exceed this. Default 200.
	Burst int
}

// DefaultConfig returns the default admission parameters.
func DefaultConfig() Config {
	return Config{Rate: 100, Burst: 200}
}

// Limiter implements per-key rate limiting with automatic cleanup of
// buckets that have gone idle.
type Limiter struct {
	buckets   map[string]*bucketEntry
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	stopClean chan struct{}
	closeOnce sync.Once

	blocked int64
}

// bucketEntry wraps a token bucket with last access time.
type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a limiter with the given parameters and starts the idle
// bucket cleanup loop.
func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultConfig().Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}

	l := &Limiter{
		buckets:   make(map[string]*bucketEntry),
		rate:      rate.Limit(cfg.Rate),
		burst:     cfg.Burst,
		stopClean: make(chan struct{}),
	}
	go l.cleanupLoop(10 * time.Minute)
	return l
}

// Allow reports whether one event from the given source key is admitted,
// consuming a token when it is.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		key = DefaultKey
	}

	l.mu.Lock()
	entry, exists := l.buckets[key]
	if !exists {
		entry = &bucketEntry{
			limiter:    rate.NewLimiter(l.rate, l.burst),
			lastAccess: time.Now(),
		}
		l.buckets[key] = entry
	} else {
		entry.lastAccess = time.Now()
	}
	limiter := entry.limiter
	l.mu.Unlock()

	if limiter.Allow() {
		return true
	}

	l.mu.Lock()
	l.blocked++
	l.mu.Unlock()
	return false
}

// Stats reports limiter state for monitoring.
type Stats struct {
	// ActiveSources is the number of tracked bucket keys.
	ActiveSources int

	// BlockedEvents is the total number of rejected admissions.
	BlockedEvents int64
}

// Stats returns a snapshot of limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		ActiveSources: len(l.buckets),
		BlockedEvents: l.blocked,
	}
}

// cleanupLoop periodically removes idle buckets.
func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopClean:
			return
		}
	}
}

// cleanup removes buckets that haven't been accessed in the last hour.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := time.Now().Add(-1 * time.Hour)
	for key, entry := range l.buckets {
		if entry.lastAccess.Before(threshold) {
			delete(l.buckets, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.closeOnce.Do(func() {
		close(l.stopClean)
	})
}
