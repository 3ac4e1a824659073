// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

// Package metrics defines Prometheus collectors for the audit engine.
// All collectors register themselves with the default registry via
// promauto at package load.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsWritten counts audit events durably written to the log.
	EventsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_events_written_total",
		Help: "Total number of audit events written to the log file",
	})

	// EventsDropped counts events rejected before the write path, by reason.
	// Reasons: validation, rate_limit, queue_full, write_error, shutdown.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditlog_events_dropped_total",
		Help: "Total number of audit events dropped before durable write",
	}, []string{"reason"})

	// FlushDuration observes how long a batch flush takes, fsync included.
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auditlog_flush_duration_seconds",
		Help:    "Duration of audit batch flushes including fsync",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// FlushBatchSize observes the number of events per flush.
	FlushBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auditlog_flush_batch_size",
		Help:    "Number of events written per flush",
		Buckets: prometheus.LinearBuckets(1, 10, 11),
	})

	// QueueDepth tracks the number of events waiting in the writer queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auditlog_queue_depth",
		Help: "Current number of events queued for the writer goroutine",
	})

	// RateLimitRejections counts events refused by the per-source limiter.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_rate_limit_rejections_total",
		Help: "Total number of events rejected by rate limiting",
	})

	// CacheHits counts query cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_cache_hits_total",
		Help: "Total number of query cache hits",
	})

	// CacheMisses counts query cache misses.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_cache_misses_total",
		Help: "Total number of query cache misses",
	})

	// RotationsTotal counts completed log rotations.
	RotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_rotations_total",
		Help: "Total number of completed log rotations",
	})

	// AlertsSent counts alerts dispatched, labelled by sink name.
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditlog_alerts_sent_total",
		Help: "Total number of alerts dispatched to notification sinks",
	}, []string{"sink"})

	// AlertsFailed counts alert deliveries that returned an error.
	AlertsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditlog_alerts_failed_total",
		Help: "Total number of failed alert deliveries",
	}, []string{"sink"})

	// SecurityEvents counts recorded security events by type.
	SecurityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditlog_security_events_total",
		Help: "Total number of security events recorded by the monitor",
	}, []string{"type"})
)
