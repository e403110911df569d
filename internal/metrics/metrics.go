// Package metrics counts what a run found, backed up and deleted, and writes
// the counts as a node-exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lakshaymaurya-felt/clearfile/internal/events"
)

const namespace = "clearfile"

// Skip stage labels.
const (
	StageScan    = events.StageScan
	StageBackup  = events.StageBackup
	StageDelete  = events.StageDelete
	StageRestore = events.StageRestore
)

// RunMetrics holds the per-run counters. It is also an events.Sink so it can
// be attached directly to a pipeline.
type RunMetrics struct {
	reg *prometheus.Registry

	FilesFound      prometheus.Counter
	BytesFound      prometheus.Counter
	FilesDeleted    prometheus.Counter
	BytesFreed      prometheus.Counter
	FilesSkipped    *prometheus.CounterVec
	ArchivesCreated prometheus.Counter
	ArchivesRemoved prometheus.Counter
	FilesRestored   prometheus.Counter
	LastRun         prometheus.Gauge
	RunDuration     prometheus.Gauge
	RunInfo         *prometheus.GaugeVec
}

// New creates run metrics registered with a private registry.
func New() *RunMetrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates run metrics registered with reg.
func NewWithRegistry(reg *prometheus.Registry) *RunMetrics {
	m := &RunMetrics{
		reg: reg,
		FilesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_found_total",
			Help:      "Number of rubbish files found by scans.",
		}),
		BytesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "bytes_found_total",
			Help:      "Total size of rubbish files found by scans.",
		}),
		FilesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "files_deleted_total",
			Help:      "Number of files deleted after a successful backup.",
		}),
		BytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "bytes_freed_total",
			Help:      "Total size of deleted files.",
		}),
		FilesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Number of files skipped, by stage.",
		}, []string{"stage"}),
		ArchivesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "archives_created_total",
			Help:      "Number of backup archives finalized.",
		}),
		ArchivesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "archives_removed_total",
			Help:      "Number of archives removed by retention sweeps.",
		}),
		FilesRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "files_restored_total",
			Help:      "Number of files restored from archives.",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		RunInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_info",
			Help:      "Always 1; labels identify the run the other metrics belong to.",
		}, []string{"run_id", "version"}),
	}

	reg.MustRegister(
		m.FilesFound,
		m.BytesFound,
		m.FilesDeleted,
		m.BytesFreed,
		m.FilesSkipped,
		m.ArchivesCreated,
		m.ArchivesRemoved,
		m.FilesRestored,
		m.LastRun,
		m.RunDuration,
		m.RunInfo,
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// Emit updates counters from a pipeline event.
func (m *RunMetrics) Emit(e events.Event) {
	switch e.Kind {
	case events.KindFound:
		m.FilesFound.Inc()
		m.BytesFound.Add(float64(e.Size))
	case events.KindDeleted:
		m.FilesDeleted.Inc()
		m.BytesFreed.Add(float64(e.Size))
	case events.KindSkipped:
		stage := e.Stage
		if stage == "" {
			stage = StageDelete
		}
		m.RecordSkip(stage)
	case events.KindSummary:
		if s := e.Summary; s != nil {
			m.ArchivesRemoved.Add(float64(s.ArchivesRemoved))
			if s.Archive != "" {
				m.ArchivesCreated.Inc()
			}
		}
		if !e.Time.IsZero() {
			m.LastRun.Set(float64(e.Time.Unix()))
		}
	}
}

// RecordSkip counts one skipped file at stage.
func (m *RunMetrics) RecordSkip(stage string) {
	m.FilesSkipped.WithLabelValues(stage).Inc()
}

// RecordSweep counts archives removed by a retention sweep.
func (m *RunMetrics) RecordSweep(removed int) {
	m.ArchivesRemoved.Add(float64(removed))
}

// RecordRestore counts restored files and restore failures.
func (m *RunMetrics) RecordRestore(restored, failed int) {
	m.FilesRestored.Add(float64(restored))
	m.FilesSkipped.WithLabelValues(StageRestore).Add(float64(failed))
}

// SetRunInfo labels the textfile with the run id that also tags the logs.
// Only the latest run is kept.
func (m *RunMetrics) SetRunInfo(runID, version string) {
	m.RunInfo.Reset()
	m.RunInfo.WithLabelValues(runID, version).Set(1)
}

// ObserveRun records the duration of a run that started at start.
func (m *RunMetrics) ObserveRun(start time.Time) {
	m.RunDuration.Set(time.Since(start).Seconds())
}

// WriteTextfile writes every metric to path in the text exposition format.
// The write goes through a temporary file so collectors never read a torn file.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
