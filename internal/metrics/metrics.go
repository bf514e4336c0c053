package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	watchTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapwatch",
			Subsystem: "watch",
			Name:      "transitions_total",
			Help:      "Number of observed liveness transitions per tracked process.",
		}, []string{"process", "to"},
	)
	watchRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "snapwatch",
			Subsystem: "watch",
			Name:      "running",
			Help:      "Last polled liveness of a tracked process (1 = running).",
		}, []string{"process"},
	)
	watchCheckErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapwatch",
			Subsystem: "watch",
			Name:      "check_errors_total",
			Help:      "Number of liveness checks that failed.",
		}, []string{"process"},
	)
	backupCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapwatch",
			Subsystem: "backup",
			Name:      "created_total",
			Help:      "Number of backups created.",
		}, []string{"process"},
	)
	backupFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapwatch",
			Subsystem: "backup",
			Name:      "failed_total",
			Help:      "Number of backups that failed to be created.",
		}, []string{"process"},
	)
	backupSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapwatch",
			Subsystem: "backup",
			Name:      "skipped_total",
			Help:      "Number of stop events that did not produce a backup, by reason.",
		}, []string{"process", "reason"},
	)
	fingerprintDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "snapwatch",
			Subsystem: "backup",
			Name:      "fingerprint_duration_seconds",
			Help:      "Time spent fingerprinting a tracked source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"process"},
	)
	restores = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapwatch",
			Subsystem: "restore",
			Name:      "total",
			Help:      "Number of restore attempts by result.",
		}, []string{"process", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{watchTransitions, watchRunning, watchCheckErrors, backupCreated, backupFailed, backupSkipped, fingerprintDuration, restores}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func RecordTransition(process string, running bool) {
	if regOK.Load() {
		to := "stopped"
		var v float64
		if running {
			to, v = "running", 1
		}
		watchTransitions.WithLabelValues(process, to).Inc()
		watchRunning.WithLabelValues(process).Set(v)
	}
}

func SetRunning(process string, running bool) {
	if regOK.Load() {
		var v float64
		if running {
			v = 1
		}
		watchRunning.WithLabelValues(process).Set(v)
	}
}

// Forget drops the per-process series of a removed or renamed entry.
func Forget(process string) {
	if regOK.Load() {
		watchRunning.DeleteLabelValues(process)
	}
}

func IncCheckError(process string) {
	if regOK.Load() {
		watchCheckErrors.WithLabelValues(process).Inc()
	}
}

func IncBackupCreated(process string) {
	if regOK.Load() {
		backupCreated.WithLabelValues(process).Inc()
	}
}

func IncBackupFailed(process string) {
	if regOK.Load() {
		backupFailed.WithLabelValues(process).Inc()
	}
}

func IncBackupSkipped(process, reason string) {
	if regOK.Load() {
		backupSkipped.WithLabelValues(process, reason).Inc()
	}
}

func ObserveFingerprint(process string, seconds float64) {
	if regOK.Load() {
		fingerprintDuration.WithLabelValues(process).Observe(seconds)
	}
}

func IncRestore(process, result string) {
	if regOK.Load() {
		restores.WithLabelValues(process, result).Inc()
	}
}
