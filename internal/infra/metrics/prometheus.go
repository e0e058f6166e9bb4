package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconstruct_runs_total",
		Help: "Total number of pipeline runs, by final stage",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconstruct_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
	}, []string{"stage"})

	StageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconstruct_stage_failures_total",
		Help: "Total number of stage failures, by stage and error code",
	}, []string{"stage", "code"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconstruct_frames_sampled_total",
		Help: "Total number of frames written to workspace input across all runs",
	})

	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconstruct_jobs_processed_total",
		Help: "Total number of queued jobs processed, by status",
	}, []string{"status"})

	JobPhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconstruct_job_phase_duration_seconds",
		Help:    "Duration of worker job phases",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"phase"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconstruct_active_workers",
		Help: "Number of workers currently running a job",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconstruct_retry_total",
		Help: "Total number of job retries",
	}, []string{"attempt"})
)

// WriteTextfile dumps the default registry in the node_exporter textfile
// format. Used by one-shot runs that exit before anything could scrape them.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
