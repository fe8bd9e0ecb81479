package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snsqa_pipeline_calls_total",
			Help: "Total number of question pipeline calls by outcome.",
		},
		[]string{"outcome"},
	)
	pipelineRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snsqa_pipeline_retries_total",
			Help: "Total number of pipeline re-attempts after a rate-limit failure.",
		},
	)
	pipelinePanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snsqa_pipeline_panics_total",
			Help: "Total number of pipeline attempts aborted by a recovered panic.",
		},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snsqa_pipeline_stage_duration_seconds",
			Help:    "Latency of pipeline stages (generate, execute, synthesize).",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"stage", "status"},
	)
	pipelineResultTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snsqa_pipeline_result_truncated_total",
			Help: "Total number of SQL results truncated to the character budget.",
		},
	)
	answerUnknownTableRefsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snsqa_answer_unknown_table_refs_total",
			Help: "Total number of synthesized answers that mention tables outside the allow-list.",
		},
	)
	historyArchiveFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snsqa_history_archive_flushes_total",
			Help: "Total number of query history archive flushes by status.",
		},
		[]string{"status"},
	)
	historyArchivedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snsqa_history_archived_entries_total",
			Help: "Total number of query history entries written to object storage.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineCallsTotal,
		pipelineRetriesTotal,
		pipelinePanicsTotal,
		pipelineStageDurationSeconds,
		pipelineResultTruncatedTotal,
		answerUnknownTableRefsTotal,
		historyArchiveFlushesTotal,
		historyArchivedEntriesTotal,
	)
}

func ObservePipelineCall(outcome string) {
	pipelineCallsTotal.WithLabelValues(outcome).Inc()
}

func IncrementPipelineRetry() {
	pipelineRetriesTotal.Inc()
}

func IncrementPipelinePanic() {
	pipelinePanicsTotal.Inc()
}

func ObserveStage(stage string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	pipelineStageDurationSeconds.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}

func IncrementResultTruncated() {
	pipelineResultTruncatedTotal.Inc()
}

func IncrementUnknownTableRefs() {
	answerUnknownTableRefsTotal.Inc()
}

// ObserveHistoryFlush counts one flush and the entries it did write, which
// can be non-zero for a flush that partly failed.
func ObserveHistoryFlush(entries int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	historyArchiveFlushesTotal.WithLabelValues(status).Inc()
	if entries > 0 {
		historyArchivedEntriesTotal.Add(float64(entries))
	}
}
