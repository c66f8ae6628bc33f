package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesql_chat_runs_total",
			Help: "Total number of chat runs by finish reason.",
		},
		[]string{"finish_reason"},
	)
	chatStepsPerRun = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salesql_chat_steps_per_run",
			Help:    "Number of model turns taken per chat run.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
	chatRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salesql_chat_run_duration_seconds",
			Help:    "Wall-clock duration of chat runs.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesql_tool_calls_total",
			Help: "Total number of tool calls dispatched for the model.",
		},
		[]string{"tool_name", "status"},
	)
	toolCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesql_tool_call_duration_seconds",
			Help:    "Duration of tool calls.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"tool_name"},
	)
	queryRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesql_query_rejections_total",
			Help: "Total number of queries rejected by the validator.",
		},
		[]string{"reason"},
	)
	queryDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salesql_query_duration_ms",
			Help:    "Query execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salesql_query_rows_returned",
			Help:    "Rows returned per executed query.",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		},
	)
	queryErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "salesql_query_errors_total",
			Help: "Total number of store-level query execution failures.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		chatRunsTotal,
		chatStepsPerRun,
		chatRunDurationSeconds,
		toolCallsTotal,
		toolCallDurationSeconds,
		queryRejectionsTotal,
		queryDurationMs,
		queryRowsReturned,
		queryErrorsTotal,
	)
}

func ObserveChatRun(finishReason string, steps int, elapsed time.Duration) {
	chatRunsTotal.WithLabelValues(finishReason).Inc()
	chatStepsPerRun.Observe(float64(steps))
	chatRunDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveToolCall(toolName string, failed bool, elapsed time.Duration) {
	status := "success"
	if failed {
		status = "error"
	}
	toolCallsTotal.WithLabelValues(toolName, status).Inc()
	toolCallDurationSeconds.WithLabelValues(toolName).Observe(elapsed.Seconds())
}

func IncrementQueryRejection(reason string) {
	queryRejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveQuery(rows int, elapsed time.Duration, err error) {
	if err != nil {
		queryErrorsTotal.Inc()
		return
	}
	queryDurationMs.Observe(float64(elapsed.Milliseconds()))
	queryRowsReturned.Observe(float64(rows))
}
