package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/ut-runner/types"
)

const (
	MetricsNamespace = "ut_runner"
)

var (
	Debug                bool = true
	validEventTypes           = []types.EventType{types.EventPreRun, types.EventPostTest, types.EventPostRun}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "events_total",
		Help:      "Count of engine events processed",
	}, []string{
		"type",
	})

	decodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "event_decode_errors_total",
		Help:      "Count of engine events that could not be decoded",
	})

	missingRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "missing_records_total",
		Help:      "Count of post-test events referencing a test that was not announced in pre-run",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of completed tests by status",
	}, []string{
		"status",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of runs by terminal state",
	}, []string{
		"state",
	})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "active_runs",
		Help:      "Number of runs currently in progress",
	})

	runProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_progress_ratio",
		Help:      "Fraction of announced tests completed",
	}, []string{
		"run_id",
	})

	runSummary = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_summary",
		Help:      "Counter totals reported at the end of a run",
	}, []string{
		"scope",
		"outcome",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Execution time reported at the end of a run",
	}, []string{
		"scope",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordEvent(eventType types.EventType) {
	if !slices.Contains(validEventTypes, eventType) {
		log.Error("RecordEvent - invalid event type", "type", eventType)
		return
	}
	eventsTotal.WithLabelValues(string(eventType)).Inc()
}

func RecordDecodeError() {
	decodeErrorsTotal.Inc()
}

func RecordMissingRecord() {
	missingRecordsTotal.Inc()
}

func RecordTest(status types.TestStatus) {
	testsTotal.WithLabelValues(string(status)).Inc()
}

func RecordRunStarted() {
	activeRuns.Inc()
}

// RecordRunFinished records the terminal state of a run and drops its progress series
func RecordRunFinished(runID string, state string) {
	activeRuns.Dec()
	runsTotal.WithLabelValues(state).Inc()
	runProgress.DeleteLabelValues(runID)
}

func RecordProgress(runID string, ratio float64) {
	runProgress.WithLabelValues(runID).Set(ratio)
}

func RecordRunSummary(scope string, summary types.RunSummary) {
	runSummary.WithLabelValues(scope, string(types.TestStatusSuccess)).Set(float64(summary.Counter.Success))
	runSummary.WithLabelValues(scope, string(types.TestStatusFailure)).Set(float64(summary.Counter.Failure))
	runSummary.WithLabelValues(scope, string(types.TestStatusError)).Set(float64(summary.Counter.Error))
	runSummary.WithLabelValues(scope, string(types.TestStatusWarning)).Set(float64(summary.Counter.Warning))
	runSummary.WithLabelValues(scope, string(types.TestStatusDisabled)).Set(float64(summary.Counter.Disabled))
	runDuration.WithLabelValues(scope).Set(summary.ExecutionTime.Seconds())
}
