package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const pushJobName = "apex-test-runner"

// Metrics is responsible for holding the metrics for Prometheus. Every run
// gets its own registry so that pushes only carry the metrics of that run.
type Metrics struct {
	registry *prometheus.Registry

	Submissions  prometheus.Counter
	Polls        *prometheus.CounterVec
	TestOutcomes *prometheus.CounterVec
	JobDuration  prometheus.Histogram
}

// NewMetrics is a constructor for Metrics
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "number of asynchronous test runs submitted",
		}),
		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "number of job status polls, sorted by result",
			},
			[]string{"result"},
		),
		TestOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "test_outcomes_total",
				Help:      "number of test methods, sorted by outcome",
			},
			[]string{"outcome"},
		),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "duration of test runs from class discovery to the final state in seconds",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1800, 3600, 7200},
		}),
	}
	m.registry.MustRegister(m.Submissions, m.Polls, m.TestOutcomes, m.JobDuration)
	return m
}

func (m *Metrics) observe(ev MetricsEvent) {
	switch e := ev.(type) {
	case *SubmissionEvent:
		if e.Error == "" {
			m.Submissions.Inc()
		}
	case *PollEvent:
		m.Polls.With(prometheus.Labels{"result": string(e.Result)}).Inc()
	case *OutcomeEvent:
		for outcome, count := range e.Outcomes {
			m.TestOutcomes.With(prometheus.Labels{"outcome": outcome}).Add(float64(count))
		}
		if e.JobID != "" {
			m.JobDuration.Observe(e.Duration.Seconds())
		}
	}
}

// Push sends all metrics of the registry to the pushgateway at url.
func (m *Metrics) Push(ctx context.Context, url, runID string) error {
	pusher := push.New(url, pushJobName).Gatherer(m.registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("could not push metrics to %s: %w", url, err)
	}
	return nil
}
