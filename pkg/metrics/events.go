package metrics

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	SubmissionsPluginName = "submissions"
	ConflictsPluginName   = "conflicts"
	PollsPluginName       = "polls"
	OutcomesPluginName    = "outcomes"
)

// PollResult labels a single status poll.
type PollResult string

const (
	PollResultOK      PollResult = "ok"
	PollResultRetried PollResult = "retried"
	PollResultFailed  PollResult = "failed"
)

// SubmissionEvent is recorded for every submission attempt.
type SubmissionEvent struct {
	JobID     string    `json:"job_id,omitempty"`
	Selector  string    `json:"selector"`
	TestCount int       `json:"test_count"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *SubmissionEvent) SetTimestamp(t time.Time) {
	e.Timestamp = t
}

// ConflictEvent is recorded once the conflict check resolved.
type ConflictEvent struct {
	State      string    `json:"state"`
	ClassCount int       `json:"class_count"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *ConflictEvent) SetTimestamp(t time.Time) {
	e.Timestamp = t
}

// PollEvent is recorded for every status query of a running job.
type PollEvent struct {
	JobID     string     `json:"job_id"`
	Result    PollResult `json:"result"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Timestamp time.Time  `json:"timestamp"`
}

func (e *PollEvent) SetTimestamp(t time.Time) {
	e.Timestamp = t
}

// OutcomeEvent is recorded once a run ended, successfully or not.
type OutcomeEvent struct {
	JobID    string         `json:"job_id,omitempty"`
	State    string         `json:"state"`
	Reason   string         `json:"reason,omitempty"`
	Duration time.Duration  `json:"duration"`
	Outcomes map[string]int `json:"outcomes,omitempty"`
	// CoveragePercentage is unset when no coverage was collected.
	CoveragePercentage *float64  `json:"coverage_percentage,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

func (e *OutcomeEvent) SetTimestamp(t time.Time) {
	e.Timestamp = t
}

// eventsPlugin keeps the events of type T.
type eventsPlugin[T MetricsEvent] struct {
	name   string
	mu     sync.Mutex
	logger *logrus.Entry
	events []MetricsEvent
}

func newEventsPlugin[T MetricsEvent](name string, logger *logrus.Entry) *eventsPlugin[T] {
	return &eventsPlugin[T]{name: name, logger: logger.WithField("plugin", name)}
}

func (p *eventsPlugin[T]) Name() string { return p.name }

func (p *eventsPlugin[T]) Record(ev MetricsEvent) {
	typed, ok := ev.(T)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.WithField("event", typed).Debug("Recording event")
	p.events = append(p.events, typed)
}

func (p *eventsPlugin[T]) Events() []MetricsEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MetricsEvent(nil), p.events...)
}
