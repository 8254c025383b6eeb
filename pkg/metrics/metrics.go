package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/utils/clock"
)

// MetricsEvent is the interface that every metric event must implement.
type MetricsEvent interface {
	SetTimestamp(time.Time)
}

// plugin stores the events of one category.
type plugin interface {
	Name() string
	Record(ev MetricsEvent)
	Events() []MetricsEvent
}

const MetricsJSONFile = "apex-test-runner-metrics.json"

// Options configure a MetricsAgent.
type Options struct {
	// RunID correlates the flushed events and pushed metrics of one run.
	RunID string
	// Dir receives the JSON file on Stop. Nothing is written when it is empty.
	Dir   string
	Fs    afero.Fs
	Clock clock.PassiveClock
}

// MetricsAgent collects the events of one run, keeps the prometheus collectors
// up to date and writes all events out when stopped. A nil agent discards events.
type MetricsAgent struct {
	events chan MetricsEvent
	wg     sync.WaitGroup
	mu     sync.Mutex

	// sendLock guards stopped against concurrent Record and Stop calls.
	sendLock sync.RWMutex
	stopped  bool

	runID   string
	dir     string
	fs      afero.Fs
	clock   clock.PassiveClock
	logger  *logrus.Entry
	plugins []plugin
	metrics *Metrics
}

// NewMetricsAgent creates and returns a new MetricsAgent. Call Start before recording.
func NewMetricsAgent(options Options) *MetricsAgent {
	if options.Fs == nil {
		options.Fs = afero.NewOsFs()
	}
	if options.Clock == nil {
		options.Clock = clock.RealClock{}
	}
	logger := logrus.WithField("run-id", options.RunID)
	return &MetricsAgent{
		events:  make(chan MetricsEvent, 100),
		runID:   options.RunID,
		dir:     options.Dir,
		fs:      options.Fs,
		clock:   options.Clock,
		logger:  logger,
		metrics: NewMetrics("apexunit"),
		plugins: []plugin{
			newEventsPlugin[*SubmissionEvent](SubmissionsPluginName, logger),
			newEventsPlugin[*ConflictEvent](ConflictsPluginName, logger),
			newEventsPlugin[*PollEvent](PollsPluginName, logger),
			newEventsPlugin[*OutcomeEvent](OutcomesPluginName, logger),
		},
	}
}

// Start listens for events in the background until Stop is called.
func (mc *MetricsAgent) Start() {
	mc.wg.Add(1)
	go mc.run()
}

// run consumes events until the events channel is closed, then flushes them.
func (mc *MetricsAgent) run() {
	defer mc.wg.Done()
	for ev := range mc.events {
		mc.mu.Lock()
		for _, p := range mc.plugins {
			p.Record(ev)
		}
		mc.metrics.observe(ev)
		mc.mu.Unlock()
	}
	mc.flush()
}

// Record records an event to the MetricsAgent. Events recorded after Stop are dropped.
func (mc *MetricsAgent) Record(ev MetricsEvent) {
	if mc == nil {
		return
	}
	mc.sendLock.RLock()
	defer mc.sendLock.RUnlock()
	if mc.stopped {
		mc.logger.WithField("event", fmt.Sprintf("%T", ev)).Debug("Dropping event recorded after the agent was stopped.")
		return
	}
	ev.SetTimestamp(mc.clock.Now())
	mc.events <- ev
}

// Stop closes the events channel and blocks until flush completes.
func (mc *MetricsAgent) Stop() {
	if mc == nil {
		return
	}
	mc.sendLock.Lock()
	if !mc.stopped {
		mc.stopped = true
		close(mc.events)
	}
	mc.sendLock.Unlock()
	mc.wg.Wait()
}

// Metrics exposes the prometheus collectors of this run.
func (mc *MetricsAgent) Metrics() *Metrics {
	return mc.metrics
}

// Push sends the collected prometheus metrics to a pushgateway, grouped by run id.
func (mc *MetricsAgent) Push(ctx context.Context, url string) error {
	if mc == nil || url == "" {
		return nil
	}
	return mc.metrics.Push(ctx, url, mc.runID)
}

// Events returns the stored events per plugin name.
func (mc *MetricsAgent) Events() map[string][]MetricsEvent {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := map[string][]MetricsEvent{}
	for _, p := range mc.plugins {
		out[p.Name()] = p.Events()
	}
	return out
}

// flush writes the accumulated events to a JSON file in the metrics directory.
func (mc *MetricsAgent) flush() {
	if mc.dir == "" {
		return
	}
	output := map[string]any{"run_id": mc.runID}
	for name, events := range mc.Events() {
		output[name] = events
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		mc.logger.WithError(err).Error("Failed to marshal metrics events")
		return
	}
	if err := mc.fs.MkdirAll(mc.dir, 0755); err != nil {
		mc.logger.WithError(err).Error("Failed to create metrics directory")
		return
	}
	path := filepath.Join(mc.dir, MetricsJSONFile)
	if err := afero.WriteFile(mc.fs, path, data, 0644); err != nil {
		mc.logger.WithError(err).Error("Failed to save metrics events")
		return
	}
	mc.logger.WithField("path", path).Debug("Flushed metrics events.")
}
