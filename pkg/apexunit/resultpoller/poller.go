package resultpoller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
	"github.com/openshift/apex-test-runner/pkg/metrics"
	"github.com/openshift/apex-test-runner/pkg/results"
)

// State is the lifecycle of a polled job.
type State string

const (
	StateSubmitted State = "Submitted"
	StatePolling   State = "Polling"
	StateCompleted State = "Completed"
	StateAborted   State = "Aborted"
	StateErrored   State = "Errored"
	StateCancelled State = "Cancelled"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 30 * time.Minute
	DefaultRetries  = 3
)

// DefaultRetry returns the backoff used between failed status queries: retries
// attempts after the first one, starting at two seconds.
func DefaultRetry(retries int) wait.Backoff {
	return wait.Backoff{
		Steps:    retries + 1,
		Duration: 2 * time.Second,
		Factor:   2,
		Jitter:   0.1,
		Cap:      30 * time.Second,
	}
}

// Config tunes the polling of one job.
type Config struct {
	// Interval is the pause between two status polls.
	Interval time.Duration
	// Timeout bounds the whole polling phase.
	Timeout time.Duration
	// Retry bounds the attempts of every single remote query.
	Retry wait.Backoff
	// Metrics receives one event per poll. It may be nil.
	Metrics *metrics.MetricsAgent
}

func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, Timeout: DefaultTimeout, Retry: DefaultRetry(DefaultRetries)}
}

// errJobAborted is returned by the poll condition when the job was cancelled remotely.
var errJobAborted = errors.New("job was aborted")

// Poller follows one submitted job until it reaches a final state.
type Poller struct {
	conn   apexunitapi.Connection
	config Config

	lock  sync.RWMutex
	state State
}

func New(conn apexunitapi.Connection, config Config) *Poller {
	if config.Retry.Steps < 1 {
		config.Retry.Steps = 1
	}
	return &Poller{conn: conn, config: config, state: StateSubmitted}
}

// State returns the current state of the poller.
func (p *Poller) State() State {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.state
}

func (p *Poller) transition(logger *logrus.Entry, to State) {
	p.lock.Lock()
	from := p.state
	p.state = to
	p.lock.Unlock()
	logger.WithFields(logrus.Fields{"from": from, "to": to}).Info("Job state changed.")
}

// PollUntil evaluates condition immediately and then every interval until it is
// done, fails, or timeout elapses. It knows nothing about the polled resource.
func PollUntil(ctx context.Context, interval, timeout time.Duration, condition func(context.Context) (bool, error)) error {
	return wait.PollUntilContextTimeout(ctx, interval, timeout, true, condition)
}

// Run polls jobID until every queue item is final and collects the report.
// Coverage is collected for coverageClassIDs, if any. A report is only returned
// together with StateCompleted.
func (p *Poller) Run(ctx context.Context, jobID apexunitapi.JobID, coverageClassIDs []string) (*apexunitapi.Report, error) {
	logger := logrus.WithField("job-id", jobID)
	if jobID.IsZero() {
		p.transition(logger, StateErrored)
		return nil, results.ForReason(results.ReasonRemoteJob).ForError(errors.New("cannot poll a job without an id"))
	}
	p.transition(logger, StatePolling)

	lastCompleted := -1
	err := PollUntil(ctx, p.config.Interval, p.config.Timeout, func(ctx context.Context) (bool, error) {
		items, err := p.queueItems(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				// the poll loop reports the timeout or cancellation
				return false, nil
			}
			p.config.Metrics.Record(&metrics.PollEvent{JobID: jobID.String(), Result: metrics.PollResultFailed})
			return false, err
		}
		if len(items) == 0 {
			return false, fmt.Errorf("%w: it has no test queue items", errJobAborted)
		}

		completed, aborted := 0, 0
		for _, item := range items {
			if item.Status.IsTerminal() {
				completed++
			}
			if item.Status == apexunitapi.QueueItemAborted {
				aborted++
			}
		}
		p.config.Metrics.Record(&metrics.PollEvent{JobID: jobID.String(), Result: metrics.PollResultOK, Completed: completed, Total: len(items)})
		if completed != lastCompleted {
			logger.Infof("Completed %d of %d test classes.", completed, len(items))
			lastCompleted = completed
		}
		if completed < len(items) {
			return false, nil
		}
		for _, item := range items {
			switch item.Status {
			case apexunitapi.QueueItemFailed:
				logger.WithFields(logrus.Fields{"class-id": item.ApexClassID, "status": item.ExtendedStatus}).Warn("Test class failed to run.")
			case apexunitapi.QueueItemAborted:
				logger.WithFields(logrus.Fields{"class-id": item.ApexClassID, "status": item.ExtendedStatus}).Warn("Test class was aborted.")
			}
		}
		switch {
		case aborted == len(items):
			return false, fmt.Errorf("%w: all %d test queue items were aborted", errJobAborted, aborted)
		case aborted > 0:
			// the results of aborted classes are missing, the report would be incomplete
			return false, fmt.Errorf("%w: %d of %d test queue items were aborted", errJobAborted, aborted, len(items))
		}
		return true, nil
	})
	if err != nil {
		return nil, p.fail(ctx, logger, jobID, err)
	}

	report, err := p.collect(ctx, jobID, coverageClassIDs)
	if err != nil {
		return nil, p.fail(ctx, logger, jobID, err)
	}
	p.transition(logger, StateCompleted)
	return report, nil
}

// fail maps a polling error onto the final state and the reason of the returned error.
func (p *Poller) fail(ctx context.Context, logger *logrus.Entry, jobID apexunitapi.JobID, err error) error {
	var apiErr *apexunitapi.APIError
	switch {
	case ctx.Err() != nil:
		p.transition(logger, StateCancelled)
		return results.ForReason(results.ReasonCancelled).WithError(ctx.Err()).Errorf("polling of job %s was cancelled", jobID)
	case errors.Is(err, errJobAborted):
		p.transition(logger, StateAborted)
		return results.ForReason(results.ReasonRemoteJob).WithError(err).Errorf("job %s was aborted: %v", jobID, err)
	case errors.As(err, &apiErr) && apiErr.InvalidID():
		p.transition(logger, StateAborted)
		return results.ForReason(results.ReasonRemoteJob).WithError(err).Errorf("job %s is not known to the org: %v", jobID, apiErr)
	case wait.Interrupted(err) && !results.HasReason(err, results.ReasonTransport):
		p.transition(logger, StateErrored)
		return results.ForReason(results.ReasonPollingTimeout).WithError(err).Errorf("job %s did not finish within %s", jobID, p.config.Timeout)
	default:
		p.transition(logger, StateErrored)
		return fmt.Errorf("polling of job %s failed: %w", jobID, err)
	}
}

// retriable is true for connection failures and for server side API errors.
func retriable(ctx context.Context) func(error) bool {
	return func(err error) bool {
		if ctx.Err() != nil || !results.HasReason(err, results.ReasonTransport) {
			return false
		}
		var apiErr *apexunitapi.APIError
		if errors.As(err, &apiErr) {
			return apiErr.Retriable()
		}
		return true
	}
}

// query runs one SOQL query with the configured retries.
func (p *Poller) query(ctx context.Context, jobID apexunitapi.JobID, tooling bool, soql string) (*apexunitapi.QueryResult, error) {
	var result *apexunitapi.QueryResult
	attempt := 0
	err := retry.OnError(p.config.Retry, retriable(ctx), func() error {
		attempt++
		var err error
		if tooling {
			result, err = p.conn.ToolingQuery(ctx, soql)
		} else {
			result, err = p.conn.Query(ctx, soql)
		}
		if err != nil && retriable(ctx)(err) {
			logrus.WithField("job-id", jobID).WithError(err).Debugf("Query attempt %d failed.", attempt)
			p.config.Metrics.Record(&metrics.PollEvent{JobID: jobID.String(), Result: metrics.PollResultRetried})
		}
		return err
	})
	return result, err
}

func (p *Poller) queueItems(ctx context.Context, jobID apexunitapi.JobID) ([]apexunitapi.QueueItem, error) {
	result, err := p.query(ctx, jobID, false, QueueItemsQuery(jobID))
	if err != nil {
		return nil, err
	}
	items, err := apexunitapi.DecodeRecords[apexunitapi.QueueItem](result)
	if err != nil {
		return nil, results.ForReason(results.ReasonTransport).WithError(err).Errorf("could not decode test queue items: %v", err)
	}
	return items, nil
}

// collect fetches test results and coverage of a finished job concurrently.
func (p *Poller) collect(ctx context.Context, jobID apexunitapi.JobID, coverageClassIDs []string) (*apexunitapi.Report, error) {
	report := &apexunitapi.Report{JobID: jobID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := p.testResults(gctx, jobID)
		if err != nil {
			return fmt.Errorf("could not fetch test results: %w", err)
		}
		report.Entries = entries
		return nil
	})
	if len(coverageClassIDs) > 0 {
		g.Go(func() error {
			coverage, err := p.coverage(gctx, jobID, coverageClassIDs)
			if err != nil {
				return fmt.Errorf("could not fetch code coverage: %w", err)
			}
			report.Coverage = coverage
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}
