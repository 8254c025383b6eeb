package testexecutor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/utils/clock"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
	"github.com/openshift/apex-test-runner/pkg/apexunit/conflictresolver"
	"github.com/openshift/apex-test-runner/pkg/apexunit/jobsubmitter"
	"github.com/openshift/apex-test-runner/pkg/apexunit/resultpoller"
	"github.com/openshift/apex-test-runner/pkg/junit"
	"github.com/openshift/apex-test-runner/pkg/metrics"
	"github.com/openshift/apex-test-runner/pkg/results"
)

// TestExecutorOptions is everything needed to run the tests of one org once.
type TestExecutorOptions struct {
	runID string

	classLister apexunitapi.ClassLister
	conn        apexunitapi.Connection
	resolver    *conflictresolver.Resolver
	submitter   *jobsubmitter.Submitter
	pollConfig  resultpoller.Config

	// maxFailedTests is only sent when non-negative.
	maxFailedTests   int
	testLevel        apexunitapi.TestLevel
	skipCodeCoverage bool

	fs         afero.Fs
	reportFile string
	censor     junit.Censorer

	metrics           *metrics.MetricsAgent
	pushgatewayURL    string
	coverageThreshold float64

	clock clock.PassiveClock
	// closeConnection releases the connection and is called once Run returns.
	closeConnection func()
}

// Run discovers the test classes, makes sure none of them is already queued,
// submits them as one job and waits for its report. Failing tests are part of the
// report; only a run that could not produce a report is an error.
func (o *TestExecutorOptions) Run(ctx context.Context) error {
	if o.closeConnection != nil {
		defer o.closeConnection()
	}
	logger := logrus.WithField("run-id", o.runID)
	if o.metrics != nil {
		o.metrics.Start()
	}
	o.pollConfig.Metrics = o.metrics

	start := o.clock.Now()
	run := &execution{}
	err := results.DefaultReason(o.execute(ctx, logger, run))
	o.recordOutcome(run, o.clock.Since(start), err)
	o.metrics.Stop()
	if pushErr := o.metrics.Push(ctx, o.pushgatewayURL); pushErr != nil {
		logger.WithError(pushErr).Warn("Could not push metrics.")
	}
	if err != nil {
		return err
	}
	return o.checkCoverage(logger, run.report)
}

// execution holds what a run got to before it finished or failed.
type execution struct {
	jobID  apexunitapi.JobID
	state  resultpoller.State
	report *apexunitapi.Report
}

func (o *TestExecutorOptions) execute(ctx context.Context, logger *logrus.Entry, run *execution) error {
	classes, err := o.classLister.ListClasses(ctx)
	if err != nil {
		return fmt.Errorf("could not discover classes: %w", err)
	}
	tests, sources := apexunitapi.PartitionClasses(classes)
	logger.WithFields(logrus.Fields{"class-count": len(classes), "test-class-count": len(tests)}).Info("Discovered classes.")
	if len(tests) == 0 {
		return results.ForReason(results.ReasonConfiguration).ForError(errors.New("no test classes were discovered, nothing to run"))
	}
	testIDs := apexunitapi.ClassIDs(tests)

	state, err := o.resolver.Resolve(ctx, testIDs)
	o.metrics.Record(&metrics.ConflictEvent{State: string(state), ClassCount: len(testIDs)})
	if err != nil {
		return err
	}

	request, err := o.request(testIDs)
	if err != nil {
		return err
	}

	jobID, err := o.submitter.Submit(ctx, request)
	run.jobID = jobID
	submission := &metrics.SubmissionEvent{JobID: jobID.String(), Selector: string(request.Selector().Kind()), TestCount: request.Selector().Len()}
	if err != nil {
		submission.Error = err.Error()
	}
	o.metrics.Record(submission)
	if err != nil {
		return err
	}
	if jobID.IsZero() {
		return results.ForReason(results.ReasonRemoteJob).ForError(errors.New("submission did not yield a job id"))
	}
	logger = logger.WithField("job-id", jobID)
	logger.Info("Submitted tests.")

	var coverageIDs []string
	if !o.skipCodeCoverage {
		coverageIDs = apexunitapi.ClassIDs(sources)
	}
	poller := resultpoller.New(o.conn, o.pollConfig)
	report, err := poller.Run(ctx, jobID, coverageIDs)
	run.state = poller.State()
	if err != nil {
		return err
	}
	run.report = report
	if err := o.writeReport(logger, report); err != nil {
		return err
	}
	summarize(logger, report)
	return nil
}

// request selects the test classes by id, together with the requested scalars.
func (o *TestExecutorOptions) request(testIDs []string) (apexunitapi.TestExecutionRequest, error) {
	builder := apexunitapi.NewRequestBuilder()
	tests := make([]apexunitapi.TestClass, 0, len(testIDs))
	for _, id := range testIDs {
		tests = append(tests, apexunitapi.TestClass{ClassID: id})
	}
	if err := builder.TestClass(tests...); err != nil {
		return apexunitapi.TestExecutionRequest{}, results.ForReason(results.ReasonInvalidRequest).WithError(err).Errorf("could not build test request: %v", err)
	}
	if o.maxFailedTests >= 0 {
		builder.MaxFailedTests(o.maxFailedTests)
	}
	if o.skipCodeCoverage {
		builder.SkipCodeCoverage(true)
	}
	return builder.TestLevel(o.testLevel).Build(), nil
}

func (o *TestExecutorOptions) writeReport(logger *logrus.Entry, report *apexunitapi.Report) error {
	if o.reportFile == "" {
		return nil
	}
	suites := junit.FromReport(report)
	if o.censor != nil {
		junit.CensorTestSuites(o.censor, suites)
	}
	if err := junit.Write(o.fs, o.reportFile, suites); err != nil {
		return results.ForReason(results.ReasonConfiguration).ForError(err)
	}
	logger.WithField("path", o.reportFile).Info("Wrote jUnit report.")
	return nil
}

func summarize(logger *logrus.Entry, report *apexunitapi.Report) {
	counts := report.Counts()
	fields := logrus.Fields{"tests": len(report.Entries)}
	for _, outcome := range []apexunitapi.Outcome{apexunitapi.OutcomePass, apexunitapi.OutcomeFail, apexunitapi.OutcomeError, apexunitapi.OutcomeSkipped} {
		fields[string(outcome)] = counts[outcome]
	}
	if coverage, ok := report.CoveragePercentage(); ok {
		fields["coverage"] = fmt.Sprintf("%.2f%%", coverage)
	}
	entry := logger.WithFields(fields)
	if report.HasFailures() {
		entry.Warn("Tests finished with failures.")
		for _, e := range report.Entries {
			if e.Outcome == apexunitapi.OutcomeFail || e.Outcome == apexunitapi.OutcomeError {
				logger.WithFields(logrus.Fields{"class": e.ClassName, "method": e.MethodName, "outcome": e.Outcome}).Warn(e.Message)
			}
		}
		return
	}
	entry.Info("Tests finished.")
}

func (o *TestExecutorOptions) recordOutcome(run *execution, duration time.Duration, err error) {
	if o.metrics == nil {
		return
	}
	event := &metrics.OutcomeEvent{JobID: run.jobID.String(), State: string(run.state), Duration: duration}
	if err != nil {
		event.Reason = results.FullReason(err)
	}
	if report := run.report; report != nil {
		event.Outcomes = map[string]int{}
		for outcome, count := range report.Counts() {
			event.Outcomes[string(outcome)] = count
		}
		if coverage, ok := report.CoveragePercentage(); ok {
			event.CoveragePercentage = &coverage
		}
	}
	o.metrics.Record(event)
}

// checkCoverage fails the run when the overall coverage is below the threshold.
func (o *TestExecutorOptions) checkCoverage(logger *logrus.Entry, report *apexunitapi.Report) error {
	if o.coverageThreshold <= 0 || report == nil {
		return nil
	}
	coverage, ok := report.CoveragePercentage()
	if !ok {
		logger.Warn("No code coverage was collected, skipping the coverage threshold check.")
		return nil
	}
	if coverage < o.coverageThreshold {
		return results.ForReason(results.ReasonCoverageThreshold).ForError(fmt.Errorf("code coverage of %.2f%% is below the threshold of %.2f%%", coverage, o.coverageThreshold))
	}
	return nil
}
