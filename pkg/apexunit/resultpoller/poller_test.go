package resultpoller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"go.uber.org/mock/gomock"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
	"github.com/openshift/apex-test-runner/pkg/metrics"
	"github.com/openshift/apex-test-runner/pkg/results"
)

const jobID apexunitapi.JobID = "7071x00000AbCdE"

func records(raw ...string) *apexunitapi.QueryResult {
	result := &apexunitapi.QueryResult{TotalSize: len(raw), Done: true}
	for _, record := range raw {
		result.Records = append(result.Records, json.RawMessage(record))
	}
	return result
}

func queue(statuses ...apexunitapi.QueueItemStatus) *apexunitapi.QueryResult {
	result := &apexunitapi.QueryResult{TotalSize: len(statuses), Done: true}
	for i, status := range statuses {
		raw, _ := json.Marshal(apexunitapi.QueueItem{ID: "709" + string(rune('A'+i)), Status: status, ApexClassID: "01p" + string(rune('A'+i)), ParentJobID: string(jobID)})
		result.Records = append(result.Records, raw)
	}
	return result
}

func transportError(err error) error {
	return results.ForReason(results.ReasonTransport).WithError(err).Errorf("GET /services/data/v44.0/query/ failed: %v", err)
}

func testConfig() Config {
	return Config{
		Interval: time.Millisecond,
		Timeout:  5 * time.Second,
		Retry:    wait.Backoff{Steps: 3, Duration: time.Millisecond, Factor: 1},
	}
}

var testResults = records(
	`{"ApexClassId":"01pB","ApexClass":{"Name":"BillingTest"},"MethodName":"testInvoice","Outcome":"CompileFail","Message":"Variable does not exist: amount","StackTrace":null,"RunTime":0}`,
	`{"ApexClassId":"01pA","ApexClass":{"Name":"AccountTest"},"MethodName":"testUpdate","Outcome":"Fail","Message":"System.AssertException: Assertion Failed","StackTrace":"Class.AccountTest.testUpdate: line 12, column 1","RunTime":48}`,
	`{"ApexClassId":"01pA","ApexClass":{"Name":"AccountTest"},"MethodName":"testCreate","Outcome":"Pass","Message":null,"StackTrace":null,"RunTime":120}`,
	`{"ApexClassId":"01pB","ApexClass":{"Name":"BillingTest"},"MethodName":"testDraft","Outcome":"Skip","RunTime":0}`,
)

var expectedEntries = []apexunitapi.ReportEntry{
	{ClassID: "01pA", ClassName: "AccountTest", MethodName: "testCreate", Outcome: apexunitapi.OutcomePass, DurationMs: 120},
	{ClassID: "01pA", ClassName: "AccountTest", MethodName: "testUpdate", Outcome: apexunitapi.OutcomeFail, Message: "System.AssertException: Assertion Failed", StackTrace: "Class.AccountTest.testUpdate: line 12, column 1", DurationMs: 48},
	{ClassID: "01pB", ClassName: "BillingTest", MethodName: "testDraft", Outcome: apexunitapi.OutcomeSkipped},
	{ClassID: "01pB", ClassName: "BillingTest", MethodName: "testInvoice", Outcome: apexunitapi.OutcomeError, Message: "Variable does not exist: amount"},
}

func TestRunCompleted(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	conn := apexunitapi.NewMockConnection(mockCtrl)
	conn.EXPECT().Query(gomock.Any(), QueueItemsQuery(jobID)).Return(queue(apexunitapi.QueueItemCompleted, apexunitapi.QueueItemProcessing), nil).Times(1)
	conn.EXPECT().Query(gomock.Any(), QueueItemsQuery(jobID)).Return(queue(apexunitapi.QueueItemCompleted, apexunitapi.QueueItemFailed), nil).Times(1)
	conn.EXPECT().Query(gomock.Any(), TestResultsQuery(jobID)).Return(testResults, nil)
	conn.EXPECT().ToolingQuery(gomock.Any(), CoverageQuery([]string{"01pS", "01pT"})).Return(records(
		`{"ApexClassOrTriggerId":"01pT","ApexClassOrTrigger":{"Name":"TaxService"},"NumLinesCovered":0,"NumLinesUncovered":0}`,
		`{"ApexClassOrTriggerId":"01pS","ApexClassOrTrigger":{"Name":"AccountService"},"NumLinesCovered":30,"NumLinesUncovered":10}`,
	), nil)

	poller := New(conn, testConfig())
	report, err := poller.Run(context.Background(), jobID, []string{"01pT", "01pS", "01pT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state := poller.State(); state != StateCompleted {
		t.Errorf("expected state %s, got %s", StateCompleted, state)
	}
	expected := &apexunitapi.Report{
		JobID:   jobID,
		Entries: expectedEntries,
		Coverage: []apexunitapi.CoverageEntry{
			{ClassID: "01pS", ClassName: "AccountService", LinesCovered: 30, LinesUncovered: 10},
			{ClassID: "01pT", ClassName: "TaxService"},
		},
	}
	if diff := cmp.Diff(expected, report); diff != "" {
		t.Errorf("unexpected report (-want +got):\n%s", diff)
	}
	if percentage, ok := report.CoveragePercentage(); !ok || percentage != 75 {
		t.Errorf("expected 75%% coverage, got %v (%v)", percentage, ok)
	}
}

func TestRunRecoversFromTransientFailures(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	conn := apexunitapi.NewMockConnection(mockCtrl)
	gomock.InOrder(
		conn.EXPECT().Query(gomock.Any(), QueueItemsQuery(jobID)).Return(nil, transportError(errors.New("connection reset by peer"))).Times(2),
		conn.EXPECT().Query(gomock.Any(), QueueItemsQuery(jobID)).Return(queue(apexunitapi.QueueItemCompleted, apexunitapi.QueueItemCompleted), nil),
		conn.EXPECT().Query(gomock.Any(), TestResultsQuery(jobID)).Return(nil, transportError(&apexunitapi.APIError{StatusCode: 503, Message: "Service Unavailable"})),
		conn.EXPECT().Query(gomock.Any(), TestResultsQuery(jobID)).Return(testResults, nil),
	)

	agent := metrics.NewMetricsAgent(metrics.Options{Fs: afero.NewMemMapFs()})
	agent.Start()
	config := testConfig()
	config.Metrics = agent
	poller := New(conn, config)
	report, err := poller.Run(context.Background(), jobID, nil)
	agent.Stop()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state := poller.State(); state != StateCompleted {
		t.Errorf("expected state %s, got %s", StateCompleted, state)
	}
	if diff := cmp.Diff(expectedEntries, report.Entries); diff != "" {
		t.Errorf("unexpected entries (-want +got):\n%s", diff)
	}

	counts := map[metrics.PollResult]int{}
	for _, ev := range agent.Events()[metrics.PollsPluginName] {
		counts[ev.(*metrics.PollEvent).Result]++
	}
	if diff := cmp.Diff(map[metrics.PollResult]int{metrics.PollResultRetried: 3, metrics.PollResultOK: 1}, counts); diff != "" {
		t.Errorf("unexpected poll events (-want +got):\n%s", diff)
	}
}

func TestRunFailures(t *testing.T) {
	testCases := []struct {
		name           string
		config         func(*Config)
		setup          func(conn *apexunitapi.MockConnectionMockRecorder)
		expectedState  State
		expectedReason results.Reason
	}{
		{
			name: "timeout with items still running",
			config: func(c *Config) {
				c.Interval = 5 * time.Millisecond
				c.Timeout = 50 * time.Millisecond
			},
			setup: func(conn *apexunitapi.MockConnectionMockRecorder) {
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(queue(apexunitapi.QueueItemCompleted, apexunitapi.QueueItemQueued, apexunitapi.QueueItemCompleted), nil).MinTimes(1)
			},
			expectedState:  StateErrored,
			expectedReason: results.ReasonPollingTimeout,
		},
		{
			name: "retries exhausted",
			setup: func(conn *apexunitapi.MockConnectionMockRecorder) {
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(nil, transportError(errors.New("no such host"))).Times(3)
			},
			expectedState:  StateErrored,
			expectedReason: results.ReasonTransport,
		},
		{
			name: "session expired is not retried",
			setup: func(conn *apexunitapi.MockConnectionMockRecorder) {
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(nil, transportError(&apexunitapi.APIError{StatusCode: 401, Code: "INVALID_SESSION_ID", Message: "Session expired or invalid"})).Times(1)
			},
			expectedState:  StateErrored,
			expectedReason: results.ReasonTransport,
		},
		{
			name: "invalid job id",
			setup: func(conn *apexunitapi.MockConnectionMockRecorder) {
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(nil, transportError(&apexunitapi.APIError{StatusCode: 400, Code: "INVALID_QUERY_FILTER_OPERATOR", Message: "invalid ID field: 7071x00000AbCdE"})).Times(1)
			},
			expectedState:  StateAborted,
			expectedReason: results.ReasonRemoteJob,
		},
		{
			name: "malformed job id",
			setup: func(conn *apexunitapi.MockConnectionMockRecorder) {
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(nil, transportError(&apexunitapi.APIError{StatusCode: 400, Code: "MALFORMED_ID", Message: "malformed id 7071x00000AbCdE"})).Times(1)
			},
			expectedState:  StateAborted,
			expectedReason: results.ReasonRemoteJob,
		},
		{
			name: "job without queue items",
			setup: func(conn *apexunitapi.MockConnectionMockRecorder) {
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(queue(), nil)
			},
			expectedState:  StateAborted,
			expectedReason: results.ReasonRemoteJob,
		},
		{
			name: "job aborted by someone else",
			setup: func(conn *apexunitapi.MockConnectionMockRecorder) {
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(queue(apexunitapi.QueueItemAborted, apexunitapi.QueueItemAborted), nil)
			},
			expectedState:  StateAborted,
			expectedReason: results.ReasonRemoteJob,
		},
		{
			name: "job partially aborted",
			setup: func(conn *apexunitapi.MockConnectionMockRecorder) {
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(queue(apexunitapi.QueueItemProcessing, apexunitapi.QueueItemAborted), nil).Times(1)
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(queue(apexunitapi.QueueItemCompleted, apexunitapi.QueueItemAborted), nil).Times(1)
			},
			expectedState:  StateAborted,
			expectedReason: results.ReasonRemoteJob,
		},
		{
			name: "results cannot be fetched",
			setup: func(conn *apexunitapi.MockConnectionMockRecorder) {
				conn.Query(gomock.Any(), QueueItemsQuery(jobID)).Return(queue(apexunitapi.QueueItemCompleted), nil)
				conn.Query(gomock.Any(), TestResultsQuery(jobID)).Return(records(`{"RunTime":"slow"}`), nil)
			},
			expectedState:  StateErrored,
			expectedReason: results.ReasonTransport,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockCtrl := gomock.NewController(t)
			defer mockCtrl.Finish()
			conn := apexunitapi.NewMockConnection(mockCtrl)
			tc.setup(conn.EXPECT())
			config := testConfig()
			if tc.config != nil {
				tc.config(&config)
			}

			poller := New(conn, config)
			report, err := poller.Run(context.Background(), jobID, nil)
			if report != nil {
				t.Errorf("expected no report, got %v", report)
			}
			if state := poller.State(); state != tc.expectedState {
				t.Errorf("expected state %s, got %s", tc.expectedState, state)
			}
			if reason := results.ReasonOf(err); reason != tc.expectedReason {
				t.Errorf("expected reason %s, got %s: %v", tc.expectedReason, reason, err)
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	conn := apexunitapi.NewMockConnection(mockCtrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.EXPECT().Query(gomock.Any(), QueueItemsQuery(jobID)).DoAndReturn(func(context.Context, string) (*apexunitapi.QueryResult, error) {
		cancel()
		return queue(apexunitapi.QueueItemProcessing), nil
	}).Times(1)

	config := testConfig()
	config.Interval = time.Second
	poller := New(conn, config)
	report, err := poller.Run(ctx, jobID, nil)
	if report != nil {
		t.Errorf("expected no report, got %v", report)
	}
	if state := poller.State(); state != StateCancelled {
		t.Errorf("expected state %s, got %s", StateCancelled, state)
	}
	if !results.HasReason(err, results.ReasonCancelled) {
		t.Errorf("expected a cancelled error, got %v", err)
	}
}

func TestRunWithoutJobID(t *testing.T) {
	poller := New(nil, testConfig())
	if _, err := poller.Run(context.Background(), "", nil); !results.HasReason(err, results.ReasonRemoteJob) {
		t.Errorf("expected a remote job error, got %v", err)
	}
	if state := poller.State(); state != StateErrored {
		t.Errorf("expected state %s, got %s", StateErrored, state)
	}
}

func TestMapOutcome(t *testing.T) {
	for raw, expected := range map[string]apexunitapi.Outcome{
		"Pass":        apexunitapi.OutcomePass,
		"Fail":        apexunitapi.OutcomeFail,
		"CompileFail": apexunitapi.OutcomeError,
		"Skip":        apexunitapi.OutcomeSkipped,
		"Flaky":       apexunitapi.OutcomeError,
		"":            apexunitapi.OutcomeError,
	} {
		if actual := MapOutcome(raw); actual != expected {
			t.Errorf("%q: expected %s, got %s", raw, expected, actual)
		}
	}
}

func TestPollUntil(t *testing.T) {
	calls := 0
	err := PollUntil(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 evaluations, got %d", calls)
	}

	err = PollUntil(context.Background(), time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	if !wait.Interrupted(err) {
		t.Errorf("expected a timeout, got %v", err)
	}
}
