package results

import "strings"

type Reason string

const (
	// ReasonUnknown is default reason. Occurrences of this reason in metrics
	// indicate a bug, a failure to identify the reason for an error somewhere.
	ReasonUnknown Reason = "unknown"

	// ReasonConfiguration covers missing or malformed credentials, org URLs and flags.
	ReasonConfiguration Reason = "configuration"
	// ReasonConflict is used when test-queue items for the target classes are
	// already in flight and reload mode is disabled.
	ReasonConflict Reason = "conflict"
	// ReasonTransport covers connection failures, timeouts and unexpected HTTP statuses.
	ReasonTransport Reason = "transport"
	// ReasonRemoteJob is used when the remote service rejects the job, the job id
	// or an abort update.
	ReasonRemoteJob Reason = "remote_job"
	// ReasonInvalidRequest is used when a test execution request is assembled inconsistently.
	ReasonInvalidRequest Reason = "invalid_request"
	// ReasonCancelled is used when the caller cancelled the run.
	ReasonCancelled Reason = "cancelled"
	// ReasonPollingTimeout is used when the job did not finish within the polling budget.
	ReasonPollingTimeout Reason = "polling_timeout"
	// ReasonCoverageThreshold is used when the collected code coverage is below the requested threshold.
	ReasonCoverageThreshold Reason = "coverage_threshold"
)

// FullReason joins all reason chains of the error, one chain per aggregated child.
func FullReason(err error) string {
	reasons := Reasons(err)
	if len(reasons) == 0 {
		return string(ReasonUnknown)
	}
	return strings.Join(reasons, ",")
}
