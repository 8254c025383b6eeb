package resultpoller

import (
	"context"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
	"github.com/openshift/apex-test-runner/pkg/results"
)

const coverageBatchSize = 200

func QueueItemsQuery(jobID apexunitapi.JobID) string {
	return fmt.Sprintf("SELECT Id, Status, ApexClassId, ExtendedStatus, ParentJobId FROM ApexTestQueueItem WHERE ParentJobId = %s", apexunitapi.QuoteIDs([]string{jobID.String()}))
}

func TestResultsQuery(jobID apexunitapi.JobID) string {
	return fmt.Sprintf("SELECT Id, ApexClassId, ApexClass.Name, MethodName, Outcome, Message, StackTrace, RunTime FROM ApexTestResult WHERE AsyncApexJobId = %s", apexunitapi.QuoteIDs([]string{jobID.String()}))
}

func CoverageQuery(classIDs []string) string {
	return fmt.Sprintf("SELECT ApexClassOrTriggerId, ApexClassOrTrigger.Name, NumLinesCovered, NumLinesUncovered FROM ApexCodeCoverageAggregate WHERE ApexClassOrTriggerId IN (%s)", apexunitapi.QuoteIDs(classIDs))
}

// MapOutcome normalizes the outcome reported for a test method. Unknown
// outcomes count as errors so that they are never mistaken for passes.
func MapOutcome(raw string) apexunitapi.Outcome {
	switch raw {
	case "Pass":
		return apexunitapi.OutcomePass
	case "Fail":
		return apexunitapi.OutcomeFail
	case "Skip":
		return apexunitapi.OutcomeSkipped
	default:
		// CompileFail and anything newer
		return apexunitapi.OutcomeError
	}
}

type named struct {
	Name string `json:"Name"`
}

type testResultRecord struct {
	ApexClassID string  `json:"ApexClassId"`
	ApexClass   *named  `json:"ApexClass"`
	MethodName  string  `json:"MethodName"`
	Outcome     string  `json:"Outcome"`
	Message     *string `json:"Message"`
	StackTrace  *string `json:"StackTrace"`
	RunTime     *int64  `json:"RunTime"`
}

func (r testResultRecord) toEntry() apexunitapi.ReportEntry {
	entry := apexunitapi.ReportEntry{
		ClassID:    r.ApexClassID,
		MethodName: r.MethodName,
		Outcome:    MapOutcome(r.Outcome),
	}
	if r.ApexClass != nil {
		entry.ClassName = r.ApexClass.Name
	}
	if r.Message != nil {
		entry.Message = *r.Message
	}
	if r.StackTrace != nil {
		entry.StackTrace = *r.StackTrace
	}
	if r.RunTime != nil {
		entry.DurationMs = *r.RunTime
	}
	return entry
}

func (p *Poller) testResults(ctx context.Context, jobID apexunitapi.JobID) ([]apexunitapi.ReportEntry, error) {
	result, err := p.query(ctx, jobID, false, TestResultsQuery(jobID))
	if err != nil {
		return nil, err
	}
	records, err := apexunitapi.DecodeRecords[testResultRecord](result)
	if err != nil {
		return nil, results.ForReason(results.ReasonTransport).WithError(err).Errorf("could not decode test results: %v", err)
	}
	entries := make([]apexunitapi.ReportEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, record.toEntry())
	}
	apexunitapi.SortEntries(entries)
	return entries, nil
}

type coverageRecord struct {
	ApexClassOrTriggerID string `json:"ApexClassOrTriggerId"`
	ApexClassOrTrigger   *named `json:"ApexClassOrTrigger"`
	NumLinesCovered      int    `json:"NumLinesCovered"`
	NumLinesUncovered    int    `json:"NumLinesUncovered"`
}

func (p *Poller) coverage(ctx context.Context, jobID apexunitapi.JobID, classIDs []string) ([]apexunitapi.CoverageEntry, error) {
	ids := sets.List(sets.New(classIDs...))
	var coverage []apexunitapi.CoverageEntry
	for start := 0; start < len(ids); start += coverageBatchSize {
		end := start + coverageBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		result, err := p.query(ctx, jobID, true, CoverageQuery(ids[start:end]))
		if err != nil {
			return nil, err
		}
		records, err := apexunitapi.DecodeRecords[coverageRecord](result)
		if err != nil {
			return nil, results.ForReason(results.ReasonTransport).WithError(err).Errorf("could not decode code coverage: %v", err)
		}
		for _, record := range records {
			entry := apexunitapi.CoverageEntry{
				ClassID:        record.ApexClassOrTriggerID,
				LinesCovered:   record.NumLinesCovered,
				LinesUncovered: record.NumLinesUncovered,
			}
			if record.ApexClassOrTrigger != nil {
				entry.ClassName = record.ApexClassOrTrigger.Name
			}
			coverage = append(coverage, entry)
		}
	}
	sort.SliceStable(coverage, func(i, j int) bool {
		return coverage[i].ClassName < coverage[j].ClassName
	})
	return coverage, nil
}
