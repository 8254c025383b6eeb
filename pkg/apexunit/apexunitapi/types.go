package apexunitapi

import (
	"sort"
	"strings"
)

const (
	// TestClassModifier is the symbol table modifier marking a class annotated with @IsTest.
	TestClassModifier = "testMethod"
	// isTestModifier is what newer API versions emit for the same annotation.
	isTestModifier = "isTest"
)

// ApexClass is a compilation unit discovered in the org.
type ApexClass struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// IsTestClass is true when the class carries the test marker modifier.
func (c ApexClass) IsTestClass() bool {
	for _, modifier := range c.Modifiers {
		if strings.EqualFold(modifier, TestClassModifier) || strings.EqualFold(modifier, isTestModifier) {
			return true
		}
	}
	return false
}

// PartitionClasses splits discovered classes into test classes and the
// remaining (source) classes, keeping discovery order.
func PartitionClasses(classes []ApexClass) (tests, sources []ApexClass) {
	for _, class := range classes {
		if class.IsTestClass() {
			tests = append(tests, class)
		} else {
			sources = append(sources, class)
		}
	}
	return tests, sources
}

// ClassIDs returns the ids of the given classes in order.
func ClassIDs(classes []ApexClass) []string {
	ids := make([]string, 0, len(classes))
	for _, class := range classes {
		ids = append(ids, class.ID)
	}
	return ids
}

// JobID is the parent job id returned by the asynchronous submission endpoint.
type JobID string

func (id JobID) IsZero() bool {
	return id == ""
}

func (id JobID) String() string {
	return string(id)
}

// QueueItemStatus is the status of an ApexTestQueueItem.
type QueueItemStatus string

const (
	QueueItemHolding    QueueItemStatus = "Holding"
	QueueItemQueued     QueueItemStatus = "Queued"
	QueueItemPreparing  QueueItemStatus = "Preparing"
	QueueItemProcessing QueueItemStatus = "Processing"
	QueueItemAborted    QueueItemStatus = "Aborted"
	QueueItemCompleted  QueueItemStatus = "Completed"
	QueueItemFailed     QueueItemStatus = "Failed"
)

// InFlightStatuses are the statuses of queue items that may still run.
var InFlightStatuses = []QueueItemStatus{QueueItemHolding, QueueItemQueued, QueueItemPreparing, QueueItemProcessing}

// IsTerminal is true for statuses from which no further transition occurs.
func (s QueueItemStatus) IsTerminal() bool {
	switch s {
	case QueueItemAborted, QueueItemCompleted, QueueItemFailed:
		return true
	}
	return false
}

// QueueItem is one class's pending, running or finished test execution.
type QueueItem struct {
	ID             string          `json:"Id"`
	Status         QueueItemStatus `json:"Status"`
	ApexClassID    string          `json:"ApexClassId"`
	ExtendedStatus string          `json:"ExtendedStatus,omitempty"`
	ParentJobID    string          `json:"ParentJobId,omitempty"`
}

// Outcome is the normalized result of a single test method.
type Outcome string

const (
	OutcomePass    Outcome = "Pass"
	OutcomeFail    Outcome = "Fail"
	OutcomeError   Outcome = "Error"
	OutcomeSkipped Outcome = "Skipped"
)

// ReportEntry is the aggregated outcome of one test method.
type ReportEntry struct {
	ClassID    string  `json:"classId"`
	ClassName  string  `json:"className"`
	MethodName string  `json:"methodName"`
	Outcome    Outcome `json:"outcome"`
	Message    string  `json:"message,omitempty"`
	StackTrace string  `json:"stackTrace,omitempty"`
	DurationMs int64   `json:"durationMs"`
}

// CoverageEntry holds the aggregated line coverage of one source class.
type CoverageEntry struct {
	ClassID        string `json:"classId"`
	ClassName      string `json:"className"`
	LinesCovered   int    `json:"linesCovered"`
	LinesUncovered int    `json:"linesUncovered"`
}

// Percentage is the share of covered lines; classes without lines count as fully covered.
func (c CoverageEntry) Percentage() float64 {
	total := c.LinesCovered + c.LinesUncovered
	if total == 0 {
		return 100
	}
	return float64(c.LinesCovered) * 100 / float64(total)
}

// Report is the finished result of a test job.
type Report struct {
	JobID    JobID           `json:"jobId"`
	Entries  []ReportEntry   `json:"entries"`
	Coverage []CoverageEntry `json:"coverage,omitempty"`
}

// SortEntries orders entries by class name, then method name.
func SortEntries(entries []ReportEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ClassName != entries[j].ClassName {
			return entries[i].ClassName < entries[j].ClassName
		}
		return entries[i].MethodName < entries[j].MethodName
	})
}

// Counts tallies the entries per outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := map[Outcome]int{}
	for _, entry := range r.Entries {
		counts[entry.Outcome]++
	}
	return counts
}

// HasFailures is true when any test method failed or errored.
func (r *Report) HasFailures() bool {
	for _, entry := range r.Entries {
		if entry.Outcome == OutcomeFail || entry.Outcome == OutcomeError {
			return true
		}
	}
	return false
}

// CoveragePercentage is the line coverage across all collected classes.
// The second return value is false when no coverage was collected.
func (r *Report) CoveragePercentage() (float64, bool) {
	if len(r.Coverage) == 0 {
		return 0, false
	}
	var covered, total int
	for _, entry := range r.Coverage {
		covered += entry.LinesCovered
		total += entry.LinesCovered + entry.LinesUncovered
	}
	if total == 0 {
		return 100, true
	}
	return float64(covered) * 100 / float64(total), true
}
