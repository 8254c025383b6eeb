package jobsubmitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitlib"
	"github.com/openshift/apex-test-runner/pkg/results"
)

// Submitter enqueues test execution requests. Every call to Submit creates a new
// remote job: submissions are not deduplicated and never retried.
type Submitter struct {
	conn apexunitapi.Connection
	path string
}

func New(conn apexunitapi.Connection, apiVersion string) *Submitter {
	if apiVersion == "" {
		apiVersion = apexunitlib.DefaultAPIVersion
	}
	return &Submitter{
		conn: conn,
		path: apexunitlib.DataPath(apiVersion, "/tooling/runTestsAsynchronous/"),
	}
}

// Submit posts the request and returns the parent job id. A response without an
// id yields a zero JobID and no error.
func (s *Submitter) Submit(ctx context.Context, request apexunitapi.TestExecutionRequest) (apexunitapi.JobID, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", results.ForReason(results.ReasonInvalidRequest).WithError(err).Errorf("could not serialize test execution request: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"selector":   request.Selector().Kind(),
		"test-count": request.Selector().Len(),
	}).Info("Submitting asynchronous test run.")
	raw, err := s.conn.Post(ctx, s.path, body, "application/json", http.Header{"Accept": []string{"application/json"}})
	if err != nil {
		return "", fmt.Errorf("could not submit tests to %s: %w", s.path, err)
	}
	return ParseJobID(raw), nil
}

// ParseJobID unwraps the bare, possibly quoted, id returned by the endpoint.
func ParseJobID(raw []byte) apexunitapi.JobID {
	id := strings.TrimSpace(string(raw))
	id = strings.Trim(id, `"'`)
	return apexunitapi.JobID(strings.TrimSpace(id))
}
