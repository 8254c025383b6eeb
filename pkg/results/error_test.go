package results

import (
	"errors"
	"fmt"
	"testing"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

func TestError(t *testing.T) {
	base := errors.New("failure")
	if actual, expected := FullReason(base), "unknown"; actual != expected {
		t.Errorf("got incorrect reason for base error; expected %s, got %v", expected, actual)
	}
	initial := ForReason(ReasonTransport).WithError(base).Errorf("couldn't do it")
	if actual, expected := FullReason(initial), "transport"; actual != expected {
		t.Errorf("got incorrect reason for initial error; expected %s, got %v", expected, actual)
	}
	second := ForReason(ReasonRemoteJob).WithError(initial).Errorf("couldn't do it")
	if actual, expected := FullReason(second), "remote_job:transport"; actual != expected {
		t.Errorf("got incorrect reason for second error; expected %s, got %v", expected, actual)
	}
	third := ForReason(ReasonConflict).WithError(second).Errorf("couldn't do it")
	if actual, expected := FullReason(third), "conflict:remote_job:transport"; actual != expected {
		t.Errorf("got incorrect reason for third error; expected %s, got %v", expected, actual)
	}

	simple := ForReason("simple").ForError(base)
	if actual, expected := FullReason(simple), "simple"; actual != expected {
		t.Errorf("got incorrect reason for simple error; expected %s, got %v", expected, actual)
	}

	none := ForReason("fake").ForError(nil)
	if none != nil {
		t.Errorf("expected a wrapped nil error to be nil, got %v", none)
	}

	alsoNone := DefaultReason(nil)
	if alsoNone != nil {
		t.Errorf("expected a wrapped nil error to be nil, got %v", alsoNone)
	}
	withDefault := DefaultReason(base)
	if actual, expected := FullReason(withDefault), "unknown"; actual != expected {
		t.Errorf("got incorrect reason for defaulted error; expected %s, got %v", expected, actual)
	}
	unchanged := DefaultReason(initial)
	if actual, expected := FullReason(unchanged), "transport"; actual != expected {
		t.Errorf("got incorrect reason for unchanged error; expected %s, got %v", expected, actual)
	}
}

func TestHasReason(t *testing.T) {
	transport := ForReason(ReasonTransport).ForError(errors.New("connection refused"))
	wrapped := fmt.Errorf("polling job 707xx: %w", ForReason(ReasonPollingTimeout).WithError(transport).Errorf("gave up"))

	testCases := []struct {
		name     string
		err      error
		reason   Reason
		expected bool
	}{
		{name: "nil error", err: nil, reason: ReasonTransport},
		{name: "plain error", err: errors.New("boom"), reason: ReasonUnknown},
		{name: "outermost reason", err: wrapped, reason: ReasonPollingTimeout, expected: true},
		{name: "nested reason", err: wrapped, reason: ReasonTransport, expected: true},
		{name: "absent reason", err: wrapped, reason: ReasonConflict},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if actual := HasReason(tc.err, tc.reason); actual != tc.expected {
				t.Errorf("expected HasReason to be %v, got %v", tc.expected, actual)
			}
		})
	}

	if actual, expected := ReasonOf(wrapped), ReasonPollingTimeout; actual != expected {
		t.Errorf("expected outermost reason %s, got %s", expected, actual)
	}
	if actual, expected := ReasonOf(errors.New("boom")), ReasonUnknown; actual != expected {
		t.Errorf("expected outermost reason %s, got %s", expected, actual)
	}
}

func TestFullReasonAggregate(t *testing.T) {
	aggregate := utilerrors.NewAggregate([]error{
		ForReason(ReasonConfiguration).ForError(errors.New("--org-url is required")),
		ForReason(ReasonConfiguration).ForError(errors.New("--username is required")),
	})
	if actual, expected := FullReason(aggregate), "configuration,configuration"; actual != expected {
		t.Errorf("expected %q, got %q", expected, actual)
	}
}
