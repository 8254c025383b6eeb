package apexunitapi

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRequestBuilderSelectorExclusivity(t *testing.T) {
	testCases := []struct {
		name      string
		populate  func(*RequestBuilder) error
		conflict  func(*RequestBuilder) error
		populated SelectorKind
		requested SelectorKind
	}{
		{
			name:      "class names after explicit tests",
			populate:  func(b *RequestBuilder) error { return b.TestClass(TestClass{ClassID: "01p1"}) },
			conflict:  func(b *RequestBuilder) error { return b.ClassName("FooTest") },
			populated: SelectorExplicitTests,
			requested: SelectorClassNames,
		},
		{
			name:      "explicit tests after class ids",
			populate:  func(b *RequestBuilder) error { return b.ClassID("01p1") },
			conflict:  func(b *RequestBuilder) error { return b.TestClass(TestClass{ClassName: "FooTest"}) },
			populated: SelectorClassIDs,
			requested: SelectorExplicitTests,
		},
		{
			name:      "suite ids after class ids",
			populate:  func(b *RequestBuilder) error { return b.ClassID("01p1") },
			conflict:  func(b *RequestBuilder) error { return b.SuiteID("05F1") },
			populated: SelectorClassIDs,
			requested: SelectorSuiteIDs,
		},
		{
			name:      "suite names after suite ids",
			populate:  func(b *RequestBuilder) error { return b.SuiteID("05F1") },
			conflict:  func(b *RequestBuilder) error { return b.SuiteName("Smoke") },
			populated: SelectorSuiteIDs,
			requested: SelectorSuiteNames,
		},
		{
			name:      "class ids after class names",
			populate:  func(b *RequestBuilder) error { return b.ClassName("FooTest") },
			conflict:  func(b *RequestBuilder) error { return b.ClassID("01p1") },
			populated: SelectorClassNames,
			requested: SelectorClassIDs,
		},
		{
			name:      "empty call still conflicts",
			populate:  func(b *RequestBuilder) error { return b.SuiteName("Smoke") },
			conflict:  func(b *RequestBuilder) error { return b.ClassID() },
			populated: SelectorSuiteNames,
			requested: SelectorClassIDs,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			builder := NewRequestBuilder()
			if err := tc.populate(builder); err != nil {
				t.Fatalf("unexpected error populating the builder: %v", err)
			}
			err := tc.conflict(builder)
			var stateErr *InvalidRequestStateError
			if !errors.As(err, &stateErr) {
				t.Fatalf("expected an InvalidRequestStateError, got %v", err)
			}
			if diff := cmp.Diff(&InvalidRequestStateError{Populated: tc.populated, Requested: tc.requested}, stateErr); diff != "" {
				t.Errorf("unexpected error contents (-want +got):\n%s", diff)
			}
			if actual := builder.Build().Selector().Kind(); actual != tc.populated {
				t.Errorf("expected the built selector to stay %q, got %q", tc.populated, actual)
			}
		})
	}
}

func TestRequestBuilderBuild(t *testing.T) {
	testCases := []struct {
		name     string
		build    func(*RequestBuilder) error
		expected string
		kind     SelectorKind
		length   int
	}{
		{
			name:     "empty builder yields no selector",
			build:    func(b *RequestBuilder) error { return nil },
			expected: `{}`,
			kind:     SelectorNone,
		},
		{
			name: "class ids are comma joined and deduplicated",
			build: func(b *RequestBuilder) error {
				b.MaxFailedTests(5).SkipCodeCoverage(true).TestLevel(TestLevelRunSpecifiedTests)
				if err := b.ClassID("01p1", "01p2"); err != nil {
					return err
				}
				return b.ClassID("01p1")
			},
			expected: `{"maxFailedTests":5,"classids":"01p1,01p2","skipCodeCoverage":true,"testLevel":"RunSpecifiedTests"}`,
			kind:     SelectorClassIDs,
			length:   2,
		},
		{
			name: "explicit tests by id and name",
			build: func(b *RequestBuilder) error {
				return b.TestClass(TestClass{ClassID: "01pA"}, TestClass{ClassName: "BarTest", TestMethods: []string{"testOne"}})
			},
			expected: `{"tests":[{"classId":"01pA"},{"className":"BarTest","testMethods":["testOne"]}]}`,
			kind:     SelectorExplicitTests,
			length:   2,
		},
		{
			name: "suite names with an explicit false coverage flag",
			build: func(b *RequestBuilder) error {
				b.SkipCodeCoverage(false)
				return b.SuiteName("Smoke", "Regression")
			},
			expected: `{"suiteNames":"Smoke,Regression","skipCodeCoverage":false}`,
			kind:     SelectorSuiteNames,
			length:   2,
		},
		{
			name: "last scalar write wins",
			build: func(b *RequestBuilder) error {
				b.MaxFailedTests(1).MaxFailedTests(0).TestLevel(TestLevelRunLocalTests)
				return b.ClassName("FooTest")
			},
			expected: `{"maxFailedTests":0,"classNames":"FooTest","testLevel":"RunLocalTests"}`,
			kind:     SelectorClassNames,
			length:   1,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			builder := NewRequestBuilder()
			if err := tc.build(builder); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			request := builder.Build()
			raw, err := request.MarshalJSON()
			if err != nil {
				t.Fatalf("failed to marshal request: %v", err)
			}
			if diff := cmp.Diff(tc.expected, string(raw)); diff != "" {
				t.Errorf("unexpected wire body (-want +got):\n%s", diff)
			}
			if actual := request.Selector().Kind(); actual != tc.kind {
				t.Errorf("expected selector %q, got %q", tc.kind, actual)
			}
			if actual := request.Selector().Len(); actual != tc.length {
				t.Errorf("expected %d selector entries, got %d", tc.length, actual)
			}
		})
	}
}

func TestBuiltRequestIsImmutable(t *testing.T) {
	builder := NewRequestBuilder()
	if err := builder.TestClass(TestClass{ClassID: "01pA", TestMethods: []string{"testOne"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	request := builder.Build()

	if err := builder.TestClass(TestClass{ClassID: "01pB"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	builder.MaxFailedTests(3)
	tests := request.Selector().Tests()
	tests[0].TestMethods[0] = "mutated"

	expected := []TestClass{{ClassID: "01pA", TestMethods: []string{"testOne"}}}
	if diff := cmp.Diff(expected, request.Selector().Tests()); diff != "" {
		t.Errorf("request changed after build (-want +got):\n%s", diff)
	}
	if _, set := request.MaxFailedTests(); set {
		t.Error("expected maxFailedTests to stay unset on the built request")
	}
}

func TestRequestBuilderRejectsEmptyValues(t *testing.T) {
	builder := NewRequestBuilder()
	if err := builder.ClassID("01p1", ""); err == nil {
		t.Error("expected an error for an empty class id")
	}
	if err := builder.TestClass(TestClass{}); err == nil {
		t.Error("expected an error for a test entry without id or name")
	}
	if kind := builder.Build().Selector().Kind(); kind != SelectorNone {
		t.Errorf("expected rejected values to leave the selector empty, got %q", kind)
	}
}

func TestParseTestLevel(t *testing.T) {
	for _, raw := range []string{"", "RunSpecifiedTests", "RunLocalTests", "RunAllTestsInOrg"} {
		if level, err := ParseTestLevel(raw); err != nil || string(level) != raw {
			t.Errorf("expected %q to parse, got %q, %v", raw, level, err)
		}
	}
	if _, err := ParseTestLevel("RunEverything"); err == nil {
		t.Error("expected an error for an unknown test level")
	}
}
