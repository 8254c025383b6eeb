package apexunitapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// SelectorKind names the way a request selects the tests to run.
type SelectorKind string

const (
	SelectorNone          SelectorKind = ""
	SelectorExplicitTests SelectorKind = "tests"
	SelectorClassIDs      SelectorKind = "classids"
	SelectorClassNames    SelectorKind = "classNames"
	SelectorSuiteIDs      SelectorKind = "suiteids"
	SelectorSuiteNames    SelectorKind = "suiteNames"
)

// TestLevel controls which tests the org runs in addition to the selected ones.
type TestLevel string

const (
	TestLevelDefault           TestLevel = ""
	TestLevelRunSpecifiedTests TestLevel = "RunSpecifiedTests"
	TestLevelRunLocalTests     TestLevel = "RunLocalTests"
	TestLevelRunAllTestsInOrg  TestLevel = "RunAllTestsInOrg"
)

// ParseTestLevel accepts the empty string for the server default.
func ParseTestLevel(raw string) (TestLevel, error) {
	switch level := TestLevel(raw); level {
	case TestLevelDefault, TestLevelRunSpecifiedTests, TestLevelRunLocalTests, TestLevelRunAllTestsInOrg:
		return level, nil
	}
	return "", fmt.Errorf("unknown test level %q, must be one of %s, %s or %s", raw, TestLevelRunSpecifiedTests, TestLevelRunLocalTests, TestLevelRunAllTestsInOrg)
}

// TestClass is an explicit test entry, addressing a class by id or by name.
type TestClass struct {
	ClassID     string   `json:"classId,omitempty"`
	ClassName   string   `json:"className,omitempty"`
	TestMethods []string `json:"testMethods,omitempty"`
}

func (t TestClass) key() string {
	if t.ClassID != "" {
		return "id:" + t.ClassID
	}
	return "name:" + t.ClassName
}

// TestSelector holds exactly one populated selection variant.
type TestSelector struct {
	kind   SelectorKind
	tests  []TestClass
	values []string
}

// Kind reports which variant is populated.
func (s TestSelector) Kind() SelectorKind {
	return s.kind
}

// Tests returns a copy of the explicit test entries.
func (s TestSelector) Tests() []TestClass {
	if s.tests == nil {
		return nil
	}
	out := make([]TestClass, len(s.tests))
	for i, test := range s.tests {
		out[i] = test
		out[i].TestMethods = append([]string(nil), test.TestMethods...)
	}
	return out
}

// Values returns a copy of the ids or names of an id/name variant.
func (s TestSelector) Values() []string {
	return append([]string(nil), s.values...)
}

// Len is the number of entries in the populated variant.
func (s TestSelector) Len() int {
	if s.kind == SelectorExplicitTests {
		return len(s.tests)
	}
	return len(s.values)
}

// TestExecutionRequest is an immutable request for the asynchronous test endpoint.
// Build it with a RequestBuilder.
type TestExecutionRequest struct {
	selector         TestSelector
	maxFailedTests   *int
	skipCodeCoverage *bool
	testLevel        TestLevel
}

func (r TestExecutionRequest) Selector() TestSelector {
	return r.selector
}

func (r TestExecutionRequest) MaxFailedTests() (int, bool) {
	if r.maxFailedTests == nil {
		return 0, false
	}
	return *r.maxFailedTests, true
}

func (r TestExecutionRequest) SkipCodeCoverage() (bool, bool) {
	if r.skipCodeCoverage == nil {
		return false, false
	}
	return *r.skipCodeCoverage, true
}

func (r TestExecutionRequest) TestLevel() TestLevel {
	return r.testLevel
}

type wireRequest struct {
	MaxFailedTests   *int        `json:"maxFailedTests,omitempty"`
	Tests            []TestClass `json:"tests,omitempty"`
	ClassIDs         string      `json:"classids,omitempty"`
	ClassNames       string      `json:"classNames,omitempty"`
	SuiteIDs         string      `json:"suiteids,omitempty"`
	SuiteNames       string      `json:"suiteNames,omitempty"`
	SkipCodeCoverage *bool       `json:"skipCodeCoverage,omitempty"`
	TestLevel        TestLevel   `json:"testLevel,omitempty"`
}

// MarshalJSON renders the body expected by runTestsAsynchronous.
// Id and name variants are sent comma-joined.
func (r TestExecutionRequest) MarshalJSON() ([]byte, error) {
	wire := wireRequest{
		MaxFailedTests:   r.maxFailedTests,
		SkipCodeCoverage: r.skipCodeCoverage,
		TestLevel:        r.testLevel,
	}
	joined := strings.Join(r.selector.values, ",")
	switch r.selector.kind {
	case SelectorExplicitTests:
		wire.Tests = r.selector.tests
	case SelectorClassIDs:
		wire.ClassIDs = joined
	case SelectorClassNames:
		wire.ClassNames = joined
	case SelectorSuiteIDs:
		wire.SuiteIDs = joined
	case SelectorSuiteNames:
		wire.SuiteNames = joined
	}
	return json.Marshal(wire)
}

// InvalidRequestStateError is returned as soon as a builder is asked to mix
// selection variants.
type InvalidRequestStateError struct {
	Populated SelectorKind
	Requested SelectorKind
}

func (e *InvalidRequestStateError) Error() string {
	return fmt.Sprintf("request may not include both %s and %s", e.Populated, e.Requested)
}

// RequestBuilder accumulates a TestExecutionRequest. Selector methods fail
// immediately when another variant is already populated.
type RequestBuilder struct {
	selector TestSelector
	seen     sets.Set[string]

	maxFailedTests   *int
	skipCodeCoverage *bool
	testLevel        TestLevel
}

func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{seen: sets.New[string]()}
}

// claim reserves the selector for kind; adding nothing still fails on a conflict
// but leaves an empty builder unpopulated.
func (b *RequestBuilder) claim(kind SelectorKind, n int) error {
	if b.selector.kind != SelectorNone && b.selector.kind != kind {
		return &InvalidRequestStateError{Populated: b.selector.kind, Requested: kind}
	}
	if n > 0 {
		b.selector.kind = kind
	}
	return nil
}

// TestClass adds explicit test entries.
func (b *RequestBuilder) TestClass(tests ...TestClass) error {
	for _, test := range tests {
		if test.ClassID == "" && test.ClassName == "" {
			return fmt.Errorf("test entry must have a class id or a class name")
		}
	}
	if err := b.claim(SelectorExplicitTests, len(tests)); err != nil {
		return err
	}
	for _, test := range tests {
		if b.seen.Has(test.key()) {
			continue
		}
		b.seen.Insert(test.key())
		test.TestMethods = append([]string(nil), test.TestMethods...)
		b.selector.tests = append(b.selector.tests, test)
	}
	return nil
}

func (b *RequestBuilder) addValues(kind SelectorKind, values []string) error {
	for _, value := range values {
		if value == "" {
			return fmt.Errorf("empty value for %s", kind)
		}
	}
	if err := b.claim(kind, len(values)); err != nil {
		return err
	}
	for _, value := range values {
		if b.seen.Has(value) {
			continue
		}
		b.seen.Insert(value)
		b.selector.values = append(b.selector.values, value)
	}
	return nil
}

func (b *RequestBuilder) ClassID(ids ...string) error {
	return b.addValues(SelectorClassIDs, ids)
}

func (b *RequestBuilder) ClassName(names ...string) error {
	return b.addValues(SelectorClassNames, names)
}

func (b *RequestBuilder) SuiteID(ids ...string) error {
	return b.addValues(SelectorSuiteIDs, ids)
}

func (b *RequestBuilder) SuiteName(names ...string) error {
	return b.addValues(SelectorSuiteNames, names)
}

func (b *RequestBuilder) MaxFailedTests(maxFailed int) *RequestBuilder {
	b.maxFailedTests = &maxFailed
	return b
}

func (b *RequestBuilder) SkipCodeCoverage(skip bool) *RequestBuilder {
	b.skipCodeCoverage = &skip
	return b
}

func (b *RequestBuilder) TestLevel(level TestLevel) *RequestBuilder {
	b.testLevel = level
	return b
}

// Build returns an immutable request. A builder with no selector yields a
// request with SelectorNone; refusing to run it is up to the caller.
func (b *RequestBuilder) Build() TestExecutionRequest {
	request := TestExecutionRequest{
		selector: TestSelector{
			kind:   b.selector.kind,
			tests:  b.selector.Tests(),
			values: b.selector.Values(),
		},
		testLevel: b.testLevel,
	}
	if len(request.selector.values) == 0 {
		request.selector.values = nil
	}
	if b.maxFailedTests != nil {
		maxFailed := *b.maxFailedTests
		request.maxFailedTests = &maxFailed
	}
	if b.skipCodeCoverage != nil {
		skip := *b.skipCodeCoverage
		request.skipCodeCoverage = &skip
	}
	return request
}
