package junit

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
)

const (
	PropertyJobID   = "job-id"
	PropertyClassID = "class-id"
)

// FromReport renders one test suite per Apex class. Failed and errored methods
// carry their message and stack trace as failure output.
func FromReport(report *apexunitapi.Report) *TestSuites {
	suites := &TestSuites{}
	if report == nil {
		return suites
	}
	byClass := map[string]*TestSuite{}
	durations := map[string]int64{}
	for _, entry := range report.Entries {
		name := entry.ClassName
		if name == "" {
			name = entry.ClassID
		}
		suite, ok := byClass[name]
		if !ok {
			suite = &TestSuite{
				Name: name,
				Properties: []*TestSuiteProperty{
					{Name: PropertyJobID, Value: report.JobID.String()},
					{Name: PropertyClassID, Value: entry.ClassID},
				},
			}
			byClass[name] = suite
			suites.Suites = append(suites.Suites, suite)
		}

		testCase := &TestCase{
			Name:      entry.MethodName,
			ClassName: name,
			Duration:  seconds(entry.DurationMs),
		}
		switch entry.Outcome {
		case apexunitapi.OutcomeFail, apexunitapi.OutcomeError:
			suite.NumFailed++
			testCase.FailureOutput = &FailureOutput{Message: entry.Message, Output: entry.StackTrace}
		case apexunitapi.OutcomeSkipped:
			suite.NumSkipped++
			testCase.SkipMessage = &SkipMessage{Message: entry.Message}
		}
		suite.NumTests++
		durations[name] += entry.DurationMs
		suite.TestCases = append(suite.TestCases, testCase)
	}
	for _, suite := range suites.Suites {
		suite.Duration = seconds(durations[suite.Name])
	}
	sort.SliceStable(suites.Suites, func(i, j int) bool {
		return suites.Suites[i].Name < suites.Suites[j].Name
	})
	return suites
}

func seconds(ms int64) float64 {
	return float64(ms) / 1000
}

// Marshal renders suites as an indented XML document.
func Marshal(suites *TestSuites) ([]byte, error) {
	raw, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("could not marshal jUnit: %w", err)
	}
	out := append([]byte(xml.Header), raw...)
	return append(out, '\n'), nil
}

// Write stores suites at path, creating missing parent directories.
func Write(fs afero.Fs, path string, suites *TestSuites) error {
	raw, err := Marshal(suites)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create directory for %s: %w", path, err)
	}
	if err := afero.WriteFile(fs, path, raw, 0644); err != nil {
		return fmt.Errorf("could not write jUnit to %s: %w", path, err)
	}
	return nil
}
