package apexunitlib

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"

	"github.com/openshift/apex-test-runner/pkg/results"
)

// LoadFlagDefaults reads a YAML document mapping flag names to values and applies
// every value whose flag was not set on the command line. Lists are applied one
// element at a time, so that repeatable flags receive every element.
//
//	org-url: https://acme.my.salesforce.com
//	poll-timeout: 45m
//	class-name-prefix:
//	- Acme*
func LoadFlagDefaults(fs afero.Fs, path string, flags *pflag.FlagSet) error {
	if path == "" {
		return nil
	}
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return results.ForReason(results.ReasonConfiguration).WithError(err).Errorf("could not read config file %s: %v", path, err)
	}
	var values map[string]interface{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return results.ForReason(results.ReasonConfiguration).WithError(err).Errorf("could not parse config file %s: %v", path, err)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			errs = append(errs, fmt.Errorf("%s: unknown option %q", path, name))
			continue
		}
		if flag.Changed {
			continue
		}
		elements, ok := values[name].([]interface{})
		if !ok {
			elements = []interface{}{values[name]}
		}
		for _, element := range elements {
			value, err := flagValue(element)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: option %q: %w", path, name, err))
				break
			}
			if err := flags.Set(name, value); err != nil {
				errs = append(errs, fmt.Errorf("%s: option %q: %w", path, name, err))
				break
			}
		}
	}
	return results.ForReason(results.ReasonConfiguration).ForError(utilerrors.NewAggregate(errs))
}

func flagValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case nil:
		return "", fmt.Errorf("value may not be empty")
	default:
		return "", fmt.Errorf("unsupported value of type %T", value)
	}
}
