// The purpose of this tool is to run the Apex tests of a Salesforce
// org asynchronously, wait for their results and report them.
package main

import (
	goflag "flag"
	"os"

	"github.com/spf13/pflag"

	"github.com/openshift/apex-test-runner/pkg/apexunit"
)

func main() {
	cmd := apexunit.NewApexUnitCommand()
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
