package apexunit

import (
	"github.com/spf13/cobra"

	"github.com/openshift/apex-test-runner/pkg/apexunit/testexecutor"
)

// Overall usage
// 1. discover the Apex classes selected by name prefixes and manifests, split them into test and source classes
// 2. refuse to run while earlier test queue items of the same classes are still in flight, or abort them on reload
// 3. submit the test classes as one asynchronous job
// 4. poll the queue items of the job until all of them are final
// 5. collect the test results and the coverage of the source classes, write jUnit and metrics

func NewApexUnitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:  "apex-test-runner",
		Long: `Commands to run Apex tests in a Salesforce org from CI`,
	}

	cmd.AddCommand(testexecutor.NewTestExecutorCommand())

	return cmd
}
