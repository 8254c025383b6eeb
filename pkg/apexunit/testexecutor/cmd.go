package testexecutor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitlib"
	"github.com/openshift/apex-test-runner/pkg/apexunit/conflictresolver"
	"github.com/openshift/apex-test-runner/pkg/apexunit/jobsubmitter"
	"github.com/openshift/apex-test-runner/pkg/apexunit/resultpoller"
	"github.com/openshift/apex-test-runner/pkg/metrics"
	"github.com/openshift/apex-test-runner/pkg/results"
)

type TestExecutorFlags struct {
	Connection *apexunitlib.ConnectionFlags

	Reload            bool
	MaxFailedTests    int
	TestLevel         string
	SkipCodeCoverage  bool
	ClassNamePrefixes []string
	ManifestFiles     []string

	PollInterval time.Duration
	PollTimeout  time.Duration
	PollRetries  int

	ReportFile        string
	MetricsDir        string
	PushgatewayURL    string
	CoverageThreshold float64

	ConfigFile string
	LogLevel   string
}

func NewTestExecutorFlags() *TestExecutorFlags {
	return &TestExecutorFlags{
		Connection: apexunitlib.NewConnectionFlags(),

		MaxFailedTests: -1,
		PollInterval:   resultpoller.DefaultInterval,
		PollTimeout:    resultpoller.DefaultTimeout,
		PollRetries:    resultpoller.DefaultRetries,
		LogLevel:       logrus.InfoLevel.String(),
	}
}

func (f *TestExecutorFlags) BindFlags(fs *pflag.FlagSet) {
	f.Connection.BindFlags(fs)

	fs.BoolVar(&f.Reload, "test-reload", f.Reload, "Abort test queue items of the selected classes that are still queued or running instead of refusing to run.")
	fs.IntVar(&f.MaxFailedTests, "max-failed-tests", f.MaxFailedTests, "Stop the job once this many tests failed. Negative values leave the org default.")
	fs.StringVar(&f.TestLevel, "test-level", f.TestLevel, fmt.Sprintf("Test level of the job: %s, %s or %s.", apexunitapi.TestLevelRunSpecifiedTests, apexunitapi.TestLevelRunLocalTests, apexunitapi.TestLevelRunAllTestsInOrg))
	fs.BoolVar(&f.SkipCodeCoverage, "skip-code-coverage", f.SkipCodeCoverage, "Do not compute or collect code coverage.")
	fs.StringArrayVar(&f.ClassNamePrefixes, "class-name-prefix", f.ClassNamePrefixes, "Select classes whose name starts with this prefix; '*' matches any characters. Can be passed multiple times.")
	fs.StringArrayVar(&f.ManifestFiles, "test-manifest-file", f.ManifestFiles, "File listing class names to select, one per line. Can be passed multiple times.")

	fs.DurationVar(&f.PollInterval, "poll-interval", f.PollInterval, "Pause between two status polls of the submitted job.")
	fs.DurationVar(&f.PollTimeout, "poll-timeout", f.PollTimeout, "Maximum time to wait for the submitted job to finish.")
	fs.IntVar(&f.PollRetries, "poll-retries", f.PollRetries, "Retries of a failed status, result or coverage query before the run fails. These queries bypass --request-retries.")

	fs.StringVar(&f.ReportFile, "report-file", f.ReportFile, "Path to write a jUnit XML report to.")
	fs.StringVar(&f.MetricsDir, "metrics-dir", f.MetricsDir, "Directory to write the events of this run to.")
	fs.StringVar(&f.PushgatewayURL, "pushgateway-url", f.PushgatewayURL, "URL of a prometheus pushgateway to push the metrics of this run to.")
	fs.Float64Var(&f.CoverageThreshold, "team-code-coverage-threshold", f.CoverageThreshold, "Fail the run when the code coverage of the selected classes is below this percentage.")

	fs.StringVar(&f.ConfigFile, "config", f.ConfigFile, "YAML file holding defaults for any of these flags, keyed by flag name.")
	fs.StringVar(&f.LogLevel, "log-level", f.LogLevel, "Level to log at.")
}

func NewTestExecutorCommand() *cobra.Command {
	f := NewTestExecutorFlags()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run Apex tests in an org and wait for their results",
		Long: `Discover the Apex test classes of an org, submit them as one asynchronous test job
and wait for the job to finish. Test classes that are still queued from an earlier run
block the submission unless --test-reload is given, in which case they are aborted.

Failing tests are reported but do not fail the command. It fails when the tests could
not be run or their results could not be collected, and when the code coverage is below
--team-code-coverage-threshold.`,
		SilenceUsage: true,

		Example: `./apex-test-runner run
--login-url=https://test.salesforce.com
--username=ci@acme.com.qa
--password-file=/etc/apex/password
--client-id=3MVG9...
--client-secret-file=/etc/apex/client-secret
--class-name-prefix=Acme
--report-file=/logs/artifacts/junit_apex.xml`,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			fs := afero.NewOsFs()
			if err := apexunitlib.LoadFlagDefaults(fs, f.ConfigFile, cmd.Flags()); err != nil {
				fatal(err, "Config file is invalid")
			}
			if err := f.Validate(); err != nil {
				fatal(err, "Flags are invalid")
			}
			censor := f.setupLogging(fs)
			o, err := f.ToOptions(ctx, fs, censor)
			if err != nil {
				fatal(err, "Failed to build runtime options")
			}

			if err := o.Run(ctx); err != nil {
				fatal(err, "Command failed")
			}

			return nil
		},

		Args: apexunitlib.NoArgs,
	}

	f.BindFlags(cmd.Flags())

	return cmd
}

// fatal logs one line for err; the reason chain is only shown at debug level.
func fatal(err error, message string) {
	entry := logrus.WithField("reason", results.ReasonOf(err))
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		entry = entry.WithField("reasons", results.FullReason(err))
	}
	entry.WithError(err).Fatal(message)
}

// Validate checks to see if the user-input is likely to produce functional runtime options
func (f *TestExecutorFlags) Validate() error {
	var errs []error
	if err := f.Connection.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := apexunitapi.ParseTestLevel(f.TestLevel); err != nil {
		errs = append(errs, fmt.Errorf("--test-level: %w", err))
	}
	if len(f.ClassNamePrefixes) == 0 && len(f.ManifestFiles) == 0 {
		errs = append(errs, fmt.Errorf("at least one of --class-name-prefix or --test-manifest-file is required"))
	}
	if f.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("--poll-interval must be positive"))
	}
	if f.PollTimeout < f.PollInterval {
		errs = append(errs, fmt.Errorf("--poll-timeout must not be shorter than --poll-interval"))
	}
	if f.PollRetries < 0 {
		errs = append(errs, fmt.Errorf("--poll-retries may not be negative"))
	}
	if f.CoverageThreshold < 0 || f.CoverageThreshold > 100 {
		errs = append(errs, fmt.Errorf("--team-code-coverage-threshold must be a percentage between 0 and 100"))
	}
	if f.SkipCodeCoverage && f.CoverageThreshold > 0 {
		errs = append(errs, fmt.Errorf("--team-code-coverage-threshold cannot be enforced with --skip-code-coverage"))
	}
	if _, err := logrus.ParseLevel(f.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("--log-level: %w", err))
	}
	return results.ForReason(results.ReasonConfiguration).ForError(utilerrors.NewAggregate(errs))
}

// setupLogging applies the log level and censors the configured secrets from all output.
func (f *TestExecutorFlags) setupLogging(fs afero.Fs) *apexunitlib.CensoringFormatter {
	level, err := logrus.ParseLevel(f.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	censor := apexunitlib.NewCensoringFormatter(logrus.StandardLogger().Formatter, f.Connection.Secrets(fs)...)
	logrus.SetFormatter(censor)
	return censor
}

// ToOptions logs in and creates the runtime options. The connection is released when Run returns.
func (f *TestExecutorFlags) ToOptions(ctx context.Context, fs afero.Fs, censor *apexunitlib.CensoringFormatter) (*TestExecutorOptions, error) {
	classNames, err := apexunitlib.ReadManifests(fs, f.ManifestFiles...)
	if err != nil {
		return nil, err
	}
	testLevel, err := apexunitapi.ParseTestLevel(f.TestLevel)
	if err != nil {
		return nil, results.ForReason(results.ReasonConfiguration).ForError(err)
	}

	client, session, err := f.Connection.Connect(ctx, fs)
	if err != nil {
		return nil, err
	}
	censor.AddSecrets(session.AccessToken)

	runID := uuid.NewString()
	logrus.WithField("run-id", runID).Info("Starting test run.")
	agent := metrics.NewMetricsAgent(metrics.Options{RunID: runID, Dir: f.MetricsDir, Fs: fs})

	pollConfig := resultpoller.DefaultConfig()
	pollConfig.Interval = f.PollInterval
	pollConfig.Timeout = f.PollTimeout
	pollConfig.Retry = resultpoller.DefaultRetry(f.PollRetries)

	return &TestExecutorOptions{
		runID: runID,

		classLister: apexunitlib.NewToolingClassLister(client, f.ClassNamePrefixes, classNames),
		conn:        client.WithoutRetries(),
		resolver:    conflictresolver.New(client, f.Reload),
		submitter:   jobsubmitter.New(client, f.Connection.APIVersion),
		pollConfig:  pollConfig,

		maxFailedTests:   f.MaxFailedTests,
		testLevel:        testLevel,
		skipCodeCoverage: f.SkipCodeCoverage,

		fs:         fs,
		reportFile: f.ReportFile,
		censor:     censor,

		metrics:           agent,
		pushgatewayURL:    f.PushgatewayURL,
		coverageThreshold: f.CoverageThreshold,

		clock:           clock.RealClock{},
		closeConnection: client.Close,
	}, nil
}
