package apexunitlib

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/openshift/apex-test-runner/pkg/results"
)

// ConnectionFlags describe how to reach and authenticate against an org.
type ConnectionFlags struct {
	OrgURL           string
	LoginURL         string
	Username         string
	PasswordFile     string
	ClientID         string
	ClientSecretFile string
	APIVersion       string

	ProxyHost string
	ProxyPort int

	RequestTimeout time.Duration
	RetryMax       int
}

func NewConnectionFlags() *ConnectionFlags {
	return &ConnectionFlags{
		LoginURL:       DefaultLoginURL,
		APIVersion:     DefaultAPIVersion,
		RequestTimeout: DefaultRequestTimeout,
		RetryMax:       DefaultRetryMax,
	}
}

func (f *ConnectionFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.OrgURL, "org-url", f.OrgURL, "URL of the org to run tests in. Defaults to the instance URL returned at login.")
	fs.StringVar(&f.LoginURL, "login-url", f.LoginURL, "URL of the OAuth login endpoint, e.g. https://test.salesforce.com for sandboxes.")
	fs.StringVar(&f.Username, "username", f.Username, "Username to log in with.")
	fs.StringVar(&f.PasswordFile, "password-file", f.PasswordFile, "File holding the password (with the security token appended, if the org requires one).")
	fs.StringVar(&f.ClientID, "client-id", f.ClientID, "OAuth client id of the connected app.")
	fs.StringVar(&f.ClientSecretFile, "client-secret-file", f.ClientSecretFile, "File holding the OAuth client secret of the connected app.")
	fs.StringVar(&f.APIVersion, "api-version", f.APIVersion, "REST API version to use.")
	fs.StringVar(&f.ProxyHost, "proxy-host", f.ProxyHost, "Host of an HTTP proxy to send all requests through.")
	fs.IntVar(&f.ProxyPort, "proxy-port", f.ProxyPort, "Port of the HTTP proxy.")
	fs.DurationVar(&f.RequestTimeout, "request-timeout", f.RequestTimeout, "Timeout of every single HTTP request.")
	fs.IntVar(&f.RetryMax, "request-retries", f.RetryMax, "Number of retries of idempotent HTTP requests on connection errors and server errors.")
}

// Validate checks to see if the user-input is likely to produce a working connection.
func (f *ConnectionFlags) Validate() error {
	var errs []error
	for _, flag := range []struct{ name, value string }{
		{"--username", f.Username},
		{"--password-file", f.PasswordFile},
		{"--client-id", f.ClientID},
		{"--client-secret-file", f.ClientSecretFile},
	} {
		if flag.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", flag.name))
		}
	}
	for _, flag := range []struct{ name, value string }{{"--org-url", f.OrgURL}, {"--login-url", f.LoginURL}} {
		if flag.value == "" {
			continue
		}
		if parsed, err := url.Parse(flag.value); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", flag.name, flag.value))
		}
	}
	if (f.ProxyHost == "") != (f.ProxyPort == 0) {
		errs = append(errs, fmt.Errorf("--proxy-host and --proxy-port must be set together"))
	}
	if f.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--request-timeout must be positive, requests may not block forever"))
	}
	if f.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("--request-retries may not be negative"))
	}
	return results.ForReason(results.ReasonConfiguration).ForError(utilerrors.NewAggregate(errs))
}

func (f *ConnectionFlags) clientConfig(orgURL string) ClientConfig {
	return ClientConfig{
		OrgURL:     orgURL,
		APIVersion: f.APIVersion,
		ProxyHost:  f.ProxyHost,
		ProxyPort:  f.ProxyPort,
		Timeout:    f.RequestTimeout,
		RetryMax:   f.RetryMax,
	}
}

// Connect logs in and returns a client scoped to one run, plus the session for
// censoring. Secret files are read from fs. The caller must Close the client.
func (f *ConnectionFlags) Connect(ctx context.Context, fs afero.Fs) (*Client, *Session, error) {
	password, err := readSecret(fs, f.PasswordFile)
	if err != nil {
		return nil, nil, err
	}
	clientSecret, err := readSecret(fs, f.ClientSecretFile)
	if err != nil {
		return nil, nil, err
	}
	httpClient, err := NewHTTPClient(f.clientConfig(f.OrgURL))
	if err != nil {
		return nil, nil, err
	}
	defer httpClient.CloseIdleConnections()
	session, err := Login(ctx, httpClient, PasswordCredentials{
		LoginURL:     f.LoginURL,
		ClientID:     f.ClientID,
		ClientSecret: clientSecret,
		Username:     f.Username,
		Password:     password,
	})
	if err != nil {
		return nil, nil, err
	}

	orgURL := f.OrgURL
	if orgURL == "" {
		orgURL = session.InstanceURL
	}
	if orgURL == "" {
		return nil, nil, results.ForReason(results.ReasonConfiguration).ForError(fmt.Errorf("--org-url was not given and the login did not report an instance url"))
	}
	logrus.WithField("org-url", orgURL).Debug("Logged in.")
	client, err := NewClient(f.clientConfig(orgURL), session.Tokens)
	if err != nil {
		return nil, nil, err
	}
	return client, session, nil
}

// Secrets returns the secret values referenced by the flags, for log censoring.
func (f *ConnectionFlags) Secrets(fs afero.Fs) []string {
	var secrets []string
	for _, path := range []string{f.PasswordFile, f.ClientSecretFile} {
		if secret, err := readSecret(fs, path); err == nil {
			secrets = append(secrets, secret)
		}
	}
	return secrets
}

func readSecret(fs afero.Fs, path string) (string, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", results.ForReason(results.ReasonConfiguration).WithError(err).Errorf("could not read secret file %s: %v", path, err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", results.ForReason(results.ReasonConfiguration).ForError(fmt.Errorf("secret file %s is empty", path))
	}
	return secret, nil
}
