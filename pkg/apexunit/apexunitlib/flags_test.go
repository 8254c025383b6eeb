package apexunitlib

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/openshift/apex-test-runner/pkg/results"
)

func validConnectionFlags() *ConnectionFlags {
	f := NewConnectionFlags()
	f.Username = "ci@example.com"
	f.PasswordFile = "/etc/apex/password"
	f.ClientID = "client"
	f.ClientSecretFile = "/etc/apex/client-secret"
	return f
}

func TestConnectionFlagsValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*ConnectionFlags)
		expected []string
	}{
		{
			name:   "valid",
			mutate: func(*ConnectionFlags) {},
		},
		{
			name: "missing credentials",
			mutate: func(f *ConnectionFlags) {
				f.Username = ""
				f.ClientSecretFile = ""
			},
			expected: []string{"--username is required", "--client-secret-file is required"},
		},
		{
			name: "relative org url",
			mutate: func(f *ConnectionFlags) {
				f.OrgURL = "example.my.salesforce.com"
			},
			expected: []string{`--org-url must be an absolute URL, got "example.my.salesforce.com"`},
		},
		{
			name: "proxy host without port",
			mutate: func(f *ConnectionFlags) {
				f.ProxyHost = "proxy.example.com"
			},
			expected: []string{"--proxy-host and --proxy-port must be set together"},
		},
		{
			name: "unbounded requests",
			mutate: func(f *ConnectionFlags) {
				f.RequestTimeout = 0
				f.RetryMax = -1
			},
			expected: []string{
				"--request-timeout must be positive, requests may not block forever",
				"--request-retries may not be negative",
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := validConnectionFlags()
			tc.mutate(f)
			err := f.Validate()
			if len(tc.expected) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !results.HasReason(err, results.ReasonConfiguration) {
				t.Fatalf("expected a configuration error, got %v", err)
			}
			for _, message := range tc.expected {
				if !strings.Contains(err.Error(), message) {
					t.Errorf("expected error to contain %q, got %v", message, err)
				}
			}
		})
	}
}

func TestConnectionFlagsBind(t *testing.T) {
	f := NewConnectionFlags()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.BindFlags(fs)
	if err := fs.Parse([]string{"--username=ci@example.com", "--request-timeout=30s", "--proxy-host=proxy", "--proxy-port=3128"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := &ConnectionFlags{
		LoginURL:       DefaultLoginURL,
		Username:       "ci@example.com",
		APIVersion:     DefaultAPIVersion,
		ProxyHost:      "proxy",
		ProxyPort:      3128,
		RequestTimeout: 30 * time.Second,
		RetryMax:       DefaultRetryMax,
	}
	if diff := cmp.Diff(expected, f); diff != "" {
		t.Errorf("unexpected flags (-want +got):\n%s", diff)
	}
}

func TestSecrets(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/apex/password", []byte("hunter2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/etc/apex/empty", []byte("\n"), 0600); err != nil {
		t.Fatal(err)
	}

	f := &ConnectionFlags{PasswordFile: "/etc/apex/password", ClientSecretFile: "/etc/apex/missing"}
	if diff := cmp.Diff([]string{"hunter2"}, f.Secrets(fs)); diff != "" {
		t.Errorf("unexpected secrets (-want +got):\n%s", diff)
	}
	if _, err := readSecret(fs, "/etc/apex/empty"); !results.HasReason(err, results.ReasonConfiguration) {
		t.Errorf("expected a configuration error for an empty secret, got %v", err)
	}
}

func TestConnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("could not parse form: %v", err)
		}
		if actual, expected := r.PostForm.Get("password"), "hunter2"; actual != expected {
			t.Errorf("expected password %q, got %q", expected, actual)
		}
		if actual, expected := r.PostForm.Get("client_secret"), "s3cr3t"; actual != expected {
			t.Errorf("expected client secret %q, got %q", expected, actual)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"00Dxx!token","instance_url":"https://example.my.salesforce.com","token_type":"Bearer"}`))
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/apex/password", []byte("hunter2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/etc/apex/client-secret", []byte("s3cr3t"), 0600); err != nil {
		t.Fatal(err)
	}
	f := validConnectionFlags()
	f.LoginURL = server.URL

	client, session, err := f.Connect(context.Background(), fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if session.AccessToken != "00Dxx!token" {
		t.Errorf("unexpected access token %q", session.AccessToken)
	}
	if actual, expected := client.orgURL.String(), "https://example.my.salesforce.com"; actual != expected {
		t.Errorf("expected the instance url %s to be used, got %s", expected, actual)
	}

	f.ClientSecretFile = "/etc/apex/missing"
	if _, _, err := f.Connect(context.Background(), fs); !results.HasReason(err, results.ReasonConfiguration) {
		t.Errorf("expected a configuration error for a missing secret file, got %v", err)
	}
}
