package apexunitlib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
	"github.com/openshift/apex-test-runner/pkg/results"
)

const (
	DefaultAPIVersion     = "44.0"
	DefaultRequestTimeout = 2 * time.Minute
	DefaultRetryMax       = 3

	// compositeBatchSize is the record limit of one sObject Collections request.
	compositeBatchSize = 200
)

// ClientConfig holds everything needed to reach one org.
type ClientConfig struct {
	OrgURL     string
	APIVersion string
	ProxyHost  string
	ProxyPort  int
	// Timeout bounds every single HTTP call. It must be positive.
	Timeout time.Duration
	// RetryMax is the number of retries for idempotent calls. POSTs are never retried.
	RetryMax int
}

// Client is an apexunitapi.Connection backed by the org's REST APIs.
type Client struct {
	orgURL     *url.URL
	apiVersion string
	tokens     oauth2.TokenSource
	retrying   *retryablehttp.Client
	logger     *logrus.Entry
}

var _ apexunitapi.Connection = &Client{}

// NewHTTPClient builds the plain client shared by the OAuth flow and the API
// calls, honoring the proxy and the timeout.
func NewHTTPClient(config ClientConfig) (*http.Client, error) {
	if config.Timeout <= 0 {
		return nil, results.ForReason(results.ReasonConfiguration).ForError(fmt.Errorf("a positive request timeout is required, got %s", config.Timeout))
	}
	transport := cleanhttp.DefaultPooledTransport()
	if config.ProxyHost != "" && config.ProxyPort != 0 {
		proxyURL := &url.URL{Scheme: "http", Host: net.JoinHostPort(config.ProxyHost, strconv.Itoa(config.ProxyPort))}
		logrus.WithField("proxy", proxyURL.Host).Debug("Using proxy for org requests.")
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport, Timeout: config.Timeout}, nil
}

// NewClient returns a connection to config.OrgURL authenticating with tokens.
// Close it once the run is over.
func NewClient(config ClientConfig, tokens oauth2.TokenSource) (*Client, error) {
	orgURL, err := url.Parse(strings.TrimSuffix(config.OrgURL, "/"))
	if err != nil || orgURL.Scheme == "" || orgURL.Host == "" {
		return nil, results.ForReason(results.ReasonConfiguration).ForError(fmt.Errorf("invalid org url %q", config.OrgURL))
	}
	httpClient, err := NewHTTPClient(config)
	if err != nil {
		return nil, err
	}
	apiVersion := config.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	retrying := retryablehttp.NewClient()
	retrying.HTTPClient = httpClient
	retrying.RetryMax = config.RetryMax
	retrying.Logger = LeveledLogger{}
	retrying.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		orgURL:     orgURL,
		apiVersion: apiVersion,
		tokens:     tokens,
		retrying:   retrying,
		logger:     logrus.WithField("org", orgURL.Host),
	}, nil
}

// WithoutRetries returns a client sharing the connections of c whose calls are
// attempted once, for callers that retry on their own.
func (c *Client) WithoutRetries() *Client {
	retrying := retryablehttp.NewClient()
	retrying.HTTPClient = c.retrying.HTTPClient
	retrying.RetryMax = 0
	retrying.RetryWaitMin = c.retrying.RetryWaitMin
	retrying.RetryWaitMax = c.retrying.RetryWaitMax
	retrying.Logger = c.retrying.Logger
	retrying.ErrorHandler = c.retrying.ErrorHandler
	return &Client{
		orgURL:     c.orgURL,
		apiVersion: c.apiVersion,
		tokens:     c.tokens,
		retrying:   retrying,
		logger:     c.logger,
	}
}

// Close releases the pooled connections of this client.
func (c *Client) Close() {
	c.retrying.HTTPClient.CloseIdleConnections()
}

// DataPath returns the versioned REST path for suffix, e.g. /services/data/v44.0/query.
func (c *Client) DataPath(suffix string) string {
	return DataPath(c.apiVersion, suffix)
}

func DataPath(apiVersion, suffix string) string {
	return fmt.Sprintf("/services/data/v%s%s", apiVersion, suffix)
}

func (c *Client) Get(ctx context.Context, relativePath string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, relativePath, nil, "", nil)
}

func (c *Client) Post(ctx context.Context, relativePath string, body []byte, contentType string, headers http.Header) ([]byte, error) {
	return c.do(ctx, http.MethodPost, relativePath, body, contentType, headers)
}

type queryPage struct {
	apexunitapi.QueryResult
	NextRecordsURL string `json:"nextRecordsUrl"`
}

func (c *Client) Query(ctx context.Context, soql string) (*apexunitapi.QueryResult, error) {
	return c.query(ctx, c.DataPath("/query/?q="+url.QueryEscape(soql)))
}

func (c *Client) ToolingQuery(ctx context.Context, soql string) (*apexunitapi.QueryResult, error) {
	return c.query(ctx, c.DataPath("/tooling/query/?q="+url.QueryEscape(soql)))
}

func (c *Client) query(ctx context.Context, relativePath string) (*apexunitapi.QueryResult, error) {
	result := &apexunitapi.QueryResult{}
	for next := relativePath; next != ""; {
		raw, err := c.Get(ctx, next)
		if err != nil {
			return nil, err
		}
		page := queryPage{}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, results.ForReason(results.ReasonTransport).WithError(err).Errorf("could not parse query response: %v", err)
		}
		result.TotalSize = page.TotalSize
		result.Done = page.Done
		result.Records = append(result.Records, page.Records...)
		next = page.NextRecordsURL
	}
	return result, nil
}

type compositeUpdate struct {
	AllOrNone bool                  `json:"allOrNone"`
	Records   []apexunitapi.SObject `json:"records"`
}

type saveResult struct {
	ID      string                 `json:"id"`
	Success bool                   `json:"success"`
	Errors  []apexunitapi.APIError `json:"errors"`
}

// Update patches the records through the sObject Collections API, all or none per batch.
func (c *Client) Update(ctx context.Context, records []apexunitapi.SObject) error {
	for start := 0; start < len(records); start += compositeBatchSize {
		end := start + compositeBatchSize
		if end > len(records) {
			end = len(records)
		}
		body, err := json.Marshal(compositeUpdate{AllOrNone: true, Records: records[start:end]})
		if err != nil {
			return fmt.Errorf("could not marshal record update: %w", err)
		}
		raw, err := c.do(ctx, http.MethodPatch, c.DataPath("/composite/sobjects"), body, "application/json", nil)
		if err != nil {
			return err
		}
		var saved []saveResult
		if err := json.Unmarshal(raw, &saved); err != nil {
			return results.ForReason(results.ReasonTransport).WithError(err).Errorf("could not parse update response: %v", err)
		}
		for _, result := range saved {
			if result.Success {
				continue
			}
			message := "unknown error"
			if len(result.Errors) > 0 {
				message = result.Errors[0].Message
			}
			return results.ForReason(results.ReasonRemoteJob).ForError(fmt.Errorf("update of record %s was rejected: %s", result.ID, message))
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, relativePath string, body []byte, contentType string, headers http.Header) ([]byte, error) {
	target := c.orgURL.String() + relativePath
	logger := c.logger.WithFields(logrus.Fields{"method": method, "path": pathOnly(relativePath)})

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, results.ForReason(results.ReasonConfiguration).WithError(err).Errorf("could not create request for %s: %v", pathOnly(relativePath), err)
	}
	for key, values := range headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, results.ForReason(results.ReasonConfiguration).WithError(err).Errorf("could not obtain an access token: %v", err)
	}
	token.SetAuthHeader(httpReq)

	logger.Debug("Sending request.")
	var resp *http.Response
	if method == http.MethodPost {
		// submissions are not idempotent, so they get exactly one attempt
		resp, err = c.retrying.HTTPClient.Do(httpReq)
	} else {
		var req *retryablehttp.Request
		if req, err = retryablehttp.FromRequest(httpReq); err == nil {
			resp, err = c.retrying.Do(req)
		}
	}
	if err != nil {
		return nil, results.ForReason(results.ReasonTransport).WithError(err).Errorf("failed to %s %s: %v", method, pathOnly(relativePath), redact(err, target))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, results.ForReason(results.ReasonTransport).WithError(err).Errorf("failed to read response of %s %s: %v", method, pathOnly(relativePath), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, data)
		logger.WithField("status", resp.StatusCode).Debug("Request failed.")
		return nil, results.ForReason(results.ReasonTransport).WithError(apiErr).Errorf("%s %s failed: %v", method, pathOnly(relativePath), apiErr)
	}
	return data, nil
}

func parseAPIError(statusCode int, body []byte) *apexunitapi.APIError {
	var apiErrors []apexunitapi.APIError
	if err := json.Unmarshal(body, &apiErrors); err == nil && len(apiErrors) > 0 {
		apiErr := apiErrors[0]
		apiErr.StatusCode = statusCode
		return &apiErr
	}
	single := apexunitapi.APIError{}
	if err := json.Unmarshal(body, &single); err == nil && (single.Code != "" || single.Message != "") {
		single.StatusCode = statusCode
		return &single
	}
	return &apexunitapi.APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
}

// pathOnly drops the query string, which may carry full SOQL statements.
func pathOnly(relativePath string) string {
	if i := strings.Index(relativePath, "?"); i >= 0 {
		return relativePath[:i]
	}
	return relativePath
}

// redact keeps the org host in transport errors but strips query strings.
func redact(err error, target string) string {
	message := err.Error()
	if i := strings.Index(target, "?"); i >= 0 {
		message = strings.ReplaceAll(message, target, target[:i])
	}
	return message
}
