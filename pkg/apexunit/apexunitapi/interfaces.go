package apexunitapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

//go:generate mockgen -source=interfaces.go -destination=mock_interfaces.go -package=apexunitapi

// ClassLister discovers the Apex classes a run operates on.
type ClassLister interface {
	ListClasses(ctx context.Context) ([]ApexClass, error)
}

// Connection is an authenticated channel to one org. Every call is bounded by
// the transport timeout as well as ctx.
type Connection interface {
	// Get returns the body of a GET on a path relative to the org URL.
	Get(ctx context.Context, relativePath string) ([]byte, error)
	// Post sends body with the given content type and extra headers. It is never retried.
	Post(ctx context.Context, relativePath string, body []byte, contentType string, headers http.Header) ([]byte, error)
	// Query runs SOQL against the data API, following pagination.
	Query(ctx context.Context, soql string) (*QueryResult, error)
	// ToolingQuery runs SOQL against the Tooling API, following pagination.
	ToolingQuery(ctx context.Context, soql string) (*QueryResult, error)
	// Update applies field changes to existing records.
	Update(ctx context.Context, records []SObject) error
}

// QueryResult holds the raw records of a SOQL query.
type QueryResult struct {
	TotalSize int               `json:"totalSize"`
	Done      bool              `json:"done"`
	Records   []json.RawMessage `json:"records"`
}

// DecodeRecords unmarshals every record into T.
func DecodeRecords[T any](result *QueryResult) ([]T, error) {
	if result == nil {
		return nil, nil
	}
	out := make([]T, 0, len(result.Records))
	for i, raw := range result.Records {
		var record T
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("could not decode record %d: %w", i, err)
		}
		out = append(out, record)
	}
	return out, nil
}

// SObject is a record update addressed by type and id.
type SObject struct {
	Type   string
	ID     string
	Fields map[string]interface{}
}

// MarshalJSON renders the composite API shape: {"attributes":{"type":...},"id":...,<fields>}.
func (o SObject) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(o.Fields)+2)
	for key, value := range o.Fields {
		out[key] = value
	}
	out["attributes"] = map[string]string{"type": o.Type}
	out["id"] = o.ID
	return json.Marshal(out)
}

// APIError is an error response of the remote service.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"errorCode"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("unexpected http %d status code: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retriable is true for throttling and server side failures.
func (e *APIError) Retriable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// InvalidID is true when the service rejected an id used in the request.
func (e *APIError) InvalidID() bool {
	switch e.Code {
	case "MALFORMED_ID", "INVALID_ID_FIELD", "NOT_FOUND", "INVALID_CROSS_REFERENCE_KEY":
		return true
	case "INVALID_QUERY_FILTER_OPERATOR":
		// an id literal of the wrong format in a filter
		return strings.Contains(e.Message, "invalid ID field")
	}
	return e.StatusCode == http.StatusNotFound
}

// QuoteIDs renders ids as a SOQL IN list: 'a','b'.
func QuoteIDs(ids []string) string {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, "'"+EscapeSOQL(id)+"'")
	}
	return strings.Join(quoted, ",")
}

// EscapeSOQL escapes a literal for use inside single quotes.
func EscapeSOQL(value string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
}
