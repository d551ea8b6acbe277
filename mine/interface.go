// Package mine provides the client-side object model for an InterMine-style
// data warehouse: lists of typed records, the user's preferences, and the
// Service contract they delegate all network work to.
package mine

import (
	"context"
	"strconv"

	"github.com/tidwall/gjson"
)

// Params is a flat set of request parameters.
type Params map[string]string

// Clone returns a shallow copy of p that is never nil.
func (p Params) Clone() Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Constraint restricts a query path, e.g. {Op: "IN", Value: "MyList"}.
type Constraint struct {
	Op    string
	Value string
}

// Query is a selection over one root class of the data model.
type Query struct {
	Select []string
	From   string
	Where  map[string]Constraint
}

// Response is the raw outcome of a Service.MakeRequest call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Get reads a value from the JSON body using a gjson path.
func (r *Response) Get(path string) gjson.Result {
	if r == nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Body, path)
}

// WasSuccessful reports the mine's own success flag, falling back to the
// HTTP status when the flag is absent.
func (r *Response) WasSuccessful() bool {
	if r == nil {
		return false
	}
	if flag := r.Get("wasSuccessful"); flag.Exists() {
		return flag.Bool()
	}
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Record is one result object returned by a query.
type Record struct {
	raw string
}

// NewRecord wraps a raw JSON object.
func NewRecord(raw string) Record {
	return Record{raw: raw}
}

// Raw returns the record's JSON text.
func (r Record) Raw() string {
	return r.raw
}

// Get reads a field using a gjson path.
func (r Record) Get(path string) gjson.Result {
	return gjson.Get(r.raw, path)
}

// String returns the field at path as a string, or "" when absent.
func (r Record) String(path string) string {
	return r.Get(path).String()
}

// Int returns the field at path as an integer, or 0 when absent.
func (r Record) Int(path string) int64 {
	return r.Get(path).Int()
}

// Class is the record's concrete class name.
func (r Record) Class() string {
	return r.String("class")
}

// ObjectID is the record's internal object identifier.
func (r Record) ObjectID() string {
	id := r.Get("objectId")
	if !id.Exists() {
		return ""
	}
	return strconv.FormatInt(id.Int(), 10)
}

// EnrichmentItem is one row of an enrichment analysis.
type EnrichmentItem struct {
	Identifier  string
	Description string
	PValue      float64
	Matches     int
}

// EnrichmentResult is the outcome of a Service.Enrichment call.
type EnrichmentResult struct {
	Title       string
	Description string
	PValueLimit float64
	Items       []EnrichmentItem
}

// QueryResult exposes the records selected by a query. Records calls fn once
// per record, in server order, and stops at the first error fn returns.
type QueryResult interface {
	Records(ctx context.Context, fn func(Record) error) error
}

// Service performs authenticated requests against a mine. Implementations
// must be safe for concurrent use: many List and User values share one.
type Service interface {
	MakeRequest(ctx context.Context, method, path string, params Params) (*Response, error)
	Query(ctx context.Context, q Query) (QueryResult, error)
	Enrichment(ctx context.Context, params Params) (*EnrichmentResult, error)
}
