package webservice

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"mineat/mine"
)

// Model is the part of the mine's data model needed to compile queries.
type Model struct {
	Name string
	raw  gjson.Result
}

// Model fetches the data model. It is read fresh on every call.
func (c *Client) Model(ctx context.Context) (*Model, error) {
	resp, err := c.MakeRequest(ctx, http.MethodGet, "model", mine.Params{"format": "json"})
	if err != nil {
		return nil, err
	}
	m := resp.Get("model")
	if !m.Exists() {
		return nil, fmt.Errorf("model missing from response")
	}
	return &Model{Name: m.Get("name").String(), raw: m}, nil
}

// class returns the definition of class, matched by exact key.
func (m *Model) class(name string) gjson.Result {
	var def gjson.Result
	m.raw.Get("classes").ForEach(func(key, value gjson.Result) bool {
		if key.String() == name {
			def = value
			return false
		}
		return true
	})
	return def
}

// HasClass reports whether the model defines class.
func (m *Model) HasClass(class string) bool {
	return m.class(class).Exists()
}

// Attributes returns the attribute names of class, its own first and then
// those inherited through "extends", without duplicates.
func (m *Model) Attributes(class string) ([]string, error) {
	if !m.HasClass(class) {
		return nil, fmt.Errorf("class %q is not in the %s model", class, m.Name)
	}
	var names []string
	seen := map[string]bool{}
	visited := map[string]bool{}

	var walk func(cls string)
	walk = func(cls string) {
		if visited[cls] {
			return
		}
		visited[cls] = true
		def := m.class(cls)
		def.Get("attributes").ForEach(func(key, attr gjson.Result) bool {
			name := attr.Get("name").String()
			if name == "" {
				name = key.String()
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			return true
		})
		for _, parent := range def.Get("extends").Array() {
			walk(parent.String())
		}
	}
	walk(class)
	return names, nil
}

type pathQuery struct {
	XMLName     xml.Name        `xml:"query"`
	Model       string          `xml:"model,attr"`
	View        string          `xml:"view,attr"`
	Constraints []xmlConstraint `xml:"constraint"`
}

type xmlConstraint struct {
	Path  string `xml:"path,attr"`
	Op    string `xml:"op,attr"`
	Value string `xml:"value,attr"`
	Code  string `xml:"code,attr"`
}

// compileQuery turns a query into PathQuery XML. "*" in Select expands to
// every attribute of the root class; bare field names are rooted at From.
func compileQuery(m *Model, q mine.Query) (string, error) {
	if q.From == "" {
		return "", fmt.Errorf("query has no root class")
	}

	var view []string
	for _, sel := range q.Select {
		switch {
		case sel == "*":
			attrs, err := m.Attributes(q.From)
			if err != nil {
				return "", err
			}
			for _, a := range attrs {
				view = append(view, q.From+"."+a)
			}
		case sel == q.From || strings.HasPrefix(sel, q.From+"."):
			view = append(view, sel)
		default:
			view = append(view, q.From+"."+sel)
		}
	}
	if len(view) == 0 {
		return "", fmt.Errorf("query on %s selects nothing", q.From)
	}

	paths := make([]string, 0, len(q.Where))
	for path := range q.Where {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	if len(paths) > 26 {
		return "", fmt.Errorf("too many constraints: %d", len(paths))
	}

	pq := pathQuery{Model: m.Name, View: strings.Join(view, " ")}
	for i, path := range paths {
		c := q.Where[path]
		pq.Constraints = append(pq.Constraints, xmlConstraint{
			Path:  path,
			Op:    c.Op,
			Value: c.Value,
			Code:  string(rune('A' + i)),
		})
	}

	out, err := xml.Marshal(pq)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Query compiles q against the current model. The returned result runs the
// query when its records are read.
func (c *Client) Query(ctx context.Context, q mine.Query) (mine.QueryResult, error) {
	m, err := c.Model(ctx)
	if err != nil {
		return nil, err
	}
	xmlQuery, err := compileQuery(m, q)
	if err != nil {
		return nil, err
	}
	return &queryResult{client: c, xml: xmlQuery}, nil
}

type queryResult struct {
	client *Client
	xml    string
}

// XML returns the compiled PathQuery.
func (r *queryResult) XML() string {
	return r.xml
}

// Records runs the query and decodes the "results" array one object at a
// time, so large lists are never held in memory whole.
func (r *queryResult) Records(ctx context.Context, fn func(mine.Record) error) error {
	resp, err := r.client.doRequest(ctx, http.MethodPost, "query/results", mine.Params{
		"query":  r.xml,
		"format": "jsonobjects",
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return checkStatus(resp.StatusCode, body)
	}

	dec := json.NewDecoder(resp.Body)
	if err := seekResults(dec); err != nil {
		return err
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("failed to decode result record: %w", err)
		}
		if err := fn(mine.NewRecord(string(raw))); err != nil {
			return err
		}
	}
	return readTrailer(dec)
}

// readTrailer consumes the rest of the response after the "results" array.
// A mine that fails while streaming still answers 200 and reports the failure
// in the fields that follow the records.
func readTrailer(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("query results truncated: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != ']' {
		return fmt.Errorf("query results truncated")
	}

	var trailer struct {
		WasSuccessful *bool  `json:"wasSuccessful"`
		Error         string `json:"error"`
		StatusCode    int    `json:"statusCode"`
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read query results: %w", err)
		}
		key, _ := tok.(string)
		switch key {
		case "wasSuccessful":
			err = dec.Decode(&trailer.WasSuccessful)
		case "error":
			err = dec.Decode(&trailer.Error)
		case "statusCode":
			err = dec.Decode(&trailer.StatusCode)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return fmt.Errorf("failed to read query results: %w", err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("query results truncated: %w", err)
	}

	if trailer.WasSuccessful != nil && !*trailer.WasSuccessful {
		status := trailer.StatusCode
		if status < 400 {
			status = http.StatusInternalServerError
		}
		msg := trailer.Error
		if msg == "" {
			msg = "query failed"
		}
		return &APIError{StatusCode: status, Message: msg}
	}
	return nil
}

// seekResults advances dec to just inside the top-level "results" array.
func seekResults(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read query results: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("query results are not a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read query results: %w", err)
		}
		if key, _ := tok.(string); key == "results" {
			tok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("failed to read query results: %w", err)
			}
			if d, ok := tok.(json.Delim); !ok || d != '[' {
				return fmt.Errorf("query results field is not an array")
			}
			return nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return fmt.Errorf("failed to read query results: %w", err)
		}
	}
	return fmt.Errorf("query results field missing")
}
