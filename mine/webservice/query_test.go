package webservice

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"mineat/mine"
)

const testModel = `{
  "name": "genomic",
  "classes": {
    "BioEntity": {"name": "BioEntity", "extends": [], "attributes": {
      "primaryIdentifier": {"name": "primaryIdentifier"},
      "symbol": {"name": "symbol"}
    }},
    "SequenceFeature": {"name": "SequenceFeature", "extends": ["BioEntity"], "attributes": {
      "length": {"name": "length"},
      "symbol": {"name": "symbol"}
    }},
    "Gene": {"name": "Gene", "extends": ["SequenceFeature", "BioEntity"], "attributes": {
      "briefDescription": {"name": "briefDescription"}
    }},
    "Gene.Alias": {"name": "Gene.Alias", "extends": [], "attributes": {}}
  }
}`

func testModelValue() *Model {
	raw := gjson.Parse(testModel)
	return &Model{Name: raw.Get("name").String(), raw: raw}
}

func TestModelAttributesInherited(t *testing.T) {
	m := testModelValue()

	attrs, err := m.Attributes("Gene")
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	want := []string{"briefDescription", "length", "symbol", "primaryIdentifier"}
	if strings.Join(attrs, ",") != strings.Join(want, ",") {
		t.Errorf("Attributes(Gene) = %v, want %v", attrs, want)
	}
}

func TestModelClassWithDotInName(t *testing.T) {
	m := testModelValue()
	if !m.HasClass("Gene.Alias") {
		t.Error("expected class names to be matched literally")
	}
	if m.HasClass("Protein") {
		t.Error("expected Protein to be unknown")
	}
	if _, err := m.Attributes("Protein"); err == nil {
		t.Error("expected error for unknown class")
	}
}

func decodeQuery(t *testing.T, s string) pathQuery {
	t.Helper()
	var pq pathQuery
	if err := xml.Unmarshal([]byte(s), &pq); err != nil {
		t.Fatalf("invalid query XML %q: %v", s, err)
	}
	return pq
}

func TestCompileQueryStar(t *testing.T) {
	q := mine.Query{
		Select: []string{"*"},
		From:   "Gene",
		Where:  map[string]mine.Constraint{"Gene": {Op: "IN", Value: "my list"}},
	}

	out, err := compileQuery(testModelValue(), q)
	if err != nil {
		t.Fatalf("compileQuery: %v", err)
	}
	pq := decodeQuery(t, out)

	if pq.Model != "genomic" {
		t.Errorf("model = %q", pq.Model)
	}
	if pq.View != "Gene.briefDescription Gene.length Gene.symbol Gene.primaryIdentifier" {
		t.Errorf("view = %q", pq.View)
	}
	if len(pq.Constraints) != 1 {
		t.Fatalf("expected 1 constraint, got %d", len(pq.Constraints))
	}
	c := pq.Constraints[0]
	if c.Path != "Gene" || c.Op != "IN" || c.Value != "my list" || c.Code != "A" {
		t.Errorf("unexpected constraint %+v", c)
	}
}

func TestCompileQueryPaths(t *testing.T) {
	q := mine.Query{
		Select: []string{"symbol", "Gene.length", "organism.name"},
		From:   "Gene",
		Where: map[string]mine.Constraint{
			"Gene.symbol": {Op: "=", Value: "eve"},
			"Gene":        {Op: "IN", Value: "L"},
		},
	}

	out, err := compileQuery(testModelValue(), q)
	if err != nil {
		t.Fatalf("compileQuery: %v", err)
	}
	pq := decodeQuery(t, out)

	if pq.View != "Gene.symbol Gene.length Gene.organism.name" {
		t.Errorf("view = %q", pq.View)
	}
	if len(pq.Constraints) != 2 || pq.Constraints[0].Path != "Gene" || pq.Constraints[1].Path != "Gene.symbol" {
		t.Fatalf("expected constraints sorted by path, got %+v", pq.Constraints)
	}
	if pq.Constraints[0].Code != "A" || pq.Constraints[1].Code != "B" {
		t.Errorf("unexpected codes %+v", pq.Constraints)
	}
}

func TestCompileQueryEscapesValues(t *testing.T) {
	q := mine.Query{
		Select: []string{"symbol"},
		From:   "Gene",
		Where:  map[string]mine.Constraint{"Gene": {Op: "IN", Value: `a "quoted" <list> & more`}},
	}
	out, err := compileQuery(testModelValue(), q)
	if err != nil {
		t.Fatalf("compileQuery: %v", err)
	}
	if pq := decodeQuery(t, out); pq.Constraints[0].Value != `a "quoted" <list> & more` {
		t.Errorf("value did not survive a round trip: %q", pq.Constraints[0].Value)
	}
}

func TestCompileQueryErrors(t *testing.T) {
	m := testModelValue()

	if _, err := compileQuery(m, mine.Query{Select: []string{"*"}}); err == nil {
		t.Error("expected error without a root class")
	}
	if _, err := compileQuery(m, mine.Query{From: "Gene"}); err == nil {
		t.Error("expected error for an empty selection")
	}
	if _, err := compileQuery(m, mine.Query{Select: []string{"*"}, From: "Protein"}); err == nil {
		t.Error("expected error for * on an unknown class")
	}

	where := map[string]mine.Constraint{}
	for i := 0; i < 27; i++ {
		where["Gene.f"+string(rune('a'+i%26))+strings.Repeat("x", i/26)] = mine.Constraint{Op: "=", Value: "v"}
	}
	if _, err := compileQuery(m, mine.Query{Select: []string{"symbol"}, From: "Gene", Where: where}); err == nil {
		t.Error("expected error for more constraints than codes")
	}
}

func TestSeekResults(t *testing.T) {
	body := `{"modelName":"genomic","views":["Gene.symbol"],"nested":{"results":[1]},"results":[{"a":1},{"a":2}],"wasSuccessful":true}`
	dec := json.NewDecoder(strings.NewReader(body))

	if err := seekResults(dec); err != nil {
		t.Fatalf("seekResults: %v", err)
	}
	var got []string
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			t.Fatal(err)
		}
		got = append(got, string(raw))
	}
	if strings.Join(got, "|") != `{"a":1}|{"a":2}` {
		t.Errorf("unexpected records %v", got)
	}
}

func TestSeekResultsErrors(t *testing.T) {
	tests := map[string]string{
		"not an object": `[1,2]`,
		"missing":       `{"wasSuccessful":true}`,
		"not an array":  `{"results":{"a":1}}`,
		"truncated":     `{"results"`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if err := seekResults(json.NewDecoder(strings.NewReader(body))); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func drainRecords(t *testing.T, body string) error {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	if err := seekResults(dec); err != nil {
		t.Fatalf("seekResults: %v", err)
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
	}
	return readTrailer(dec)
}

func TestReadTrailer(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"success", `{"results":[{"a":1}],"wasSuccessful":true,"statusCode":200}`, ""},
		{"no trailer", `{"results":[]}`, ""},
		{"unknown fields", `{"results":[],"executionTime":"2024.01.01 10:00::00","extra":{"x":[1]}}`, ""},
		{"failed midway", `{"results":[{"a":1}],"wasSuccessful":false,"error":"query failed midway","statusCode":500}`, "query failed midway"},
		{"failed without message", `{"results":[],"wasSuccessful":false}`, "query failed"},
		{"truncated array", `{"results":[{"a":1}`, "truncated"},
		{"truncated object", `{"results":[{"a":1}],"wasSuccessful":true`, "truncated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := drainRecords(t, tt.body)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected success, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestReadTrailerStatus(t *testing.T) {
	err := drainRecords(t, `{"results":[],"wasSuccessful":false,"error":"bad","statusCode":200}`)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != 500 {
		t.Errorf("expected a 500 APIError for a failure reported with status 200, got %v", err)
	}

	err = drainRecords(t, `{"results":[],"wasSuccessful":false,"error":"gone","statusCode":404}`)
	if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != 404 {
		t.Errorf("expected the reported status to be kept, got %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	if err := checkStatus(200, nil); err != nil {
		t.Errorf("expected nil for 200, got %v", err)
	}

	err := checkStatus(404, []byte(`{"error":"no such list","wasSuccessful":false}`))
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Message != "no such list" {
		t.Fatalf("unexpected error %v", err)
	}

	err = checkStatus(502, []byte("<html>bad gateway</html>"))
	if apiErr, ok := err.(*APIError); !ok || apiErr.Message != "Bad Gateway" {
		t.Errorf("expected status text fallback, got %v", err)
	}
}
