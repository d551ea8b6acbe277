package webservice_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mineat/internal/testutil"
	"mineat/mine"
	"mineat/mine/webservice"
)

const testToken = "ws-token"

func newTestClient(t *testing.T, m *testutil.MockMine, token string) *webservice.Client {
	t.Helper()
	c, err := webservice.New(webservice.Config{BaseURL: m.URL(), Token: token, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func seed(m *testutil.MockMine) {
	m.AddList(mine.Properties{
		ID:      7,
		Name:    "my-genes",
		Type:    "Gene",
		Tags:    []string{"__folder__:a", "__folder__:b:c", "plain"},
		Created: "2023-11-02T10:00:00+0100",
	},
		`{"class":"Gene","objectId":10,"symbol":"eve"}`,
		`{"class":"Gene","objectId":11,"symbol":"ftz"}`,
	)
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := webservice.New(webservice.Config{}); err == nil {
		t.Error("expected error for empty base URL")
	}
	if _, err := webservice.New(webservice.Config{BaseURL: "ftp://example.org"}); err == nil {
		t.Error("expected error for non-http scheme")
	}
}

func TestBaseURLNormalization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.flymine.org/flymine", "https://www.flymine.org/flymine/service/"},
		{"https://www.flymine.org/flymine/", "https://www.flymine.org/flymine/service/"},
		{"https://www.flymine.org/flymine/service", "https://www.flymine.org/flymine/service/"},
		{"https://www.flymine.org/flymine/service/", "https://www.flymine.org/flymine/service/"},
		{"http://localhost:8080", "http://localhost:8080/service/"},
	}
	for _, tt := range tests {
		c, err := webservice.New(webservice.Config{BaseURL: tt.in})
		if err != nil {
			t.Fatalf("New(%q): %v", tt.in, err)
		}
		if got := c.BaseURL(); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MINEAT_BASE_URL", "https://example.org/mine")
	t.Setenv("MINEAT_TOKEN", "abc")

	cfg := webservice.ConfigFromEnv()
	if cfg.BaseURL != "https://example.org/mine" || cfg.Token != "abc" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLists(t *testing.T) {
	m := testutil.NewMockMine(t, testToken, "u")
	seed(m)
	c := newTestClient(t, m, testToken)

	lists, err := c.Lists(context.Background())
	if err != nil {
		t.Fatalf("Lists: %v", err)
	}
	if len(lists) != 1 {
		t.Fatalf("expected 1 list, got %d", len(lists))
	}
	l := lists[0]
	if l.Name != "my-genes" || l.Type != "Gene" || l.Size != 2 || l.ID != 7 {
		t.Errorf("unexpected list: %+v", l)
	}
	if len(l.Folders) != 2 || l.Folders[0] != "a" || l.Folders[1] != "b:c" {
		t.Errorf("unexpected folders %v", l.Folders)
	}
	if l.DateCreated == nil || l.DateCreated.UTC().Hour() != 9 {
		t.Errorf("unexpected date %v", l.DateCreated)
	}
	if l.Service() != mine.Service(c) {
		t.Error("expected list to hold the client as its service")
	}
}

func TestListByName(t *testing.T) {
	m := testutil.NewMockMine(t, "", "")
	seed(m)
	c := newTestClient(t, m, "")

	l, err := c.List(context.Background(), "my-genes")
	if err != nil || l == nil {
		t.Fatalf("List: %v, %v", l, err)
	}

	missing, err := c.List(context.Background(), "nope")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing list, got %+v", missing)
	}
}

func TestListDelete(t *testing.T) {
	m := testutil.NewMockMine(t, testToken, "u")
	seed(m)
	c := newTestClient(t, m, testToken)

	l, err := c.List(context.Background(), "my-genes")
	if err != nil || l == nil {
		t.Fatalf("List: %v, %v", l, err)
	}

	resp, err := l.Delete(context.Background()).Result()
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !resp.WasSuccessful() {
		t.Error("expected successful response")
	}
	if m.HasList("my-genes") {
		t.Error("expected list to be gone from the server")
	}
	if l.Name != "my-genes" || l.Size != 2 {
		t.Error("expected the local list to stay as it was")
	}

	reqs := m.RequestsTo(http.MethodDelete, "lists")
	if len(reqs) != 1 || reqs[0].Form.Get("name") != "my-genes" {
		t.Errorf("unexpected delete requests: %+v", reqs)
	}
}

func TestListDeleteMissingIsNotFound(t *testing.T) {
	m := testutil.NewMockMine(t, testToken, "u")
	seed(m)
	c := newTestClient(t, m, testToken)

	l, _ := c.List(context.Background(), "my-genes")
	if _, err := l.Delete(context.Background()).Result(); err != nil {
		t.Fatalf("first Delete: %v", err)
	}

	var failed error
	_, err := l.Delete(context.Background()).OnFailure(func(err error) { failed = err }).Result()
	if !errors.Is(err, webservice.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if failed != err {
		t.Errorf("expected failure handler to see %v, got %v", err, failed)
	}
}

func TestListContents(t *testing.T) {
	m := testutil.NewMockMine(t, "", "")
	seed(m)
	c := newTestClient(t, m, "")

	l, _ := c.List(context.Background(), "my-genes")

	var symbols []string
	n, err := l.Contents(context.Background(), func(r mine.Record) error {
		if r.Class() != "Gene" {
			t.Errorf("unexpected class %q", r.Class())
		}
		symbols = append(symbols, r.String("symbol"))
		return nil
	}).Result()
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if n != 2 || len(symbols) != 2 || symbols[0] != "eve" || symbols[1] != "ftz" {
		t.Errorf("unexpected contents n=%d symbols=%v", n, symbols)
	}

	if len(m.RequestsTo(http.MethodGet, "model")) != 1 {
		t.Error("expected the model to be fetched once per query")
	}
}

func TestListContentsCallbackErrorStops(t *testing.T) {
	m := testutil.NewMockMine(t, "", "")
	seed(m)
	c := newTestClient(t, m, "")
	l, _ := c.List(context.Background(), "my-genes")

	stop := errors.New("stop")
	calls := 0
	_, err := l.Contents(context.Background(), func(mine.Record) error {
		calls++
		return stop
	}).Result()
	if !errors.Is(err, stop) {
		t.Errorf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected iteration to stop after 1 record, got %d", calls)
	}
}

func TestListContentsFailureAfterRecords(t *testing.T) {
	m := testutil.NewMockMine(t, "", "")
	seed(m)
	m.FailQueryMidway(1, "query failed midway")
	c := newTestClient(t, m, "")
	l, _ := c.List(context.Background(), "my-genes")

	var symbols []string
	_, err := l.Contents(context.Background(), func(r mine.Record) error {
		symbols = append(symbols, r.String("symbol"))
		return nil
	}).Result()

	var apiErr *webservice.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 || apiErr.Message != "query failed midway" {
		t.Fatalf("expected the trailing failure to surface, got %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "eve" {
		t.Errorf("expected the record sent before the failure, got %v", symbols)
	}
}

func TestQueryUnknownClass(t *testing.T) {
	m := testutil.NewMockMine(t, "", "")
	c := newTestClient(t, m, "")

	_, err := c.Query(context.Background(), mine.Query{Select: []string{"*"}, From: "Nope"})
	if err == nil || !strings.Contains(err.Error(), `class "Nope"`) {
		t.Errorf("expected unknown class error, got %v", err)
	}
}

func TestQueryServerError(t *testing.T) {
	m := testutil.NewMockMine(t, "", "")
	seed(m)
	m.FailPath("query/results", http.StatusInternalServerError, "database exploded")
	c := newTestClient(t, m, "")
	l, _ := c.List(context.Background(), "my-genes")

	_, err := l.Contents(context.Background(), nil).Result()
	var apiErr *webservice.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 || apiErr.Message != "database exploded" {
		t.Errorf("expected APIError 500, got %v", err)
	}
}

func TestEnrichment(t *testing.T) {
	m := testutil.NewMockMine(t, "", "")
	seed(m)
	m.SetEnrichment("pathway_enrichment", testutil.MockEnrichment{
		Title: "Pathway Enrichment",
		Items: []mine.EnrichmentItem{{Identifier: "P1", Description: "Wnt", PValue: 0.001, Matches: 2}},
	})
	c := newTestClient(t, m, "")
	l, _ := c.List(context.Background(), "my-genes")

	data := mine.Params{"widget": "pathway_enrichment", "maxp": "0.05"}
	res, err := l.Enrichment(context.Background(), data).Result()
	if err != nil {
		t.Fatalf("Enrichment: %v", err)
	}
	if res.Title != "Pathway Enrichment" || res.PValueLimit != 0.05 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(res.Items) != 1 || res.Items[0].Identifier != "P1" || res.Items[0].Matches != 2 {
		t.Errorf("unexpected items: %+v", res.Items)
	}
	if _, ok := data["list"]; ok {
		t.Error("expected caller's params to be left alone")
	}

	reqs := m.RequestsTo(http.MethodPost, "list/enrichment")
	if len(reqs) != 1 || reqs[0].Form.Get("list") != "my-genes" || reqs[0].Form.Get("format") != "json" {
		t.Errorf("unexpected enrichment requests: %+v", reqs)
	}
}

func TestWhoamiAndPreferences(t *testing.T) {
	m := testutil.NewMockMine(t, testToken, "someone@example.org")
	m.SetPreference("colour", "blue")
	c := newTestClient(t, m, testToken)
	ctx := context.Background()

	u, err := c.Whoami(ctx)
	if err != nil {
		t.Fatalf("Whoami: %v", err)
	}
	if u.Username != "someone@example.org" {
		t.Errorf("unexpected username %q", u.Username)
	}
	if v, _ := u.Preference("colour"); v != "blue" {
		t.Errorf("expected colour preference, got %q", v)
	}

	prefs, err := u.SetPreference(ctx, "size", "large").Result()
	if err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if prefs["size"] != "large" || prefs["colour"] != "blue" {
		t.Errorf("unexpected preferences %v", prefs)
	}
	if v, _ := u.Preference("size"); v != "large" {
		t.Error("expected local preferences refreshed")
	}

	if _, err := u.ClearPreference(ctx, "colour").Result(); err != nil {
		t.Fatalf("ClearPreference: %v", err)
	}
	if _, ok := u.Preference("colour"); ok {
		t.Error("expected colour cleared locally")
	}
	if _, ok := m.Preferences()["colour"]; ok {
		t.Error("expected colour cleared on the server")
	}
}

func TestWhoamiAnonymous(t *testing.T) {
	m := testutil.NewMockMine(t, testToken, "u")
	c := newTestClient(t, m, "")

	_, err := c.Whoami(context.Background())
	if !errors.Is(err, webservice.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestBadToken(t *testing.T) {
	m := testutil.NewMockMine(t, testToken, "u")
	c := newTestClient(t, m, "not-the-token")

	_, err := c.Lists(context.Background())
	var apiErr *webservice.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Invalid token" {
		t.Errorf("expected APIError with server message, got %v", err)
	}
	if !errors.Is(err, webservice.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVersionAndRelease(t *testing.T) {
	m := testutil.NewMockMine(t, "", "")
	c := newTestClient(t, m, "")

	v, err := c.Version(context.Background())
	if err != nil || v != 33 {
		t.Errorf("Version = %d, %v", v, err)
	}
	r, err := c.Release(context.Background())
	if err != nil || r != "TestMine 1.0" {
		t.Errorf("Release = %q, %v", r, err)
	}
}

func TestVersionPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("31\n"))
	}))
	defer srv.Close()

	c, err := webservice.New(webservice.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Version(context.Background())
	if err != nil || v != 31 {
		t.Errorf("Version = %d, %v", v, err)
	}
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"wasSuccessful":true}`))
	}))
	defer srv.Close()

	c, err := webservice.New(webservice.Config{BaseURL: srv.URL, Token: "t0k", UserAgent: "tests/1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.MakeRequest(context.Background(), http.MethodGet, "anything", nil); err != nil {
		t.Fatal(err)
	}
	if got.Get("Authorization") != "Token t0k" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get("User-Agent") != "tests/1" {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
	if got.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID")
	}
}

func TestContextCancelled(t *testing.T) {
	m := testutil.NewMockMine(t, "", "")
	c := newTestClient(t, m, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Lists(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
