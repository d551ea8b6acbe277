package testutil

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"mineat/mine"
)

// MockMinePath is the mine root the mock serves under.
const MockMinePath = "/testmine"

// MockRequest is one request the mock received.
type MockRequest struct {
	Method string
	Path   string // relative to the service root, e.g. "lists"
	Form   url.Values
	Header http.Header
}

// MockClass is a class of the mock data model.
type MockClass struct {
	Extends    []string
	Attributes []string
}

// MockEnrichment is the canned answer of one enrichment widget.
type MockEnrichment struct {
	Title string
	Items []mine.EnrichmentItem
}

type mockFailure struct {
	status  int
	message string
}

// MockMine is an httptest server speaking the subset of the mine web service
// API mineat uses. It is safe for concurrent use.
type MockMine struct {
	server *httptest.Server

	mu          sync.Mutex
	token       string
	username    string
	lists       []mine.Properties
	members     map[string][]string
	classes     map[string]MockClass
	preferences map[string]string
	enrichment  map[string]MockEnrichment
	failures    map[string]mockFailure
	deleteFails map[string]mockFailure
	midway      *mockMidwayFailure
	requests    []MockRequest
	version     int
	release     string
}

// NewMockMine starts a mock mine. Requests must carry token when it is not
// empty; user endpoints always require it. The server is closed with the test.
func NewMockMine(t interface{ Cleanup(func()) }, token, username string) *MockMine {
	m := &MockMine{
		token:       token,
		username:    username,
		members:     make(map[string][]string),
		classes:     make(map[string]MockClass),
		preferences: make(map[string]string),
		enrichment:  make(map[string]MockEnrichment),
		failures:    make(map[string]mockFailure),
		deleteFails: make(map[string]mockFailure),
		version:     33,
		release:     "TestMine 1.0",
	}
	m.classes["BioEntity"] = MockClass{Attributes: []string{"primaryIdentifier", "symbol"}}
	m.classes["Gene"] = MockClass{Extends: []string{"BioEntity"}, Attributes: []string{"length"}}
	m.classes["Protein"] = MockClass{Extends: []string{"BioEntity"}, Attributes: []string{"molecularWeight"}}

	m.server = httptest.NewServer(http.HandlerFunc(m.handler))
	t.Cleanup(m.server.Close)
	return m
}

// URL is the mine root to configure clients with.
func (m *MockMine) URL() string {
	return m.server.URL + MockMinePath
}

// Close stops the server.
func (m *MockMine) Close() {
	m.server.Close()
}

// AddList registers a list and its member records (raw JSON objects).
func (m *MockMine) AddList(props mine.Properties, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if props.Size == 0 {
		props.Size = len(members)
	}
	m.lists = append(m.lists, props)
	m.members[props.Name] = members
}

// HasList reports whether the mock still holds the named list.
func (m *MockMine) HasList(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexOfList(name) >= 0
}

// AddClass adds a class to the data model.
func (m *MockMine) AddClass(name string, class MockClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[name] = class
}

// SetPreference seeds a user preference.
func (m *MockMine) SetPreference(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[key] = value
}

// Preferences returns a copy of the server-side preferences.
func (m *MockMine) Preferences() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.preferences))
	for k, v := range m.preferences {
		out[k] = v
	}
	return out
}

// SetEnrichment sets the answer of widget.
func (m *MockMine) SetEnrichment(widget string, e MockEnrichment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrichment[widget] = e
}

// FailPath makes every request to path answer with status and message.
func (m *MockMine) FailPath(path string, status int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = mockFailure{status: status, message: message}
}

// FailDelete makes deleting the named list answer with status and message.
// Other lists are deleted normally.
func (m *MockMine) FailDelete(name string, status int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteFails[name] = mockFailure{status: status, message: message}
}

type mockMidwayFailure struct {
	after   int
	message string
}

// FailQueryMidway makes query results stop after the first after records and
// report message in the fields that follow them, with status 200.
func (m *MockMine) FailQueryMidway(after int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.midway = &mockMidwayFailure{after: after, message: message}
}

// Requests returns every request received so far.
func (m *MockMine) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// RequestsTo returns the requests received for path.
func (m *MockMine) RequestsTo(method, path string) []MockRequest {
	var out []MockRequest
	for _, r := range m.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (m *MockMine) indexOfList(name string) int {
	for i, l := range m.lists {
		if l.Name == name {
			return i
		}
	}
	return -1
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"wasSuccessful": false,
		"error":         msg,
		"statusCode":    status,
	})
}

func (m *MockMine) handler(w http.ResponseWriter, r *http.Request) {
	prefix := MockMinePath + "/service/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusNotFound, "no such resource")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, prefix)

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, MockRequest{
		Method: r.Method,
		Path:   path,
		Form:   r.Form,
		Header: r.Header.Clone(),
	})

	if f, ok := m.failures[path]; ok {
		writeError(w, f.status, f.message)
		return
	}

	authed := false
	if auth := r.Header.Get("Authorization"); auth != "" {
		if m.token == "" || auth != "Token "+m.token {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		authed = true
	}

	switch {
	case path == "lists" && r.Method == http.MethodGet:
		m.handleLists(w)
	case path == "lists" && r.Method == http.MethodDelete:
		if !authed {
			writeError(w, http.StatusUnauthorized, "Deleting lists requires authentication")
			return
		}
		m.handleDeleteList(w, r)
	case path == "model":
		m.handleModel(w)
	case path == "query/results" && r.Method == http.MethodPost:
		m.handleQuery(w, r)
	case path == "list/enrichment" && r.Method == http.MethodPost:
		m.handleEnrichment(w, r)
	case path == "user/whoami":
		if !authed {
			writeError(w, http.StatusUnauthorized, "This service requires authentication")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"wasSuccessful": true,
			"user": map[string]interface{}{
				"username":    m.username,
				"preferences": m.preferences,
			},
		})
	case path == "user/preferences":
		if !authed {
			writeError(w, http.StatusUnauthorized, "This service requires authentication")
			return
		}
		m.handlePreferences(w, r)
	case path == "version":
		writeJSON(w, http.StatusOK, map[string]interface{}{"wasSuccessful": true, "version": m.version})
	case path == "version/release":
		writeJSON(w, http.StatusOK, map[string]interface{}{"wasSuccessful": true, "version": m.release})
	default:
		writeError(w, http.StatusNotFound, "no such resource: "+path)
	}
}

func (m *MockMine) handleLists(w http.ResponseWriter) {
	lists := make([]map[string]interface{}, 0, len(m.lists))
	for _, l := range m.lists {
		entry := map[string]interface{}{
			"id":          l.ID,
			"name":        l.Name,
			"type":        l.Type,
			"title":       l.Title,
			"description": l.Description,
			"status":      l.Status,
			"size":        l.Size,
			"authorized":  l.Authorized,
			"tags":        l.Tags,
		}
		if l.Created != "" {
			entry["dateCreated"] = l.Created
		}
		if l.Tags == nil {
			entry["tags"] = []string{}
		}
		lists = append(lists, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"wasSuccessful": true, "lists": lists})
}

func (m *MockMine) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	name := r.Form.Get("name")
	if f, ok := m.deleteFails[name]; ok {
		writeError(w, f.status, f.message)
		return
	}
	i := m.indexOfList(name)
	if i < 0 {
		writeError(w, http.StatusNotFound, "list not found: "+name)
		return
	}
	m.lists = append(m.lists[:i], m.lists[i+1:]...)
	delete(m.members, name)
	writeJSON(w, http.StatusOK, map[string]interface{}{"wasSuccessful": true, "listName": name})
}

func (m *MockMine) handleModel(w http.ResponseWriter) {
	classes := make(map[string]interface{}, len(m.classes))
	for name, c := range m.classes {
		attrs := make(map[string]interface{}, len(c.Attributes))
		for _, a := range c.Attributes {
			attrs[a] = map[string]string{"name": a, "type": "java.lang.String"}
		}
		extends := c.Extends
		if extends == nil {
			extends = []string{}
		}
		classes[name] = map[string]interface{}{
			"name":       name,
			"extends":    extends,
			"attributes": attrs,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wasSuccessful": true,
		"model":         map[string]interface{}{"name": "genomic", "classes": classes},
	})
}

type mockPathQuery struct {
	Model       string `xml:"model,attr"`
	View        string `xml:"view,attr"`
	Constraints []struct {
		Path  string `xml:"path,attr"`
		Op    string `xml:"op,attr"`
		Value string `xml:"value,attr"`
	} `xml:"constraint"`
}

// handleQuery supports the one query shape list contents need: members of a
// list selected by an IN constraint.
func (m *MockMine) handleQuery(w http.ResponseWriter, r *http.Request) {
	var pq mockPathQuery
	if err := xml.Unmarshal([]byte(r.Form.Get("query")), &pq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}
	if pq.View == "" {
		writeError(w, http.StatusBadRequest, "query has no view")
		return
	}

	var results []json.RawMessage
	for _, c := range pq.Constraints {
		if c.Op != "IN" {
			continue
		}
		if m.indexOfList(c.Value) < 0 {
			writeError(w, http.StatusBadRequest, "list not found: "+c.Value)
			return
		}
		for _, raw := range m.members[c.Value] {
			results = append(results, json.RawMessage(raw))
		}
	}
	if results == nil {
		results = []json.RawMessage{}
	}
	if m.midway != nil {
		if len(results) > m.midway.after {
			results = results[:m.midway.after]
		}
		body, _ := json.Marshal(results)
		model, _ := json.Marshal(pq.Model)
		msg, _ := json.Marshal(m.midway.message)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"modelName":%s,"results":%s,"wasSuccessful":false,"error":%s,"statusCode":500}`, model, body, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"modelName":     pq.Model,
		"views":         strings.Fields(pq.View),
		"results":       results,
		"wasSuccessful": true,
		"statusCode":    http.StatusOK,
	})
}

func (m *MockMine) handleEnrichment(w http.ResponseWriter, r *http.Request) {
	list := r.Form.Get("list")
	if m.indexOfList(list) < 0 {
		writeError(w, http.StatusBadRequest, "list not found: "+list)
		return
	}
	widget := r.Form.Get("widget")
	e, ok := m.enrichment[widget]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown widget: "+widget)
		return
	}

	maxp := 1.0
	if v := r.Form.Get("maxp"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid maxp: "+v)
			return
		}
		maxp = p
	}

	results := []map[string]interface{}{}
	for _, it := range e.Items {
		if it.PValue > maxp {
			continue
		}
		results = append(results, map[string]interface{}{
			"identifier":  it.Identifier,
			"description": it.Description,
			"p-value":     it.PValue,
			"matches":     it.Matches,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wasSuccessful": true,
		"title":         e.Title,
		"pValue":        maxp,
		"results":       results,
	})
}

func (m *MockMine) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut, http.MethodPost:
		keys := make([]string, 0, len(r.PostForm))
		for k := range r.PostForm {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.preferences[k] = r.PostForm.Get(k)
		}
	case http.MethodDelete:
		key := r.Form.Get("key")
		if key == "" {
			writeError(w, http.StatusBadRequest, "key is required")
			return
		}
		delete(m.preferences, key)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wasSuccessful": true,
		"preferences":   m.preferences,
	})
}
