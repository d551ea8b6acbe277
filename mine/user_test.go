package mine

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
)

// prefsService keeps a preference map the way a mine does.
type prefsService struct {
	mu    sync.Mutex
	prefs map[string]string
	calls []requestCall
}

func (s *prefsService) MakeRequest(ctx context.Context, method, path string, params Params) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, requestCall{Method: method, Path: path, Params: params})

	if path != "user/preferences" {
		return nil, errors.New("unexpected path " + path)
	}
	switch method {
	case http.MethodPut:
		for k, v := range params {
			s.prefs[k] = v
		}
	case http.MethodDelete:
		delete(s.prefs, params["key"])
	default:
		return nil, errors.New("unexpected method " + method)
	}

	keys := make([]string, 0, len(s.prefs))
	for k := range s.prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`{"preferences":{`)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`"` + k + `":"` + s.prefs[k] + `"`)
	}
	b.WriteString(`},"wasSuccessful":true}`)
	return &Response{StatusCode: http.StatusOK, Body: []byte(b.String())}, nil
}

func (s *prefsService) Query(ctx context.Context, q Query) (QueryResult, error) {
	return nil, errors.New("not supported")
}

func (s *prefsService) Enrichment(ctx context.Context, params Params) (*EnrichmentResult, error) {
	return nil, errors.New("not supported")
}

func newPrefsUser() (*User, *prefsService) {
	svc := &prefsService{prefs: map[string]string{}}
	return NewUser("test-user", nil, svc), svc
}

func TestUser_SetAndClearPreference(t *testing.T) {
	ctx := context.Background()
	user, svc := newPrefsUser()

	err := Then(ctx, user.SetPreference(ctx, "testPref", "TestPrefVal").
		OnSuccess(func(map[string]string) {
			if v, _ := user.Preference("testPref"); v != "TestPrefVal" {
				t.Errorf("testPref = %q after set", v)
			}
		}),
		func(ctx context.Context, _ map[string]string) (map[string]string, error) {
			return user.ClearPreference(ctx, "testPref").Result()
		}).Err()
	if err != nil {
		t.Fatalf("set/clear error = %v", err)
	}

	if _, ok := user.Preference("testPref"); ok {
		t.Error("testPref should be unset")
	}
	if len(svc.calls) != 2 {
		t.Errorf("expected 2 requests, got %d", len(svc.calls))
	}
}

func TestUser_SetPreferencesMap(t *testing.T) {
	ctx := context.Background()
	user, svc := newPrefsUser()
	args := map[string]string{"testPrefA": "TestPrefValA", "testPrefB": "TestPrefValB"}

	prefs, err := user.SetPreferences(ctx, args).Result()
	if err != nil {
		t.Fatalf("SetPreferences() error = %v", err)
	}
	if prefs["testPrefA"] != "TestPrefValA" || prefs["testPrefB"] != "TestPrefValB" {
		t.Errorf("preferences = %v", prefs)
	}
	if len(svc.calls) != 1 {
		t.Errorf("multiple preferences should be set in one request, got %d", len(svc.calls))
	}

	var clears []*Pending[map[string]string]
	for k := range args {
		clears = append(clears, user.ClearPreference(ctx, k))
	}
	if err := All(ctx, clears...).Err(); err != nil {
		t.Fatalf("clear error = %v", err)
	}
	for k := range args {
		if v, ok := user.Preference(k); ok {
			t.Errorf("%s is still set: %q", k, v)
		}
	}
}

func TestUser_SetPreferencePairs(t *testing.T) {
	ctx := context.Background()
	user, _ := newPrefsUser()

	_, err := user.SetPreferencePairs(ctx, [][2]string{{"testPrefA", "TestPrefValA"}, {"testPrefB", "TestPrefValB"}}).Result()
	if err != nil {
		t.Fatalf("SetPreferencePairs() error = %v", err)
	}
	if v, _ := user.Preference("testPrefA"); v != "TestPrefValA" {
		t.Errorf("testPrefA = %q", v)
	}
	if v, _ := user.Preference("testPrefB"); v != "TestPrefValB" {
		t.Errorf("testPrefB = %q", v)
	}
}

func TestUser_PreferencesIsCopy(t *testing.T) {
	user := NewUser("u", map[string]string{"a": "1"}, nil)

	prefs := user.Preferences()
	prefs["a"] = "changed"

	if v, _ := user.Preference("a"); v != "1" {
		t.Errorf("mutating the copy changed the user: %q", v)
	}
}

func TestUser_MissingPreferencesInResponse(t *testing.T) {
	svc := &fakeService{response: &Response{StatusCode: http.StatusOK, Body: []byte(`{"wasSuccessful":true}`)}}
	user := NewUser("u", map[string]string{"a": "1"}, svc)

	if err := user.SetPreference(context.Background(), "b", "2").Err(); err == nil {
		t.Error("expected an error when the response has no preferences")
	}
	if v, _ := user.Preference("a"); v != "1" {
		t.Error("local preferences should be kept on failure")
	}
}
