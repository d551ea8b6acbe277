package mine

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"
)

const preferencesPath = "user/preferences"

// User is the account a session is authenticated as.
//
// Unlike List, a User keeps its preferences in step with the server: every
// successful preference call replaces the local map with the one the server
// returns.
type User struct {
	Username string

	mu          sync.RWMutex
	preferences map[string]string
	service     Service
}

// NewUser builds a User. prefs is copied; svc is borrowed.
func NewUser(username string, prefs map[string]string, svc Service) *User {
	u := &User{Username: username, service: svc}
	u.replacePreferences(prefs)
	return u
}

// Preferences returns a copy of the user's preferences as last seen.
func (u *User) Preferences() map[string]string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make(map[string]string, len(u.preferences))
	for k, v := range u.preferences {
		out[k] = v
	}
	return out
}

// Preference returns a single preference.
func (u *User) Preference(key string) (string, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	v, ok := u.preferences[key]
	return v, ok
}

func (u *User) replacePreferences(prefs map[string]string) {
	copied := make(map[string]string, len(prefs))
	for k, v := range prefs {
		copied[k] = v
	}
	u.mu.Lock()
	u.preferences = copied
	u.mu.Unlock()
}

// SetPreference stores one preference on the server.
func (u *User) SetPreference(ctx context.Context, key, value string) *Pending[map[string]string] {
	return u.SetPreferences(ctx, map[string]string{key: value})
}

// SetPreferences stores several preferences in a single request.
func (u *User) SetPreferences(ctx context.Context, prefs map[string]string) *Pending[map[string]string] {
	return u.updatePreferences(ctx, http.MethodPut, Params(prefs).Clone())
}

// SetPreferencePairs is SetPreferences for ordered key/value pairs. A later
// pair wins over an earlier one with the same key.
func (u *User) SetPreferencePairs(ctx context.Context, pairs [][2]string) *Pending[map[string]string] {
	params := make(Params, len(pairs))
	for _, kv := range pairs {
		params[kv[0]] = kv[1]
	}
	return u.updatePreferences(ctx, http.MethodPut, params)
}

// ClearPreference removes one preference from the server.
func (u *User) ClearPreference(ctx context.Context, key string) *Pending[map[string]string] {
	return u.updatePreferences(ctx, http.MethodDelete, Params{"key": key})
}

func (u *User) updatePreferences(ctx context.Context, method string, params Params) *Pending[map[string]string] {
	return Go(ctx, func(ctx context.Context) (map[string]string, error) {
		resp, err := u.service.MakeRequest(ctx, method, preferencesPath, params)
		if err != nil {
			return nil, err
		}
		prefs := resp.Get("preferences")
		if !prefs.IsObject() {
			return nil, fmt.Errorf("preferences missing from %s response", method)
		}
		updated := make(map[string]string)
		prefs.ForEach(func(k, v gjson.Result) bool {
			updated[k.String()] = v.String()
			return true
		})
		u.replacePreferences(updated)
		return u.Preferences(), nil
	})
}
