package webservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"mineat/mine"
)

// Lists returns every list visible to the current token, public lists
// included.
func (c *Client) Lists(ctx context.Context) ([]*mine.List, error) {
	resp, err := c.MakeRequest(ctx, http.MethodGet, "lists", mine.Params{"format": "json"})
	if err != nil {
		return nil, err
	}

	raw := resp.Get("lists")
	if !raw.IsArray() {
		return nil, fmt.Errorf("lists missing from response")
	}

	var props []mine.Properties
	if err := json.Unmarshal([]byte(raw.Raw), &props); err != nil {
		return nil, fmt.Errorf("failed to decode lists: %w", err)
	}

	lists := make([]*mine.List, 0, len(props))
	for _, p := range props {
		l, err := mine.NewList(p, c)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, nil
}

// List returns the list called name, or nil when no such list is visible.
func (c *Client) List(ctx context.Context, name string) (*mine.List, error) {
	lists, err := c.Lists(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range lists {
		if l.Name == name {
			return l, nil
		}
	}
	return nil, nil
}

// Whoami returns the account the token belongs to. It fails with an error
// matching ErrUnauthorized for anonymous clients.
func (c *Client) Whoami(ctx context.Context) (*mine.User, error) {
	resp, err := c.MakeRequest(ctx, http.MethodGet, "user/whoami", mine.Params{"format": "json"})
	if err != nil {
		return nil, err
	}

	user := resp.Get("user")
	if !user.Exists() {
		return nil, fmt.Errorf("user missing from response")
	}

	prefs := make(map[string]string)
	user.Get("preferences").ForEach(func(k, v gjson.Result) bool {
		prefs[k.String()] = v.String()
		return true
	})
	return mine.NewUser(user.Get("username").String(), prefs, c), nil
}

// Version returns the web service API version.
func (c *Client) Version(ctx context.Context) (int, error) {
	resp, err := c.MakeRequest(ctx, http.MethodGet, "version", mine.Params{"format": "json"})
	if err != nil {
		return 0, err
	}
	if v := resp.Get("version"); v.Exists() {
		return int(v.Int()), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(resp.Body)))
	if err != nil {
		return 0, fmt.Errorf("unexpected version response %q", string(resp.Body))
	}
	return n, nil
}

// Release returns the mine's data release label.
func (c *Client) Release(ctx context.Context) (string, error) {
	resp, err := c.MakeRequest(ctx, http.MethodGet, "version/release", mine.Params{"format": "json"})
	if err != nil {
		return "", err
	}
	if v := resp.Get("version"); v.Exists() {
		return v.String(), nil
	}
	return strings.TrimSpace(string(resp.Body)), nil
}
