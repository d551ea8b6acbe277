package mine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/jinzhu/copier"
)

const (
	// FolderTagPrefix marks tags of the form "__folder__:<name>".
	FolderTagPrefix = "__folder__"

	listsPath = "lists"
)

// dateLayouts are the timestamp shapes mines have been seen to emit.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Properties is the list metadata a mine returns for one list. Created holds
// the raw "dateCreated" value.
type Properties struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Size        int      `json:"size"`
	Authorized  bool     `json:"authorized"`
	Tags        []string `json:"tags"`
	Created     string   `json:"dateCreated"`
}

// List is a named, typed collection of records owned by the server.
//
// A List is a snapshot: Delete removes the server-side list but leaves this
// value untouched, and Folders is not recomputed if Tags is changed.
type List struct {
	ID          int
	Name        string
	Type        string
	Title       string
	Description string
	Status      string
	Size        int
	Authorized  bool
	Tags        []string
	Folders     []string
	DateCreated *time.Time

	service Service
}

// NewList builds a List from server metadata. svc is borrowed, never closed.
func NewList(props Properties, svc Service) (*List, error) {
	l := &List{service: svc}
	if err := copier.Copy(l, &props); err != nil {
		return nil, fmt.Errorf("failed to copy properties of list %q: %w", props.Name, err)
	}
	l.DateCreated = parseDate(props.Created)
	l.Folders = folderNames(l.Tags)
	return l, nil
}

func isFolderTag(tag string) bool {
	i := strings.Index(tag, ":")
	if i < 0 {
		return false
	}
	return tag[:i] == FolderTagPrefix
}

func folderName(tag string) string {
	return tag[strings.Index(tag, ":")+1:]
}

func folderNames(tags []string) []string {
	return xslices.Map(xslices.Filter(tags, isFolderTag), folderName)
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// Service returns the service this list delegates to.
func (l *List) Service() Service {
	return l.service
}

// HasTag reports whether tag is exactly one of the list's tags.
func (l *List) HasTag(tag string) bool {
	return xslices.IndexFunc(l.Tags, func(t string) bool { return t == tag }) != -1
}

// InFolder reports whether the list was filed under folder.
func (l *List) InFolder(folder string) bool {
	return xslices.IndexFunc(l.Folders, func(f string) bool { return f == folder }) != -1
}

// Delete removes the list from the server.
func (l *List) Delete(ctx context.Context) *Pending[*Response] {
	name := l.Name
	return Go(ctx, func(ctx context.Context) (*Response, error) {
		return l.service.MakeRequest(ctx, http.MethodDelete, listsPath, Params{"name": name})
	})
}

// ContentsQuery is the query Contents issues: every field of the list's type,
// restricted to members of the list.
func (l *List) ContentsQuery() Query {
	return Query{
		Select: []string{"*"},
		From:   l.Type,
		Where:  map[string]Constraint{l.Type: {Op: "IN", Value: l.Name}},
	}
}

// Contents streams the list's members to fn, one call per record. The handle
// resolves with the number of records delivered. fn may be nil.
func (l *List) Contents(ctx context.Context, fn func(Record) error) *Pending[int] {
	if fn == nil {
		fn = func(Record) error { return nil }
	}
	q := l.ContentsQuery()
	return Go(ctx, func(ctx context.Context) (int, error) {
		res, err := l.service.Query(ctx, q)
		if err != nil {
			return 0, err
		}
		n := 0
		err = res.Records(ctx, func(r Record) error {
			n++
			return fn(r)
		})
		return n, err
	})
}

// Enrichment runs an enrichment analysis over the list's members. data is
// copied and the copy gets a "list" parameter naming this list.
func (l *List) Enrichment(ctx context.Context, data Params) *Pending[*EnrichmentResult] {
	params := data.Clone()
	params["list"] = l.Name
	return Go(ctx, func(ctx context.Context) (*EnrichmentResult, error) {
		return l.service.Enrichment(ctx, params)
	})
}
