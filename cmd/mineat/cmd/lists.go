package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/spf13/cobra"

	"mineat/internal/render"
	"mineat/internal/utils"
	"mineat/mine"
)

// listJSON is the JSON shape of one list
type listJSON struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Size        int      `json:"size"`
	Authorized  bool     `json:"authorized"`
	Tags        []string `json:"tags"`
	Folders     []string `json:"folders"`
	DateCreated string   `json:"date_created,omitempty"`
}

func listToJSON(l *mine.List) listJSON {
	out := listJSON{
		Name:        l.Name,
		Type:        l.Type,
		Title:       l.Title,
		Description: l.Description,
		Status:      l.Status,
		Size:        l.Size,
		Authorized:  l.Authorized,
		Tags:        l.Tags,
		Folders:     l.Folders,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if out.Folders == nil {
		out.Folders = []string{}
	}
	if l.DateCreated != nil {
		out.DateCreated = l.DateCreated.UTC().Format(time.RFC3339)
	}
	return out
}

// newListsCmd creates the 'lists' command
func newListsCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	listsCmd := &cobra.Command{
		Use:     "lists",
		Aliases: []string{"list", "ls"},
		Short:   "Show and manage lists",
		Long:    "Show the lists visible on the mine, or inspect, analyse and delete one with a subcommand.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, _ := cmd.Flags().GetString("folder")
			tag, _ := cmd.Flags().GetString("tag")
			return runTracked(cmd, cfg, stdout, false, func(ctx context.Context, s *session) error {
				return doListsView(ctx, s, folder, tag)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	listsCmd.Flags().String("folder", "", "Only show lists filed in this folder")
	listsCmd.Flags().String("tag", "", "Only show lists carrying this tag")

	listsCmd.AddCommand(newListsInfoCmd(stdout, cfg))
	listsCmd.AddCommand(newListsDeleteCmd(stdout, cfg))
	listsCmd.AddCommand(newListsContentsCmd(stdout, cfg))
	listsCmd.AddCommand(newListsEnrichCmd(stdout, cfg))

	return listsCmd
}

// doListsView displays the lists, optionally filtered by folder and tag
func doListsView(ctx context.Context, s *session, folder, tag string) error {
	all, err := s.client.Lists(ctx)
	if err != nil {
		return err
	}

	var lists []*mine.List
	for _, l := range all {
		if folder != "" && !l.InFolder(folder) {
			continue
		}
		if tag != "" && !l.HasTag(tag) {
			continue
		}
		lists = append(lists, l)
	}

	if s.jsonOutput {
		output := make([]listJSON, 0, len(lists))
		for _, l := range lists {
			output = append(output, listToJSON(l))
		}
		return s.printJSON(output)
	}

	if len(lists) == 0 {
		if len(all) == 0 {
			return utils.ErrNoListsAvailable()
		}
		_, _ = fmt.Fprintln(s.stdout, "No lists match the given filters.")
		s.done(ResultInfoOnly)
		return nil
	}

	_, _ = fmt.Fprintf(s.stdout, "Lists on %s (%d):\n\n", s.mineName, len(lists))
	render.New(s.stdout).Lists(lists)
	s.done(ResultInfoOnly)
	return nil
}

// findList looks up a list by name
func findList(ctx context.Context, s *session, name string) (*mine.List, error) {
	l, err := s.client.List(ctx, name)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, utils.ErrListNotFound(name)
	}
	return l, nil
}

// newListsInfoCmd creates the 'lists info' subcommand
func newListsInfoCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "info [name]",
		Short: "Show list details",
		Long:  "Display every property of a list, including its folders.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracked(cmd, cfg, stdout, false, func(ctx context.Context, s *session) error {
				l, err := findList(ctx, s, args[0])
				if err != nil {
					return err
				}
				if s.jsonOutput {
					return s.printJSON(listToJSON(l))
				}
				render.New(s.stdout).ListInfo(l)
				s.done(ResultInfoOnly)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newListsDeleteCmd creates the 'lists delete' subcommand
func newListsDeleteCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]...",
		Short: "Delete lists",
		Long:  "Permanently delete one or more lists from the mine. Requires an API token.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracked(cmd, cfg, stdout, true, func(ctx context.Context, s *session) error {
				return doListsDelete(ctx, s, args)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// doListsDelete deletes every named list. All names are resolved before
// anything is deleted, then the deletions run concurrently. Repeated names are
// deleted once.
func doListsDelete(ctx context.Context, s *session, names []string) error {
	names = xslices.Unique(names)

	all, err := s.client.Lists(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*mine.List, len(all))
	for _, l := range all {
		byName[l.Name] = l
	}

	for _, name := range names {
		if _, ok := byName[name]; !ok {
			return utils.ErrListNotFound(name)
		}
	}

	if !s.cfg.NoPrompt && !s.jsonOutput {
		prompt := fmt.Sprintf("Delete %d list(s) from %s: %s?", len(names), s.mineName, strings.Join(names, ", "))
		if !utils.PromptYesNoWithReader(prompt, s.stdin(), s.stdout) {
			_, _ = fmt.Fprintln(s.stdout, "Cancelled.")
			return nil
		}
	}

	pending := make([]*mine.Pending[*mine.Response], 0, len(names))
	for _, name := range names {
		l := byName[name]
		pending = append(pending, l.Delete(ctx).OnSuccess(func(*mine.Response) {
			utils.Debugf("Deleted %s from %s", name, s.mineName)
		}))
	}

	_, err = mine.All(ctx, pending...).Result()
	deleted := settledDeletes(names, pending)

	if err != nil {
		if len(deleted) == 0 {
			return err
		}
		if !s.jsonOutput {
			for _, name := range deleted {
				_, _ = fmt.Fprintf(s.stdout, "Deleted list: %s\n", name)
			}
		}
		return fmt.Errorf("deleted %s before failing: %w", strings.Join(deleted, ", "), err)
	}

	if s.jsonOutput {
		return s.printJSON(map[string]interface{}{
			"action": "delete",
			"lists":  names,
			"result": ResultActionCompleted,
		})
	}
	for _, name := range names {
		_, _ = fmt.Fprintf(s.stdout, "Deleted list: %s\n", name)
	}
	s.done(ResultActionCompleted)
	return nil
}

// settledDeletes returns the names whose deletion has already succeeded.
func settledDeletes(names []string, pending []*mine.Pending[*mine.Response]) []string {
	var deleted []string
	for i, p := range pending {
		select {
		case <-p.Done():
			if p.Err() == nil {
				deleted = append(deleted, names[i])
			}
		default:
		}
	}
	return deleted
}

var errLimitReached = errors.New("record limit reached")

// newListsContentsCmd creates the 'lists contents' subcommand
func newListsContentsCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contents [name]",
		Short: "Show the members of a list",
		Long:  "Fetch every member of a list with all fields of the list's type. Use --path to choose the columns shown.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, _ := cmd.Flags().GetStringSlice("path")
			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative, got %d", limit)
			}
			return runTracked(cmd, cfg, stdout, false, func(ctx context.Context, s *session) error {
				return doListsContents(ctx, s, args[0], paths, limit)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringSlice("path", nil, "Field to show (can be specified multiple times or comma-separated)")
	cmd.Flags().Int("limit", 0, "Stop after this many records (0 = all)")
	return cmd
}

// doListsContents streams a list's members to the output
func doListsContents(ctx context.Context, s *session, name string, paths []string, limit int) error {
	l, err := findList(ctx, s, name)
	if err != nil {
		return err
	}

	table := render.New(s.stdout).Records(paths)
	var records []json.RawMessage
	delivered := 0

	count, err := l.Contents(ctx, func(r mine.Record) error {
		if limit > 0 && delivered >= limit {
			return errLimitReached
		}
		delivered++
		if s.jsonOutput {
			records = append(records, json.RawMessage(r.Raw()))
			return nil
		}
		return table.Add(r)
	}).Result()
	if err != nil && !errors.Is(err, errLimitReached) {
		return err
	}
	utils.Debugf("Read %d records of %s", count, name)

	if s.jsonOutput {
		if records == nil {
			records = []json.RawMessage{}
		}
		return s.printJSON(map[string]interface{}{
			"list":    l.Name,
			"type":    l.Type,
			"count":   delivered,
			"results": records,
		})
	}

	if delivered == 0 {
		_, _ = fmt.Fprintf(s.stdout, "List %s is empty.\n", l.Name)
		s.done(ResultInfoOnly)
		return nil
	}
	table.Flush()
	_, _ = fmt.Fprintf(s.stdout, "\n%d %s records\n", delivered, l.Type)
	s.done(ResultInfoOnly)
	return nil
}

// newListsEnrichCmd creates the 'lists enrich' subcommand
func newListsEnrichCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich [name]",
		Short: "Run an enrichment analysis over a list",
		Long:  "Run an enrichment widget (e.g. go_enrichment_for_gene, pathway_enrichment) over a list and show the terms below the p-value threshold.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := enrichmentParams(cmd)
			if err != nil {
				return err
			}
			return runTracked(cmd, cfg, stdout, false, func(ctx context.Context, s *session) error {
				return doListsEnrich(ctx, s, args[0], params)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().String("widget", "", "Enrichment widget name (required)")
	cmd.Flags().Float64("maxp", 0.05, "Maximum p-value of the terms shown")
	cmd.Flags().String("correction", "Holm-Bonferroni", "Multiple testing correction (Holm-Bonferroni, Benjamini Hochberg, Bonferroni, None)")
	cmd.Flags().String("population", "", "Name of a list to use as the background population")
	cmd.Flags().String("filter", "", "Widget-specific filter, e.g. an ontology branch")
	_ = cmd.MarkFlagRequired("widget")
	return cmd
}

// enrichmentParams builds the request parameters from the command flags
func enrichmentParams(cmd *cobra.Command) (mine.Params, error) {
	widget, _ := cmd.Flags().GetString("widget")
	maxp, _ := cmd.Flags().GetFloat64("maxp")
	correction, _ := cmd.Flags().GetString("correction")
	population, _ := cmd.Flags().GetString("population")
	filter, _ := cmd.Flags().GetString("filter")

	if maxp <= 0 || maxp > 1 {
		return nil, fmt.Errorf("--maxp must be in (0, 1], got %g", maxp)
	}

	params := mine.Params{
		"widget":     widget,
		"maxp":       strconv.FormatFloat(maxp, 'g', -1, 64),
		"correction": correction,
	}
	if population != "" {
		params["population"] = population
	}
	if filter != "" {
		params["filter"] = filter
	}
	return params, nil
}

// doListsEnrich runs the enrichment widget and prints the result
func doListsEnrich(ctx context.Context, s *session, name string, params mine.Params) error {
	l, err := findList(ctx, s, name)
	if err != nil {
		return err
	}

	result, err := l.Enrichment(ctx, params).Result()
	if err != nil {
		return err
	}

	if s.jsonOutput {
		type itemJSON struct {
			Identifier  string  `json:"identifier"`
			Description string  `json:"description"`
			PValue      float64 `json:"p_value"`
			Matches     int     `json:"matches"`
		}
		items := make([]itemJSON, 0, len(result.Items))
		for _, it := range result.Items {
			items = append(items, itemJSON(it))
		}
		return s.printJSON(map[string]interface{}{
			"list":    l.Name,
			"widget":  params["widget"],
			"title":   result.Title,
			"results": items,
		})
	}

	render.New(s.stdout).Enrichment(result)
	s.done(ResultInfoOnly)
	return nil
}
