package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mineat/internal/render"
	"mineat/mine"
)

// newWhoamiCmd creates the 'whoami' command
func newWhoamiCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account the API token belongs to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracked(cmd, cfg, stdout, true, func(ctx context.Context, s *session) error {
				user, err := s.client.Whoami(ctx)
				if err != nil {
					return err
				}
				if s.jsonOutput {
					return s.printJSON(map[string]interface{}{
						"mine":        s.mineName,
						"username":    user.Username,
						"preferences": user.Preferences(),
					})
				}
				_, _ = fmt.Fprintf(s.stdout, "Logged in to %s as %s\n", s.mineName, user.Username)
				s.done(ResultInfoOnly)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newPrefsCmd creates the 'prefs' command
func newPrefsCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	prefsCmd := &cobra.Command{
		Use:     "prefs",
		Aliases: []string{"preferences"},
		Short:   "Show and change user preferences",
		Long:    "Show the preferences stored on the mine for your account, or change them with a subcommand.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracked(cmd, cfg, stdout, true, func(ctx context.Context, s *session) error {
				user, err := s.client.Whoami(ctx)
				if err != nil {
					return err
				}
				return printPreferences(s, user.Preferences())
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	prefsCmd.AddCommand(newPrefsSetCmd(stdout, cfg))
	prefsCmd.AddCommand(newPrefsClearCmd(stdout, cfg))

	return prefsCmd
}

func printPreferences(s *session, prefs map[string]string) error {
	if s.jsonOutput {
		return s.printJSON(prefs)
	}
	render.New(s.stdout).Preferences(prefs)
	s.done(ResultInfoOnly)
	return nil
}

// newPrefsSetCmd creates the 'prefs set' subcommand
func newPrefsSetCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value] [key value]...",
		Short: "Set one or more preferences",
		Long:  "Store preferences on the mine in a single request. A later pair wins over an earlier one with the same key.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected key/value pairs, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs := make([][2]string, 0, len(args)/2)
			for i := 0; i < len(args); i += 2 {
				if args[i] == "" {
					return fmt.Errorf("preference key must not be empty")
				}
				pairs = append(pairs, [2]string{args[i], args[i+1]})
			}

			return runTracked(cmd, cfg, stdout, true, func(ctx context.Context, s *session) error {
				prefs, err := mine.Then(ctx, whoami(ctx, s), func(ctx context.Context, user *mine.User) (map[string]string, error) {
					return user.SetPreferencePairs(ctx, pairs).Result()
				}).Result()
				if err != nil {
					return err
				}
				if s.jsonOutput {
					return s.printJSON(prefs)
				}
				for _, kv := range pairs {
					_, _ = fmt.Fprintf(s.stdout, "Set %s = %s\n", kv[0], prefs[kv[0]])
				}
				s.done(ResultActionCompleted)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newPrefsClearCmd creates the 'prefs clear' subcommand
func newPrefsClearCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [key]...",
		Short: "Remove preferences",
		Long:  "Remove one or more preferences from the mine. Keys are removed one request at a time, in order.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracked(cmd, cfg, stdout, true, func(ctx context.Context, s *session) error {
				user, err := whoami(ctx, s).Result()
				if err != nil {
					return err
				}
				for _, key := range args {
					if _, err := user.ClearPreference(ctx, key).Result(); err != nil {
						return fmt.Errorf("failed to clear %s: %w", key, err)
					}
				}
				if s.jsonOutput {
					return s.printJSON(user.Preferences())
				}
				for _, key := range args {
					_, _ = fmt.Fprintf(s.stdout, "Cleared %s\n", key)
				}
				s.done(ResultActionCompleted)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// whoami fetches the current user in the background
func whoami(ctx context.Context, s *session) *mine.Pending[*mine.User] {
	return mine.Go(ctx, s.client.Whoami)
}
