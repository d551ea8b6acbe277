package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mineat/internal/credentials"
	"mineat/internal/render"
)

// newCredentialsCmd creates the 'credentials' command
func newCredentialsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage mine API tokens",
		Long:  "Store, retrieve, and manage API tokens for mines securely.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	credentialsCmd.AddCommand(newCredentialsSetCmd(stdout, stderr, cfg))
	credentialsCmd.AddCommand(newCredentialsGetCmd(stdout, stderr, cfg))
	credentialsCmd.AddCommand(newCredentialsDeleteCmd(stdout, stderr, cfg))
	credentialsCmd.AddCommand(newCredentialsListCmd(stdout, stderr, cfg))

	return credentialsCmd
}

// newCredentialsSetCmd creates the 'credentials set' subcommand
func newCredentialsSetCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [mine] [username]",
		Short: "Store an API token in system keyring",
		Long:  "Store an API token securely in the system keyring (macOS Keychain, Windows Credential Manager, or Linux Secret Service).",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, _ := cmd.Flags().GetBool("prompt")

			stdin := cfg.Stdin
			if stdin == nil {
				stdin = os.Stdin
			}
			handler := credentials.NewCLIHandler(newCredentialManager(cfg), stdin, stdout, stderr)
			return handler.Set(args[0], args[1], prompt)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().Bool("prompt", false, "Prompt for token input (required for security)")
	return cmd
}

// newCredentialsGetCmd creates the 'credentials get' subcommand
func newCredentialsGetCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get [mine] [username]",
		Short: "Retrieve a token and show its source",
		Long:  "Look a token up through the priority chain (keyring > MINEAT_<MINE>_TOKEN > MINEAT_TOKEN) and display where it came from.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")

			handler := credentials.NewCLIHandler(newCredentialManager(cfg), nil, stdout, stderr)
			return handler.Get(args[0], args[1], jsonOutput)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newCredentialsDeleteCmd creates the 'credentials delete' subcommand
func newCredentialsDeleteCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [mine] [username]",
		Short: "Remove a token from system keyring",
		Long:  "Remove a stored token from the system keyring. Environment variables are not affected.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			handler := credentials.NewCLIHandler(newCredentialManager(cfg), nil, stdout, stderr)
			return handler.Delete(args[0], args[1])
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newCredentialsListCmd creates the 'credentials list' subcommand
func newCredentialsListCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured mines with token status",
		Long:  "Show all mines from the config file and whether a token is available for each.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")

			appConfig, err := loadAppConfig(cmd, cfg)
			if err != nil {
				return err
			}

			var mines []credentials.MineAccount
			for _, name := range appConfig.MineNames() {
				mines = append(mines, credentials.MineAccount{
					Name:     name,
					Username: appConfig.Mines[name].Username,
				})
			}

			handler := credentials.NewCLIHandler(newCredentialManager(cfg), nil, stdout, stderr)
			return handler.List(mines, jsonOutput)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newStatsCmd creates the 'stats' command
func newStatsCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show local command usage statistics",
		Long:  "Summarize the command outcomes recorded in the local analytics database. With --cleanup, first remove entries older than analytics.retention_days.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cleanup, _ := cmd.Flags().GetBool("cleanup")
			appConfig, err := loadAppConfig(cmd, cfg)
			if err != nil {
				return err
			}

			tracker := openTracker(cfg, appConfig)
			if tracker == nil {
				return fmt.Errorf("analytics is disabled; enable it with analytics.enabled in the config file")
			}

			s := &session{cfg: cfg, appConfig: appConfig, stdout: stdout, jsonOutput: appConfig.OutputFormat == "json"}

			var removed int64
			if cleanup {
				removed, err = tracker.Cleanup(appConfig.GetAnalyticsRetentionDays())
				if err != nil {
					return err
				}
			}

			stats, err := tracker.Stats()
			if err != nil {
				return err
			}
			mineStats, err := tracker.MineStats()
			if err != nil {
				return err
			}

			if s.jsonOutput {
				type statJSON struct {
					Command       string  `json:"command"`
					Total         int     `json:"total"`
					Successful    int     `json:"successful"`
					AvgDurationMs float64 `json:"avg_duration_ms"`
				}
				output := make([]statJSON, 0, len(stats))
				for _, st := range stats {
					output = append(output, statJSON(st))
				}
				type mineJSON struct {
					Mine     string `json:"mine"`
					Total    int    `json:"total"`
					Failed   int    `json:"failed"`
					TopError string `json:"top_error,omitempty"`
				}
				mines := make([]mineJSON, 0, len(mineStats))
				for _, ms := range mineStats {
					mines = append(mines, mineJSON(ms))
				}
				return s.printJSON(map[string]interface{}{
					"removed":  removed,
					"commands": output,
					"mines":    mines,
				})
			}

			if cleanup {
				_, _ = fmt.Fprintf(stdout, "Removed %d old entries\n\n", removed)
			}
			r := render.New(stdout)
			r.Stats(stats)
			if len(mineStats) > 0 {
				_, _ = fmt.Fprintln(stdout)
				r.MineStats(mineStats)
			}
			s.done(ResultInfoOnly)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("cleanup", false, "Remove entries older than the retention period first")
	return cmd
}
