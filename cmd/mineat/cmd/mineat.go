package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mineat/internal/analytics"
	"mineat/internal/config"
	"mineat/internal/credentials"
	"mineat/internal/shutdown"
	"mineat/internal/utils"
	"mineat/mine/webservice"
)

// Version is set at build time
var Version = "dev"

// Commit and BuildDate are set at build time
var (
	Commit    = "none"
	BuildDate = "unknown"
)

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// cleanupTimeout bounds the cleanups run after a command finishes
const cleanupTimeout = 5 * time.Second

// Config holds application configuration
type Config struct {
	NoPrompt      bool
	Verbose       bool
	OutputFormat  string
	ConfigPath    string              // Path to config file (for testing)
	AnalyticsPath string              // Path to analytics database (for testing)
	DotEnvDir     string              // Directory searched for .env (defaults to the working directory)
	Keyring       credentials.Keyring // Keyring override (for testing)
	Stdin         io.Reader           // Prompt input (defaults to os.Stdin)

	shutdown *shutdown.Manager
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	if cfg == nil {
		cfg = &Config{}
	}
	mgr := shutdown.NewManager(context.Background())
	stop := mgr.Notify(os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg.shutdown = mgr

	rootCmd := NewMineAt(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(mgr.Context())

	waitCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	if werr := mgr.Wait(waitCtx); werr != nil {
		utils.Warnf("cleanup did not finish: %v", werr)
	}
	cancel()

	if err != nil && mgr.IsShutdown() {
		err = fmt.Errorf("interrupted by %s: %w", mgr.Signal(), err)
	}

	if err != nil {
		// Check if --json flag was passed to output error as JSON
		jsonOutput := containsJSONFlag(args)
		if jsonOutput {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			// Emit ERROR result code in no-prompt mode
			if cfg != nil && cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// outputErrorJSON writes an error as a JSON object
func outputErrorJSON(err error, stdout io.Writer) {
	output := map[string]string{
		"error":  err.Error(),
		"result": ResultError,
	}
	var suggestion *utils.ErrorWithSuggestion
	if errors.As(err, &suggestion) {
		output["error"] = suggestion.Err.Error()
		output["suggestion"] = suggestion.Suggestion
	}
	jsonBytes, _ := json.Marshal(output)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

// NewMineAt creates the root command with injectable IO
func NewMineAt(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.shutdown == nil {
		cfg.shutdown = shutdown.NewManager(context.Background())
	}

	cmd := &cobra.Command{
		Use:     "mineat",
		Short:   "A command-line client for InterMine data warehouses",
		Long:    "mineat browses, analyses and manages the lists stored in InterMine-based data warehouses (FlyMine, HumanMine, ...).",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			noPrompt, _ := cmd.Flags().GetBool("no-prompt")
			if noPrompt {
				cfg.NoPrompt = true
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				cfg.Verbose = true
			}
			utils.GetLogger().SetOutput(stderr)
			utils.SetVerboseMode(cfg.Verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add global flags
	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("mine", "m", "", "Mine to use (name from the config file)")
	cmd.PersistentFlags().String("url", "", "Mine URL, overriding the configured one")
	cmd.PersistentFlags().String("config", "", "Path to the config file")

	cmd.AddCommand(newListsCmd(stdout, cfg))
	cmd.AddCommand(newWhoamiCmd(stdout, cfg))
	cmd.AddCommand(newPrefsCmd(stdout, cfg))
	cmd.AddCommand(newCredentialsCmd(stdout, stderr, cfg))
	cmd.AddCommand(newVersionCmd(stdout, cfg))
	cmd.AddCommand(newStatsCmd(stdout, cfg))

	return cmd
}

// session is everything one command needs to talk to a mine
type session struct {
	cfg        *Config
	appConfig  *config.Config
	mineName   string
	username   string
	client     *webservice.Client
	stdout     io.Writer
	jsonOutput bool
}

// loadAppConfig reads .env and the config file, then applies flag overrides
func loadAppConfig(cmd *cobra.Command, cfg *Config) (*config.Config, error) {
	dir := cfg.DotEnvDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	if err := config.LoadDotEnv(dir); err != nil {
		utils.Warnf("%v", err)
	}

	path := cfg.ConfigPath
	if flagPath, _ := cmd.Flags().GetString("config"); flagPath != "" {
		path = config.ExpandPath(flagPath)
	}

	appConfig, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	format := cfg.OutputFormat
	if jsonOutput {
		format = "json"
	}
	appConfig.ApplyFlags(cfg.Verbose, format)
	if err := appConfig.Validate(); err != nil {
		if appConfig.OutputFormat != "text" && appConfig.OutputFormat != "json" {
			return nil, utils.ErrInvalidOutputFormat(appConfig.OutputFormat)
		}
		return nil, err
	}
	if appConfig.Logging.Verbose {
		utils.SetVerboseMode(true)
	}
	return appConfig, nil
}

// openSession resolves the mine, its token and a client. With requireToken,
// a missing token is an error instead of anonymous access.
func openSession(cmd *cobra.Command, cfg *Config, stdout io.Writer, requireToken bool) (*session, error) {
	appConfig, err := loadAppConfig(cmd, cfg)
	if err != nil {
		return nil, err
	}

	mineFlag, _ := cmd.Flags().GetString("mine")
	urlFlag, _ := cmd.Flags().GetString("url")

	name, mineConfig, ok := appConfig.GetMine(mineFlag)
	if urlFlag != "" {
		mineConfig.URL = urlFlag
		if !ok && mineFlag == "" {
			name = hostName(urlFlag)
		}
	} else if !ok {
		return nil, utils.ErrMineNotConfigured(name)
	}

	manager := newCredentialManager(cfg)
	info, err := manager.Get(context.Background(), name, mineConfig.Username)
	if err != nil {
		return nil, err
	}
	if requireToken && !info.Found {
		user := mineConfig.Username
		if user == "" {
			user = "USERNAME"
		}
		return nil, utils.ErrTokenNotFound(name, user)
	}
	if info.Found {
		utils.Debugf("Using %s token for %s", info.Source, name)
	}

	client, err := webservice.New(webservice.Config{
		BaseURL:   mineConfig.URL,
		Token:     info.Token,
		Timeout:   appConfig.GetTimeout(),
		UserAgent: "mineat/" + Version,
	})
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:        cfg,
		appConfig:  appConfig,
		mineName:   name,
		username:   mineConfig.Username,
		client:     client,
		stdout:     stdout,
		jsonOutput: appConfig.OutputFormat == "json",
	}, nil
}

func hostName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}

func newCredentialManager(cfg *Config) *credentials.Manager {
	if cfg.Keyring != nil {
		return credentials.NewManager(credentials.WithKeyring(cfg.Keyring))
	}
	return credentials.NewManager()
}

// stdin returns the reader used for confirmations
func (s *session) stdin() io.Reader {
	if s.cfg.Stdin != nil {
		return s.cfg.Stdin
	}
	return os.Stdin
}

// close releases the session's connections
func (s *session) close() {
	_ = s.client.Close()
}

// friendlyError maps transport and auth failures to errors with suggestions
func (s *session) friendlyError(err error) error {
	if err == nil {
		return nil
	}
	var suggestion *utils.ErrorWithSuggestion
	if errors.As(err, &suggestion) {
		return err
	}
	if errors.Is(err, webservice.ErrUnauthorized) {
		utils.Debugf("%s rejected the request: %v", s.mineName, err)
		return utils.ErrAuthenticationFailed(s.mineName)
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return utils.ErrMineOffline(s.mineName, err.Error())
	}
	return err
}

// done prints a result code in no-prompt text mode
func (s *session) done(code string) {
	if s.cfg.NoPrompt && !s.jsonOutput {
		_, _ = fmt.Fprintln(s.stdout, code)
	}
}

// printJSON writes v as one line of JSON
func (s *session) printJSON(v interface{}) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(s.stdout, string(jsonBytes))
	return nil
}

// runTracked opens a session and runs fn, recording the outcome in analytics
func runTracked(cmd *cobra.Command, cfg *Config, stdout io.Writer, requireToken bool, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmd, cfg, stdout, requireToken)
	if err != nil {
		return err
	}
	cfg.shutdown.RegisterCleanup("session", func(context.Context) error {
		s.close()
		return nil
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	command, subcommand := commandNames(cmd)
	tracker := openTracker(cfg, s.appConfig)
	run := func() error {
		return s.friendlyError(fn(ctx, s))
	}
	if tracker == nil {
		return run()
	}
	return tracker.TrackCommand(command, subcommand, s.mineName, changedFlags(cmd), run)
}

// commandNames splits the command path into command and subcommand
func commandNames(cmd *cobra.Command) (string, string) {
	parts := strings.Fields(cmd.CommandPath())
	if len(parts) > 0 {
		parts = parts[1:]
	}
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// changedFlags lists the names of the flags set on the command line
func changedFlags(cmd *cobra.Command) []string {
	var names []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		names = append(names, f.Name)
	})
	return names
}

// analyticsPath returns the analytics database location
func analyticsPath(cfg *Config) string {
	if cfg.AnalyticsPath != "" {
		return cfg.AnalyticsPath
	}
	return filepath.Join(config.GetDataDir(), "analytics.db")
}

// openTracker opens the analytics tracker, or returns nil when analytics is off
func openTracker(cfg *Config, appConfig *config.Config) *analytics.Tracker {
	if !analytics.IsEnabledFromEnv(appConfig.IsAnalyticsEnabled()) {
		return nil
	}
	path := analyticsPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		utils.Debugf("analytics disabled: %v", err)
		return nil
	}
	tracker, err := analytics.NewTracker(path, true)
	if err != nil {
		utils.Debugf("analytics disabled: %v", err)
		return nil
	}
	cfg.shutdown.RegisterCleanup("analytics", func(context.Context) error {
		return tracker.Close()
	})
	return tracker
}

// newVersionCmd creates the 'version' subcommand
func newVersionCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Show the mineat version. With --remote, also query the mine's API version and data release.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, _ := cmd.Flags().GetBool("remote")
			jsonOutput, _ := cmd.Flags().GetBool("json")

			if !remote {
				if jsonOutput {
					return (&session{stdout: stdout}).printJSON(map[string]string{
						"version": Version,
						"commit":  Commit,
						"built":   BuildDate,
					})
				}
				_, _ = fmt.Fprintf(stdout, "mineat\nVersion: %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildDate)
				return nil
			}

			return runTracked(cmd, cfg, stdout, false, func(ctx context.Context, s *session) error {
				return doRemoteVersion(ctx, s)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("remote", false, "Also show the mine's API version and data release")
	return cmd
}

// doRemoteVersion prints the mine's API version and release
func doRemoteVersion(ctx context.Context, s *session) error {
	apiVersion, err := s.client.Version(ctx)
	if err != nil {
		return err
	}
	release, err := s.client.Release(ctx)
	if err != nil {
		return err
	}

	if s.jsonOutput {
		return s.printJSON(map[string]interface{}{
			"version":     Version,
			"mine":        s.mineName,
			"api_version": apiVersion,
			"release":     release,
		})
	}

	_, _ = fmt.Fprintf(s.stdout, "mineat\nVersion: %s\nCommit: %s\n\nMine: %s\nAPI version: %d\nRelease: %s\n", Version, Commit, s.mineName, apiVersion, release)
	s.done(ResultInfoOnly)
	return nil
}
