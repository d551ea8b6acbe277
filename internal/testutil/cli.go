// Package testutil provides shared test utilities for CLI testing across packages.
// This enables co-located CLI tests while maintaining consistent test infrastructure.
package testutil

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"mineat/cmd/mineat/cmd"
	"mineat/internal/credentials"
)

// TestToken is the API token MockMine servers created by NewCLITestWithMine accept.
const TestToken = "test-token-123"

// CLITest provides a test helper for running CLI commands in isolation.
type CLITest struct {
	t          *testing.T
	cfg        *cmd.Config
	tmpDir     string
	configPath string
	keyring    *credentials.MockKeyring
}

// NewCLITest creates a new CLI test helper with an isolated config file,
// analytics database and in-memory keyring. The config file has no mines.
func NewCLITest(t *testing.T) *CLITest {
	t.Helper()
	clearMineEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write a minimal default config to ensure isolation
	if err := os.WriteFile(configPath, []byte("# test config\nanalytics:\n  enabled: false\n"), 0644); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}

	keyring := credentials.NewMockKeyring()
	cfg := &cmd.Config{
		NoPrompt:      true,
		ConfigPath:    configPath,
		AnalyticsPath: filepath.Join(tmpDir, "analytics.db"),
		DotEnvDir:     tmpDir,
		Keyring:       keyring,
	}

	return &CLITest{
		t:          t,
		cfg:        cfg,
		tmpDir:     tmpDir,
		configPath: configPath,
		keyring:    keyring,
	}
}

// NewCLITestWithMine creates a CLI test helper wired to a fresh MockMine,
// configured as the default mine "testmine". The token is exported as
// MINEAT_TESTMINE_TOKEN.
func NewCLITestWithMine(t *testing.T) (*CLITest, *MockMine) {
	t.Helper()

	c := NewCLITest(t)
	m := NewMockMine(t, TestToken, "tester@example.org")
	c.SetFullConfig(fmt.Sprintf(`default_mine: testmine
mines:
  testmine:
    url: %s
    username: tester@example.org
output_format: text
analytics:
  enabled: false
`, m.URL()))
	t.Setenv(credentials.EnvName("testmine"), TestToken)
	return c, m
}

// clearMineEnv unsets MINEAT_* variables so the host environment cannot leak
// into tests.
func clearMineEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key := strings.SplitN(kv, "=", 2)[0]
		if strings.HasPrefix(key, "MINEAT_") {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}

// Config returns the test configuration.
func (c *CLITest) Config() *cmd.Config {
	return c.cfg
}

// TmpDir returns the temporary directory for the test.
func (c *CLITest) TmpDir() string {
	return c.tmpDir
}

// Keyring returns the in-memory keyring the CLI uses.
func (c *CLITest) Keyring() *credentials.MockKeyring {
	return c.keyring
}

// ConfigPath returns the path to the config file.
func (c *CLITest) ConfigPath() string {
	return c.configPath
}

// AnalyticsPath returns the path to the analytics database.
func (c *CLITest) AnalyticsPath() string {
	return c.cfg.AnalyticsPath
}

// SetConfigValue appends a top-level key-value pair to the test config file.
func (c *CLITest) SetConfigValue(key, value string) {
	c.t.Helper()

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		c.t.Fatalf("failed to read config file: %v", err)
	}

	newConfig := string(data) + key + ": " + value + "\n"

	if err := os.WriteFile(c.configPath, []byte(newConfig), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// SetFullConfig replaces the entire config file with the given YAML content.
func (c *CLITest) SetFullConfig(yamlContent string) {
	c.t.Helper()

	if err := os.WriteFile(c.configPath, []byte(yamlContent), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// WriteDotEnv writes a .env file into the directory the CLI reads it from.
func (c *CLITest) WriteDotEnv(content string) {
	c.t.Helper()

	if err := os.WriteFile(filepath.Join(c.tmpDir, ".env"), []byte(content), 0644); err != nil {
		c.t.Fatalf("failed to write .env file: %v", err)
	}
}

// Execute runs a CLI command with the given arguments and returns stdout, stderr, and exit code.
func (c *CLITest) Execute(args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode = cmd.Execute(args, &stdoutBuf, &stderrBuf, c.cfg)
	return stdoutBuf.String(), stderrBuf.String(), exitCode
}

// ExecuteWithInput runs a CLI command with stdin set to input.
func (c *CLITest) ExecuteWithInput(input string, args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	c.cfg.Stdin = strings.NewReader(input)
	defer func() { c.cfg.Stdin = nil }()
	return c.Execute(args...)
}

// MustExecute runs a CLI command and fails the test if exit code is non-zero.
func (c *CLITest) MustExecute(args ...string) string {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode != 0 {
		c.t.Fatalf("expected exit code 0, got %d: stdout=%s stderr=%s", exitCode, stdout, stderr)
	}
	return stdout
}

// ExecuteAndFail runs a CLI command and fails the test if exit code is zero.
func (c *CLITest) ExecuteAndFail(args ...string) (stdout, stderr string) {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode == 0 {
		c.t.Fatalf("expected non-zero exit code, got 0: stdout=%s", stdout)
	}
	return stdout, stderr
}

// EnableAnalytics turns analytics on in the test config file.
func (c *CLITest) EnableAnalytics() {
	c.t.Helper()

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		c.t.Fatalf("failed to read config file: %v", err)
	}
	updated := strings.Replace(string(data), "analytics:\n  enabled: false\n", "analytics:\n  enabled: true\n", 1)
	if err := os.WriteFile(c.configPath, []byte(updated), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// CountAnalyticsEvents returns the number of recorded events for command.
func (c *CLITest) CountAnalyticsEvents(command string) int {
	c.t.Helper()

	db, err := openTestDB(c.cfg.AnalyticsPath)
	if err != nil {
		c.t.Fatalf("failed to open analytics database: %v", err)
	}
	defer func() { _ = db.Close() }()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM events WHERE command = ?", command).Scan(&n); err != nil {
		c.t.Fatalf("failed to count events: %v", err)
	}
	return n
}

// AssertContains fails the test if output doesn't contain expected string.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// AssertNotContains fails the test if output contains unexpected string.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("expected output NOT to contain %q, got:\n%s", unexpected, output)
	}
}

// AssertExitCode fails the test if exit code doesn't match expected.
func AssertExitCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("expected exit code %d, got %d", want, got)
	}
}

// AssertResultCode verifies that the output ends with the expected result code.
func AssertResultCode(t *testing.T, output, expectedCode string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		t.Errorf("expected result code %q but output is empty", expectedCode)
		return
	}
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if lastLine != expectedCode {
		t.Errorf("expected result code %q, got %q\nFull output:\n%s", expectedCode, lastLine, output)
	}
}

// Result code constants for convenience.
const (
	ResultActionCompleted = cmd.ResultActionCompleted
	ResultInfoOnly        = cmd.ResultInfoOnly
	ResultError           = cmd.ResultError
)

// openTestDB opens the SQLite database for testing purposes.
func openTestDB(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite", dbPath)
}
