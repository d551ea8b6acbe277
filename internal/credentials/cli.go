package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// CLIHandler handles CLI commands for credential management
type CLIHandler struct {
	manager *Manager
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewCLIHandler creates a new CLI handler for credential commands
func NewCLIHandler(manager *Manager, stdin io.Reader, stdout, stderr io.Writer) *CLIHandler {
	return &CLIHandler{
		manager: manager,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}
}

// Set stores a token in the keyring. The token is always prompted for so it
// never lands in shell history.
func (h *CLIHandler) Set(mine, username string, prompt bool) error {
	if !prompt {
		return fmt.Errorf("--prompt flag is required for secure token input")
	}

	token, err := PromptToken(h.stdin, h.stdout, mine, username)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	err = h.manager.Set(context.Background(), mine, username, token)
	if err != nil {
		if errors.Is(err, ErrKeyringNotAvailable) {
			return h.keyringNotAvailableError(mine)
		}
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	_, _ = fmt.Fprintf(h.stdout, "Token stored in system keyring\n")
	return nil
}

// keyringNotAvailableError explains the environment variable fallback
func (h *CLIHandler) keyringNotAvailableError(mine string) error {
	msg := fmt.Sprintf(`System keyring not available on this system.

Alternative: use an environment variable instead:

  export %s="your-api-token"

or put the same line in a .env file in your working directory.
Run 'mineat credentials list' to verify the token is detected.
`, EnvName(mine))

	return errors.New(msg)
}

// Get retrieves and displays credential information
func (h *CLIHandler) Get(mine, username string, jsonOutput bool) error {
	info, err := h.manager.Get(context.Background(), mine, username)
	if err != nil {
		return fmt.Errorf("failed to get credentials: %w", err)
	}

	if jsonOutput {
		jsonBytes, err := info.JSON()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(h.stdout, string(jsonBytes))
		return nil
	}

	return h.outputGetText(info)
}

// outputGetText outputs credential info as text
func (h *CLIHandler) outputGetText(info *CredentialInfo) error {
	if !info.Found {
		_, _ = fmt.Fprintf(h.stdout, "No token found for %s/%s\n", info.Mine, info.Username)
		_, _ = fmt.Fprintf(h.stdout, "Searched:\n")
		_, _ = fmt.Fprintf(h.stdout, "  - System keyring: Not found\n")
		_, _ = fmt.Fprintf(h.stdout, "  - Environment (%s, MINEAT_TOKEN): Not found\n", EnvName(info.Mine))
		_, _ = fmt.Fprintf(h.stdout, "\nSuggestion: Run 'mineat credentials set %s %s --prompt'\n", info.Mine, info.Username)
		return nil
	}

	_, _ = fmt.Fprintf(h.stdout, "Source: %s\n", info.Source)
	_, _ = fmt.Fprintf(h.stdout, "Username: %s\n", info.Username)
	_, _ = fmt.Fprintf(h.stdout, "Token: ******** (hidden)\n")
	_, _ = fmt.Fprintf(h.stdout, "Mine: %s\n", info.Mine)
	_, _ = fmt.Fprintf(h.stdout, "Status: Available\n")
	return nil
}

// Delete removes a token from the keyring
func (h *CLIHandler) Delete(mine, username string) error {
	err := h.manager.Delete(context.Background(), mine, username)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	_, _ = fmt.Fprintf(h.stdout, "Token removed from system keyring\n")
	return nil
}

// List displays credential status for all configured mines
func (h *CLIHandler) List(mines []MineAccount, jsonOutput bool) error {
	statuses, err := h.manager.ListMines(context.Background(), mines)
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	if jsonOutput {
		return h.outputListJSON(statuses)
	}

	return h.outputListText(statuses)
}

// outputListJSON outputs mine statuses as JSON
func (h *CLIHandler) outputListJSON(statuses []MineStatus) error {
	type statusJSON struct {
		Mine     string `json:"mine"`
		Username string `json:"username"`
		HasToken bool   `json:"has_token"`
		Source   string `json:"source,omitempty"`
	}

	output := []statusJSON{}
	for _, s := range statuses {
		entry := statusJSON{
			Mine:     s.Mine,
			Username: s.Username,
			HasToken: s.HasToken,
		}
		if s.HasToken {
			entry.Source = string(s.Source)
		}
		output = append(output, entry)
	}

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(h.stdout, string(jsonBytes))
	return nil
}

// outputListText outputs mine statuses as text
func (h *CLIHandler) outputListText(statuses []MineStatus) error {
	_, _ = fmt.Fprintf(h.stdout, "Mine Credentials:\n\n")
	_, _ = fmt.Fprintf(h.stdout, "%-20s %-25s %-15s %s\n", "MINE", "USERNAME", "STATUS", "SOURCE")

	for _, s := range statuses {
		status := "Not configured"
		source := "-"
		if s.HasToken {
			status = "Available"
			source = string(s.Source)
		}
		_, _ = fmt.Fprintf(h.stdout, "%-20s %-25s %-15s %s\n", s.Mine, s.Username, status, source)
	}

	return nil
}
