// Package credentials stores and looks up mine API tokens using the OS
// keyring, with fallback to environment variables.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"mineat/internal/utils"
)

// Source indicates where a token was retrieved from
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// ErrKeyringNotAvailable is returned when the platform has no usable keyring.
var ErrKeyringNotAvailable = errors.New("system keyring not available")

// ErrNotFound is returned by a Keyring when no secret is stored.
var ErrNotFound = errors.New("secret not found in keyring")

// CredentialInfo contains credential information returned by Get()
type CredentialInfo struct {
	Source   Source // Where the token came from
	Mine     string // Mine name (e.g., "flymine")
	Username string // Account the token belongs to
	Token    string // API token (never printed)
	Found    bool   // Whether a token was found
}

// JSON serializes the credential info to JSON (token excluded)
func (c *CredentialInfo) JSON() ([]byte, error) {
	output := struct {
		Mine     string `json:"mine"`
		Username string `json:"username"`
		Source   string `json:"source"`
		Found    bool   `json:"found"`
	}{
		Mine:     c.Mine,
		Username: c.Username,
		Source:   string(c.Source),
		Found:    c.Found,
	}
	return json.Marshal(output)
}

// MineAccount names one configured mine and its account for listing
type MineAccount struct {
	Name     string
	Username string
}

// MineStatus represents the credential status for a mine
type MineStatus struct {
	Mine     string
	Username string
	HasToken bool
	Source   Source
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, secret string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles credential operations
type Manager struct {
	keyring Keyring
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// NewManager creates a new credential manager backed by the system keyring
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: &systemKeyring{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// normalizeMine normalizes mine names to lowercase
func normalizeMine(mine string) string {
	return strings.ToLower(strings.TrimSpace(mine))
}

// serviceName returns the keyring service name for a mine
func serviceName(mine string) string {
	return fmt.Sprintf("mineat-%s", normalizeMine(mine))
}

// EnvName returns the environment variable holding the token for mine,
// e.g. MINEAT_FLYMINE_TOKEN.
func EnvName(mine string) string {
	upper := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, normalizeMine(mine))
	return fmt.Sprintf("MINEAT_%s_TOKEN", upper)
}

// Set stores a token in the keyring
func (m *Manager) Set(ctx context.Context, mine, username, token string) error {
	if token == "" {
		return errors.New("token must not be empty")
	}
	return m.keyring.Set(serviceName(mine), username, token)
}

// Get retrieves a token from available sources (keyring first, then env vars)
func (m *Manager) Get(ctx context.Context, mine, username string) (*CredentialInfo, error) {
	mine = normalizeMine(mine)

	if username != "" {
		token, err := m.keyring.Get(serviceName(mine), username)
		if err == nil && token != "" {
			return &CredentialInfo{
				Source:   SourceKeyring,
				Mine:     mine,
				Username: username,
				Token:    token,
				Found:    true,
			}, nil
		}
	}

	if token := m.getEnvToken(mine, username); token != "" {
		return &CredentialInfo{
			Source:   SourceEnvironment,
			Mine:     mine,
			Username: username,
			Token:    token,
			Found:    true,
		}, nil
	}

	return &CredentialInfo{
		Source:   SourceNone,
		Mine:     mine,
		Username: username,
		Found:    false,
	}, nil
}

// getEnvToken reads MINEAT_<MINE>_TOKEN, then MINEAT_TOKEN
func (m *Manager) getEnvToken(mine, username string) string {
	// A per-mine username pins the token to that account
	userKey := strings.TrimSuffix(EnvName(mine), "_TOKEN") + "_USERNAME"
	if envUser := os.Getenv(userKey); envUser != "" && username != "" && envUser != username {
		return ""
	}

	if token := os.Getenv(EnvName(mine)); token != "" {
		return token
	}
	return os.Getenv("MINEAT_TOKEN")
}

// Delete removes a token from the keyring
func (m *Manager) Delete(ctx context.Context, mine, username string) error {
	err := m.keyring.Delete(serviceName(mine), username)
	// Idempotent: nothing stored is fine
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ListMines returns the credential status for each configured mine
func (m *Manager) ListMines(ctx context.Context, mines []MineAccount) ([]MineStatus, error) {
	var statuses []MineStatus

	for _, ma := range mines {
		info, err := m.Get(ctx, ma.Name, ma.Username)
		if err != nil {
			return nil, err
		}

		statuses = append(statuses, MineStatus{
			Mine:     ma.Name,
			Username: ma.Username,
			HasToken: info.Found,
			Source:   info.Source,
		})
	}

	return statuses, nil
}

// PromptToken prompts for a token. Input is hidden when reader is a
// terminal; otherwise a single line is read.
func PromptToken(reader io.Reader, writer io.Writer, mine, username string) (string, error) {
	_, _ = fmt.Fprintf(writer, "Enter API token for %s (user: %s): ", mine, username)

	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(writer)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	return utils.ReadStringWithReader(reader)
}
