package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// failingKeyring reports the keyring as unavailable for every call
type failingKeyring struct{}

func (failingKeyring) Set(service, account, secret string) error   { return ErrKeyringNotAvailable }
func (failingKeyring) Get(service, account string) (string, error) { return "", ErrKeyringNotAvailable }
func (failingKeyring) Delete(service, account string) error        { return ErrKeyringNotAvailable }

// TestCredentialsSetCLI tests the CLI command: mineat credentials set flymine alice --prompt
func TestCredentialsSetCLI(t *testing.T) {
	clearTokenEnv(t, "flymine")
	manager := NewManager(WithKeyring(NewMockKeyring()))

	stdin := bytes.NewBufferString("tok-from-prompt\n")
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	handler := NewCLIHandler(manager, stdin, stdout, stderr)
	if err := handler.Set("flymine", "alice", true); err != nil {
		t.Fatalf("Set command failed: %v", err)
	}

	if !strings.Contains(stdout.String(), "Token stored") {
		t.Errorf("Expected success message, got: %s", stdout.String())
	}

	info, _ := manager.Get(context.TODO(), "flymine", "alice")
	if !info.Found || info.Token != "tok-from-prompt" {
		t.Errorf("Expected stored token, got %+v", info)
	}
}

// TestCredentialsSetRequiresPrompt tests that --prompt is mandatory
func TestCredentialsSetRequiresPrompt(t *testing.T) {
	handler := NewCLIHandler(NewManager(WithKeyring(NewMockKeyring())), nil, &bytes.Buffer{}, &bytes.Buffer{})
	err := handler.Set("flymine", "alice", false)
	if err == nil || !strings.Contains(err.Error(), "--prompt") {
		t.Errorf("Expected --prompt error, got %v", err)
	}
}

// TestCredentialsGetCLI tests the CLI command: mineat credentials get flymine alice
func TestCredentialsGetCLI(t *testing.T) {
	clearTokenEnv(t, "flymine")
	mockKeyring := NewMockKeyring()
	_ = mockKeyring.Set("mineat-flymine", "alice", "stored-token")
	manager := NewManager(WithKeyring(mockKeyring))

	stdout := &bytes.Buffer{}
	handler := NewCLIHandler(manager, nil, stdout, &bytes.Buffer{})
	if err := handler.Get("flymine", "alice", false); err != nil {
		t.Fatalf("Get command failed: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Source: keyring") {
		t.Errorf("Expected source info, got: %s", output)
	}
	if strings.Contains(output, "stored-token") {
		t.Error("Token should not appear in output")
	}
	if !strings.Contains(output, "********") {
		t.Errorf("Expected masked token in output, got: %s", output)
	}
}

// TestCredentialsGetJSONCLI tests the CLI command: mineat --json credentials get flymine alice
func TestCredentialsGetJSONCLI(t *testing.T) {
	clearTokenEnv(t, "flymine")
	mockKeyring := NewMockKeyring()
	_ = mockKeyring.Set("mineat-flymine", "alice", "stored-token")
	manager := NewManager(WithKeyring(mockKeyring))

	stdout := &bytes.Buffer{}
	handler := NewCLIHandler(manager, nil, stdout, &bytes.Buffer{})
	if err := handler.Get("flymine", "alice", true); err != nil {
		t.Fatalf("Get command failed: %v", err)
	}

	var response struct {
		Mine   string `json:"mine"`
		Source string `json:"source"`
		Found  bool   `json:"found"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &response); err != nil {
		t.Fatalf("JSON parse failed: %v, output was: %s", err, stdout.String())
	}
	if response.Mine != "flymine" || response.Source != "keyring" || !response.Found {
		t.Errorf("unexpected response: %+v", response)
	}
}

// TestCredentialsNotFoundCLI tests the not-found guidance
func TestCredentialsNotFoundCLI(t *testing.T) {
	clearTokenEnv(t, "ratmine")
	stdout := &bytes.Buffer{}
	handler := NewCLIHandler(NewManager(WithKeyring(NewMockKeyring())), nil, stdout, &bytes.Buffer{})

	if err := handler.Get("ratmine", "alice", false); err != nil {
		t.Fatalf("Get command failed: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "No token found") {
		t.Errorf("Expected not found message, got: %s", output)
	}
	if !strings.Contains(output, "MINEAT_RATMINE_TOKEN") {
		t.Errorf("Expected env var name in output, got: %s", output)
	}
	if !strings.Contains(output, "mineat credentials set ratmine alice --prompt") {
		t.Errorf("Expected suggestion in output, got: %s", output)
	}
}

// TestCredentialsDeleteCLI tests the CLI command: mineat credentials delete flymine alice
func TestCredentialsDeleteCLI(t *testing.T) {
	clearTokenEnv(t, "flymine")
	mockKeyring := NewMockKeyring()
	_ = mockKeyring.Set("mineat-flymine", "alice", "to-remove")
	manager := NewManager(WithKeyring(mockKeyring))

	stdout := &bytes.Buffer{}
	handler := NewCLIHandler(manager, nil, stdout, &bytes.Buffer{})
	if err := handler.Delete("flymine", "alice"); err != nil {
		t.Fatalf("Delete command failed: %v", err)
	}

	if !strings.Contains(stdout.String(), "Token removed") {
		t.Errorf("Expected removal message, got: %s", stdout.String())
	}
	info, _ := manager.Get(context.TODO(), "flymine", "alice")
	if info.Found {
		t.Error("Token should be gone")
	}
}

// TestCredentialsListCLI tests the text listing
func TestCredentialsListCLI(t *testing.T) {
	clearTokenEnv(t, "flymine")
	clearTokenEnv(t, "humanmine")
	mockKeyring := NewMockKeyring()
	_ = mockKeyring.Set("mineat-flymine", "alice", "tok")

	stdout := &bytes.Buffer{}
	handler := NewCLIHandler(NewManager(WithKeyring(mockKeyring)), nil, stdout, &bytes.Buffer{})
	err := handler.List([]MineAccount{{Name: "flymine", Username: "alice"}, {Name: "humanmine"}}, false)
	if err != nil {
		t.Fatalf("List command failed: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"MINE", "flymine", "Available", "humanmine", "Not configured"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}
}

// TestCredentialsListJSONCLI tests the JSON listing
func TestCredentialsListJSONCLI(t *testing.T) {
	clearTokenEnv(t, "flymine")
	t.Setenv("MINEAT_FLYMINE_TOKEN", "env")

	stdout := &bytes.Buffer{}
	handler := NewCLIHandler(NewManager(WithKeyring(NewMockKeyring())), nil, stdout, &bytes.Buffer{})
	if err := handler.List([]MineAccount{{Name: "flymine"}}, true); err != nil {
		t.Fatalf("List command failed: %v", err)
	}

	var entries []struct {
		Mine     string `json:"mine"`
		HasToken bool   `json:"has_token"`
		Source   string `json:"source"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil {
		t.Fatalf("JSON parse failed: %v, output was: %s", err, stdout.String())
	}
	if len(entries) != 1 || !entries[0].HasToken || entries[0].Source != "environment" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

// TestCredentialsListEmptyJSONCLI tests an empty listing is a JSON array
func TestCredentialsListEmptyJSONCLI(t *testing.T) {
	stdout := &bytes.Buffer{}
	handler := NewCLIHandler(NewManager(WithKeyring(NewMockKeyring())), nil, stdout, &bytes.Buffer{})
	if err := handler.List(nil, true); err != nil {
		t.Fatalf("List command failed: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != "[]" {
		t.Errorf("Expected [], got %s", stdout.String())
	}
}

// TestCredentialsSetKeyringNotAvailableCLI tests the environment variable guidance
func TestCredentialsSetKeyringNotAvailableCLI(t *testing.T) {
	manager := NewManager(WithKeyring(failingKeyring{}))

	handler := NewCLIHandler(manager, strings.NewReader("tok\n"), &bytes.Buffer{}, &bytes.Buffer{})
	err := handler.Set("flymine", "alice", true)
	if err == nil {
		t.Fatal("Expected error when keyring not available")
	}

	errMsg := err.Error()
	if !strings.Contains(errMsg, "environment variable") {
		t.Errorf("Expected error to mention environment variables, got: %s", errMsg)
	}
	if !strings.Contains(errMsg, "MINEAT_FLYMINE_TOKEN") {
		t.Errorf("Expected error to mention MINEAT_FLYMINE_TOKEN, got: %s", errMsg)
	}
}

// TestCredentialsDeleteKeyringNotAvailableCLI tests delete surfaces keyring failures
func TestCredentialsDeleteKeyringNotAvailableCLI(t *testing.T) {
	handler := NewCLIHandler(NewManager(WithKeyring(failingKeyring{})), nil, &bytes.Buffer{}, &bytes.Buffer{})
	err := handler.Delete("flymine", "alice")
	if !errors.Is(err, ErrKeyringNotAvailable) {
		t.Errorf("Expected ErrKeyringNotAvailable, got %v", err)
	}
}
