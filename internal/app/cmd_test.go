package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testPartnersYAML = `partners:
  - identifier: acme
    name: Acme Portal
    url: https://acme.example.com
    key: secret-acme
  - identifier: beta
    name: Beta Shop
    url: https://beta.example.com/base?ref=1
  - identifier: off
    name: Retired
    url: https://off.example.com
    enabled: false
`

func writePartnersFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "partners.yaml")
	if err := os.WriteFile(path, []byte(testPartnersYAML), 0o600); err != nil {
		t.Fatalf("failed to write partners file: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var logs, out bytes.Buffer
	root := NewRootCommand(&logs)
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNewRootCommand_HasSubcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	want := []string{"serve", "worker", "migrate", "healthcheck", "cleanup", "partners"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q is not registered", name)
		}
	}
}

func TestCleanupCommand_NoExpiredTokens(t *testing.T) {
	setMemoryEnv(t, "")

	out, err := execute(t, "cleanup", "--dry-run")
	if err != nil {
		t.Fatalf("cleanup --dry-run error = %v", err)
	}
	if !strings.Contains(out, "No expired tokens found.") {
		t.Errorf("output = %q", out)
	}
}

func TestCleanupCommand_RejectsNegativeOlderThan(t *testing.T) {
	setMemoryEnv(t, "")

	if _, err := execute(t, "cleanup", "--older-than", "-1"); err == nil {
		t.Fatal("expected error for negative --older-than")
	}
}

func TestPartnersListCommand(t *testing.T) {
	setMemoryEnv(t, writePartnersFile(t))

	out, err := execute(t, "partners", "list")
	if err != nil {
		t.Fatalf("partners list error = %v", err)
	}
	for _, want := range []string{"IDENTIFIER", "acme", "Acme Portal", "beta", "off"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "secret-acme") {
		t.Error("shared key must not be printed")
	}
}

func TestPartnersSyncCommand(t *testing.T) {
	setMemoryEnv(t, writePartnersFile(t))

	out, err := execute(t, "partners", "sync")
	if err != nil {
		t.Fatalf("partners sync error = %v", err)
	}
	if !strings.Contains(out, "Synchronized 3 partners.") {
		t.Errorf("output = %q", out)
	}
}

func TestPartnersSyncCommand_RequiresFile(t *testing.T) {
	setMemoryEnv(t, "")

	if _, err := execute(t, "partners", "sync"); err == nil {
		t.Fatal("expected error when SSO_PARTNERS_FILE is not set")
	}
}

func TestMigrateCommand_FlagValidation(t *testing.T) {
	setMemoryEnv(t, "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"negative down", []string{"migrate", "--down", "-2"}, "--down must be positive"},
		{"status and down", []string{"migrate", "--status", "--down", "1"}, "none of the others can be"},
		{"memory store", []string{"migrate", "--status"}, "STORE_DRIVER=postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}
