package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadSecretFile_Absolute(t *testing.T) {
	tmpDir := t.TempDir()
	secretFile := filepath.Join(tmpDir, "secret.txt")
	if err := os.WriteFile(secretFile, []byte("file-value\n"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	value, err := ReadSecretFile("/ignored", secretFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "file-value" {
		t.Errorf("got %q, want %q", value, "file-value")
	}
}

func TestReadSecretFile_RelativeToRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "secrets"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "secrets", "ledger"), []byte("root-value"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	value, err := ReadSecretFile(root, "secrets/ledger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "root-value" {
		t.Errorf("got %q, want %q", value, "root-value")
	}
}

func TestReadSecretFile_NotSet(t *testing.T) {
	value, err := ReadSecretFile(t.TempDir(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "" {
		t.Errorf("got %q, want empty string", value)
	}
}

func TestReadSecretFile_NotFound(t *testing.T) {
	_, err := ReadSecretFile("", "/nonexistent/path/to/secret")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "/nonexistent/path/to/secret") {
		t.Errorf("error should name the file, got %v", err)
	}
}

func TestReadSecretFile_TrimsWhitespace(t *testing.T) {
	tmpDir := t.TempDir()
	secretFile := filepath.Join(tmpDir, "secret.txt")
	if err := os.WriteFile(secretFile, []byte("  secret-with-spaces  \n\n"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	value, err := ReadSecretFile("", secretFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "secret-with-spaces" {
		t.Errorf("got %q, want %q", value, "secret-with-spaces")
	}
}
