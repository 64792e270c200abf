package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadToolConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeFile(t, path, `version: 1
paths:
  spec_dir: specs
ledger:
  host: db.local
  port: 5432
announce:
  broker: tcp://broker:1883
`)

	cfg, err := LoadToolConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Paths.SpecDir != "specs" {
		t.Errorf("expected spec_dir specs, got %q", cfg.Paths.SpecDir)
	}
	if !cfg.Ledger.Enabled() {
		t.Error("expected ledger to be enabled when host is set")
	}
	if cfg.AnnounceTopic() != DefaultAnnounceTopic {
		t.Errorf("expected default topic, got %q", cfg.AnnounceTopic())
	}
}

func TestLoadToolConfig_RejectsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeFile(t, path, "version: 2\n")

	if _, err := LoadToolConfig(path); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestLoadOptionalToolConfig_Missing(t *testing.T) {
	cfg, err := LoadOptionalToolConfig(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ledger.Enabled() {
		t.Error("expected empty config to have no ledger")
	}
}

func TestFindFirmwareRoot(t *testing.T) {
	repo := t.TempDir()
	firmware := filepath.Join(repo, "hardware", "firmware")
	writeFile(t, filepath.Join(firmware, Anchor), "[env]\n")
	nested := filepath.Join(repo, "docs", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindFirmwareRoot(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != firmware {
		t.Errorf("expected %s, got %s", firmware, got)
	}
}

func TestFindFirmwareRoot_NotFound(t *testing.T) {
	_, err := FindFirmwareRoot(t.TempDir())
	var cfgErr *story.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestResolve_Defaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, Anchor), "")

	p, cfg, err := Resolve(root, Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config")
	}
	checks := map[string]string{
		"spec":    filepath.Join(root, "story_specs", "scenarios"),
		"game":    filepath.Join(root, "game", "scenarios"),
		"content": filepath.Join(root, "story_specs", "content"),
		"cpp":     filepath.Join(root, "src", "story", "generated"),
		"bundle":  filepath.Join(root, "artifacts", "story_fs", "deploy"),
	}
	got := map[string]string{
		"spec":    p.SpecDir,
		"game":    p.GameDir,
		"content": p.ContentDir,
		"cpp":     p.CppOutDir,
		"bundle":  p.BundleRoot,
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("%s: expected %s, got %s", k, want, got[k])
		}
	}
	if p.GameDirExplicit {
		t.Error("default game dir should not be explicit")
	}
}

func TestResolve_Precedence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, Anchor), "")
	writeFile(t, filepath.Join(root, FileName), `version: 1
paths:
  spec_dir: cfg_specs
  bundle_root: cfg_bundle
`)
	flagSpecs := filepath.Join(t.TempDir(), "flag_specs")
	if err := os.MkdirAll(flagSpecs, 0o755); err != nil {
		t.Fatal(err)
	}

	p, _, err := Resolve(root, Overrides{SpecDir: flagSpecs})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SpecDir != flagSpecs {
		t.Errorf("flag should win: got %s", p.SpecDir)
	}
	if p.BundleRoot != filepath.Join(root, "cfg_bundle") {
		t.Errorf("config should win over default: got %s", p.BundleRoot)
	}
	if p.ContentDir != filepath.Join(filepath.Dir(flagSpecs), "content") {
		t.Errorf("content dir should follow spec dir: got %s", p.ContentDir)
	}
}

func TestResolve_MissingSpecOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, Anchor), "")

	_, _, err := Resolve(root, Overrides{SpecDir: filepath.Join(root, "nope")})
	var cfgErr *story.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestResolve_MissingContentDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, Anchor), "")

	var cfgErr *story.ConfigurationError
	_, _, err := Resolve(root, Overrides{ContentDir: filepath.Join(root, "does-not-exist")})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("flag: expected ConfigurationError, got %v", err)
	}

	writeFile(t, filepath.Join(root, FileName), "version: 1\npaths:\n  content_dir: missing_content\n")
	_, _, err = Resolve(root, Overrides{})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("config: expected ConfigurationError, got %v", err)
	}
}

func TestResolve_ExplicitContentDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, Anchor), "")
	content := filepath.Join(root, "authored")
	if err := os.MkdirAll(content, 0o755); err != nil {
		t.Fatal(err)
	}

	p, _, err := Resolve(root, Overrides{ContentDir: content})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ContentDir != content {
		t.Errorf("expected %s, got %s", content, p.ContentDir)
	}
}
