package bubbleads

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bubbleads.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_DefaultsAndNormalization(t *testing.T) {
	path := writeConfig(t, `
domains:
  - Social.Example
  - https://bücher.example/
sharkey:
  base_url: https://shonk.example
  token: tok
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Domains[0] != "social.example" || cfg.Domains[1] != "xn--bcher-kva.example" {
		t.Errorf("domains: %v", cfg.Domains)
	}
	if cfg.Select != 5 || cfg.Workers != 6 || cfg.ScanLimit != 60 {
		t.Errorf("defaults: %+v", cfg)
	}
	if cfg.Folder != "Advertisements" || cfg.DedupMode != "reuse" {
		t.Errorf("defaults: folder=%q mode=%q", cfg.Folder, cfg.DedupMode)
	}
}

func TestLoadConfig_EnvTokenWins(t *testing.T) {
	// WHAT: SHARKEY_TOKEN from the environment overrides the file.
	// WHY: The credential should never need to live in the config file.
	path := writeConfig(t, `
domains: [a.example]
sharkey:
  base_url: https://shonk.example
  token: from-file
`)
	t.Setenv("SHARKEY_TOKEN", "from-env")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sharkey.Token != "from-env" {
		t.Errorf("token: got %q", cfg.Sharkey.Token)
	}
}

func TestLoadConfig_MissingCredentials(t *testing.T) {
	path := writeConfig(t, `
domains: [a.example]
`)
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("got %v, want ErrMissingCredentials", err)
	}
}

func TestLoadConfig_DryRunNeedsNoCredentials(t *testing.T) {
	path := writeConfig(t, `
domains: [a.example]
sharkey:
  dry_run: true
`)
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("dry run should not need credentials: %v", err)
	}
}

func TestValidate_RejectsBadInput(t *testing.T) {
	bad := []*Config{
		{}, // no domains
		{Domains: []string{"   "}, Sharkey: SharkeyConfig{DryRun: true}},
		{Domains: []string{"a.example"}, DedupMode: "copy", Sharkey: SharkeyConfig{DryRun: true}},
	}
	for i, cfg := range bad {
		cfg.defaults()
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d should fail validation", i)
		}
	}
}
