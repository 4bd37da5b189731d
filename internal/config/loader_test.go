package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAMLMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
backend:
  base_url: http://model-host:8080
  model: custom-model
loop:
  max_iterations: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "http://model-host:8080" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Loop.MaxIterations != 4 {
		t.Errorf("MaxIterations = %d", cfg.Loop.MaxIterations)
	}
	// Unset fields come from defaults.
	if cfg.Decoder.Timeout != 2*time.Minute {
		t.Errorf("Decoder.Timeout = %v, want default", cfg.Decoder.Timeout)
	}
	if cfg.Decoder.ProgressInterval != 500*time.Millisecond {
		t.Errorf("ProgressInterval = %v, want default", cfg.Decoder.ProgressInterval)
	}
	if cfg.Sessions.Driver != "memory" {
		t.Errorf("Sessions.Driver = %q, want default", cfg.Sessions.Driver)
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json5", `{
  // comments are allowed here
  backend: {base_url: "http://localhost:9999"},
  loop: {max_tool_calls: 7},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "http://localhost:9999" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Loop.MaxToolCalls != 7 {
		t.Errorf("MaxToolCalls = %d", cfg.Loop.MaxToolCalls)
	}
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
backend:
  base_url: http://base:1111
  model: base-model
`)
	path := writeFile(t, dir, "config.yaml", `
$include: base.yaml
backend:
  base_url: http://override:2222
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "http://override:2222" {
		t.Errorf("including file must win: %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Model != "base-model" {
		t.Errorf("untouched included values must survive: %q", cfg.Backend.Model)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("err = %v, want include cycle", err)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_MODEL", "env-model")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
backend:
  model: ${AGENTCORE_TEST_MODEL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.Model != "env-model" {
		t.Errorf("Model = %q, want env-expanded value", cfg.Backend.Model)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "no_such_section:\n  x: 1\n")

	if _, err := Load(path); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"zero decode timeout", func(c *Config) { c.Decoder.Timeout = 0 }, "decoder.timeout"},
		{"zero iterations", func(c *Config) { c.Loop.MaxIterations = 0 }, "max_iterations"},
		{"sqlite needs a path", func(c *Config) { c.Sessions.Driver = "sqlite" }, "sessions.path"},
		{"unknown driver", func(c *Config) { c.Sessions.Driver = "redis" }, "unsupported sessions driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRoleProfileConfigScopeValidation(t *testing.T) {
	good := RoleProfileConfig{
		PermissionLevel: 2,
		DataAccess:      map[string]string{"attendance": "scoped"},
	}
	if _, err := good.Profile("teacher"); err != nil {
		t.Fatalf("valid scope rejected: %v", err)
	}

	bad := RoleProfileConfig{DataAccess: map[string]string{"attendance": "everything"}}
	if _, err := bad.Profile("teacher"); err == nil {
		t.Fatal("invalid scope accepted")
	}
}
