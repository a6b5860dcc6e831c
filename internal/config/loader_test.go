package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("AF_SET", "from-env")

	cases := map[string]string{
		"${AF_SET}":              "from-env",
		"${AF_SET:fallback}":     "from-env",
		"${AF_MISSING:fallback}": "fallback",
		"${AF_MISSING:}":         "",
		"${AF_MISSING}":          "${AF_MISSING}",
		"plain":                  "plain",
	}
	for in, want := range cases {
		if got := expandEnv(in); got != want {
			t.Fatalf("expandEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadFromAppliesFilesEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "test")
	t.Setenv("AF_JWT_SECRET", "s3cret")

	writeConfig(t, dir, "config.yaml", `
app:
  name: articleforge-api
database:
  driver: memory
security:
  jwt:
    secret: ${AF_JWT_SECRET}
credits:
  costs:
    article: 7
`)
	writeConfig(t, dir, "config.test.yaml", `
credits:
  refund_on_failure: true
generation:
  enhance_concurrency: 2
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Security.JWT.Secret != "s3cret" {
		t.Fatalf("jwt secret = %q", cfg.Security.JWT.Secret)
	}
	if cfg.Credits.Costs.Article != 7 || cfg.Credits.Costs.Titles != 1 {
		t.Fatalf("costs = %+v", cfg.Credits.Costs)
	}
	if !cfg.Credits.RefundOnFailure {
		t.Fatalf("environment overlay not merged")
	}
	if cfg.Generation.EnhanceConcurrency != 2 {
		t.Fatalf("enhance concurrency = %d", cfg.Generation.EnhanceConcurrency)
	}
	if cfg.Research.MaxChars != 2000 {
		t.Fatalf("research max chars default = %d", cfg.Research.MaxChars)
	}
	if cfg.Generation.SessionTTL != 2*time.Hour {
		t.Fatalf("session ttl = %v", cfg.Generation.SessionTTL)
	}
	if p, ok := cfg.LLM.Providers["openai"]; !ok || p.Driver != "eino" {
		t.Fatalf("default provider missing: %+v", cfg.LLM.Providers)
	}
}

func TestLoadFromRejectsMissingJWTSecret(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "test")
	writeConfig(t, dir, "config.yaml", "database:\n  driver: memory\n")

	if _, err := LoadFrom(dir); err == nil {
		t.Fatalf("expected validation error for empty jwt secret")
	}
}
