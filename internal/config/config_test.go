package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TOME_CONFIG", "")
	t.Setenv("TOME_OPENAI_API_KEY", "")
	t.Setenv("TOME_SMTP_PASSWORD", "")
	t.Setenv("TOME_STORE_DSN", "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tome.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected memory driver, got %q", cfg.Store.Driver)
	}
	if cfg.LLM.Model != "gpt-4o" || cfg.LLM.Temperature != 0.7 {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if cfg.Workflow.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.Workflow.MaxAttempts)
	}
	if cfg.Workflow.InitialBackoff.Std() != 500*time.Millisecond {
		t.Fatalf("unexpected initial backoff: %v", cfg.Workflow.InitialBackoff.Std())
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
store:
  driver: SQLite
  dsn: tome.db
llm:
  model: gpt-4o-mini
  api_key: sk-file
review:
  workbook: reviews.xlsx
notify:
  host: mail.example.com
  from: tome@example.com
  to:
    - editor@example.com
workflow:
  max_attempts: 5
  initial_backoff: 250ms
  max_backoff: 4s
  final_review: true
  poll_interval: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("driver not normalized: %q", cfg.Store.Driver)
	}
	if cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.APIKey != "sk-file" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Workflow.MaxAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", cfg.Workflow.MaxAttempts)
	}
	if cfg.Workflow.InitialBackoff.Std() != 250*time.Millisecond {
		t.Fatalf("unexpected backoff: %v", cfg.Workflow.InitialBackoff.Std())
	}
	if !cfg.Workflow.FinalReview {
		t.Fatal("final_review not read")
	}
	if cfg.Workflow.PollInterval.Std() != 10*time.Second {
		t.Fatalf("unexpected poll interval: %v", cfg.Workflow.PollInterval.Std())
	}
	if len(cfg.Notify.To) != 1 || cfg.Notify.To[0] != "editor@example.com" {
		t.Fatalf("unexpected recipients: %v", cfg.Notify.To)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Workflow.BackoffMultiplier != 2.0 {
		t.Fatalf("default multiplier lost: %v", cfg.Workflow.BackoffMultiplier)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  api_key: sk-file
store:
  driver: sqlite
  dsn: file.db
`)
	t.Setenv("TOME_OPENAI_API_KEY", "sk-env")
	t.Setenv("TOME_STORE_DSN", "env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Fatalf("env api key should win, got %q", cfg.LLM.APIKey)
	}
	if cfg.Store.DSN != "env.db" {
		t.Fatalf("env dsn should win, got %q", cfg.Store.DSN)
	}
}

func TestLoad_ConfigEnvVarPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "store:\n  driver: redis\n  dsn: localhost:6379\n")
	t.Setenv("TOME_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "redis" {
		t.Fatalf("config from $TOME_CONFIG not read: %q", cfg.Store.Driver)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "workflow:\n  initial_backoff: fast\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Store: StoreConfig{Driver: "sqlite"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"store.dsn is required",
		"llm.model is required",
		"llm.api_key is required",
		"review.workbook is required",
		"workflow.max_attempts must be >= 1",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("missing %q in: %s", want, msg)
		}
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "cassandra"
	cfg.LLM.APIKey = "sk"
	cfg.Review.Workbook = "reviews.xlsx"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown store.driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 3 {
		t.Fatalf("unexpected attempts: %d", policy.MaxAttempts)
	}
	if policy.InitialBackoff != 500*time.Millisecond || policy.MaxBackoff != 8*time.Second {
		t.Fatalf("unexpected backoff: %+v", policy)
	}
	if policy.BackoffMultiplier != 2.0 {
		t.Fatalf("unexpected multiplier: %v", policy.BackoffMultiplier)
	}
}
