// Package config loads tome's YAML configuration file and applies
// environment overrides for secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmakela/tome/pkg/api"
)

// Duration accepts human-readable YAML values like "500ms" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root of the tome configuration document.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	LLM      LLMConfig      `yaml:"llm"`
	Review   ReviewConfig   `yaml:"review"`
	Notify   NotifyConfig   `yaml:"notify"`
	Workflow WorkflowConfig `yaml:"workflow"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, redis.
	Driver string `yaml:"driver"`

	// DSN is the driver-specific connection string: a file path for
	// sqlite, a postgres:// URL, or a redis host:port address. Unused by
	// the memory driver.
	DSN string `yaml:"dsn"`
}

// LLMConfig configures the text generator.
type LLMConfig struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
}

// ReviewConfig locates the reviewer-facing workbook.
type ReviewConfig struct {
	Workbook string `yaml:"workbook"`
}

// NotifyConfig configures the SMTP sink. Leaving Host empty disables email;
// notifications then only reach the log.
type NotifyConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// WorkflowConfig tunes orchestration behavior.
type WorkflowConfig struct {
	MaxAttempts       int      `yaml:"max_attempts"`
	InitialBackoff    Duration `yaml:"initial_backoff"`
	MaxBackoff        Duration `yaml:"max_backoff"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`

	// FinalReview inserts a whole-manuscript review checkpoint after the
	// last chapter is summarized.
	FinalReview bool `yaml:"final_review"`

	// PollInterval is how often the watch command checks for feedback.
	PollInterval Duration `yaml:"poll_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Driver: "memory"},
		LLM:   LLMConfig{Model: "gpt-4o", Temperature: 0.7},
		Workflow: WorkflowConfig{
			MaxAttempts:       3,
			InitialBackoff:    Duration(500 * time.Millisecond),
			MaxBackoff:        Duration(8 * time.Second),
			BackoffMultiplier: 2.0,
			PollInterval:      Duration(30 * time.Second),
		},
	}
}

// Load reads the configuration file at path. When path is empty, the
// $TOME_CONFIG environment variable is consulted; when that is empty too,
// defaults apply. Values absent from the file keep their defaults.
//
// Secrets may come from the environment instead of the file and win over
// file values: TOME_OPENAI_API_KEY, TOME_SMTP_PASSWORD, TOME_STORE_DSN.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TOME_CONFIG")
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TOME_OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("TOME_SMTP_PASSWORD"); v != "" {
		c.Notify.Password = v
	}
	if v := os.Getenv("TOME_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
}

// Validate checks everything the selected backends require and reports all
// problems at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres", "redis":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required (or set TOME_OPENAI_API_KEY)"))
	}
	if c.Review.Workbook == "" {
		errs = append(errs, errors.New("review.workbook is required"))
	}
	if c.Notify.Host != "" {
		if c.Notify.From == "" {
			errs = append(errs, errors.New("notify.from is required when notify.host is set"))
		}
		if len(c.Notify.To) == 0 {
			errs = append(errs, errors.New("notify.to is required when notify.host is set"))
		}
	}
	if c.Workflow.MaxAttempts < 1 {
		errs = append(errs, errors.New("workflow.max_attempts must be >= 1"))
	}
	return errors.Join(errs...)
}

// RetryPolicy maps the workflow section onto the orchestrator's policy.
func (c *Config) RetryPolicy() api.RetryPolicy {
	return api.RetryPolicy{
		MaxAttempts:       c.Workflow.MaxAttempts,
		InitialBackoff:    c.Workflow.InitialBackoff.Std(),
		MaxBackoff:        c.Workflow.MaxBackoff.Std(),
		BackoffMultiplier: c.Workflow.BackoffMultiplier,
	}
}
