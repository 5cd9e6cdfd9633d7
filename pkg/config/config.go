// Package config reads tasksmith settings from TASKSMITH_* environment
// variables, after loading a .env file when one is present.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/trace"
)

// Transports understood by TASKSMITH_ACTION_TRANSPORT.
const (
	TransportStdio   = "stdio"
	TransportJSONRPC = "jsonrpc"
)

// Config holds every tunable of the CLI and the MCP server.
type Config struct {
	ScenariosDir string `env:"TASKSMITH_SCENARIOS_DIR" envDefault:"scenarios"`
	EnvsDir      string `env:"TASKSMITH_ENVS_DIR" envDefault:"envs"`
	DataTmpDir   string `env:"TASKSMITH_DATA_TMP_DIR"`
	// Catalog is an optional tools.yaml served as action metadata instead of
	// asking the runner.
	Catalog string `env:"TASKSMITH_CATALOG"`

	ActionCommand   string        `env:"TASKSMITH_ACTION_COMMAND" envDefault:"python3"`
	ActionArgs      []string      `env:"TASKSMITH_ACTION_ARGS" envSeparator:","`
	ActionTransport string        `env:"TASKSMITH_ACTION_TRANSPORT" envDefault:"stdio"`
	ActionTimeout   time.Duration `env:"TASKSMITH_ACTION_TIMEOUT" envDefault:"30s"`

	StrictRequired bool   `env:"TASKSMITH_STRICT_REQUIRED" envDefault:"false"`
	AutoAudit      bool   `env:"TASKSMITH_AUTO_AUDIT" envDefault:"false"`
	AuditUserParam string `env:"TASKSMITH_AUDIT_USER_PARAM" envDefault:"performing_user_id"`

	LogLevel  string `env:"TASKSMITH_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TASKSMITH_LOG_FORMAT" envDefault:"console"`
	Trace     string `env:"TASKSMITH_TRACE"`
	// TraceRedact lists regular expressions scrubbed from trace event data.
	TraceRedact []string `env:"TASKSMITH_TRACE_REDACT" envSeparator:";"`
}

// Load reads .env from the working directory, then the process environment.
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	return parse(env.Options{})
}

// Parse reads configuration from the given variables only.
func Parse(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DataTmpDir == "" {
		cfg.DataTmpDir = os.TempDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	var errs []error
	switch c.ActionTransport {
	case TransportStdio, TransportJSONRPC:
	default:
		errs = append(errs, fmt.Errorf("TASKSMITH_ACTION_TRANSPORT %q: want %s or %s", c.ActionTransport, TransportStdio, TransportJSONRPC))
	}
	if c.ActionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TASKSMITH_ACTION_TIMEOUT must be positive, got %s", c.ActionTimeout))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("TASKSMITH_LOG_FORMAT %q: want console or json", c.LogFormat))
	}
	if c.AuditUserParam == "" {
		errs = append(errs, errors.New("TASKSMITH_AUDIT_USER_PARAM must not be empty"))
	}
	if _, err := trace.CompileRedactions(c.TraceRedact); err != nil {
		errs = append(errs, fmt.Errorf("TASKSMITH_TRACE_REDACT: %w", err))
	}
	return errors.Join(errs...)
}

// LoadDotEnv sets the KEY=VALUE pairs of path that are not already set in
// the environment. A missing file is not an error. Blank lines and lines
// starting with # are skipped; surrounding quotes are removed.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
	return scanner.Err()
}
