package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces the environment overrides.
const envPrefix = "RESPDIFF_"

// Config represents the complete configuration for respdiff
type Config struct {
	ResultsDir     string   `yaml:"results_dir"`
	DBPath         string   `yaml:"db_path"`
	Addr           string   `yaml:"addr"`
	CORSOrigins    []string `yaml:"cors_origins"`
	LogLevel       string   `yaml:"log_level"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
	ScanWorkers    int      `yaml:"scan_workers"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		ResultsDir:     "results_to_compare",
		Addr:           "127.0.0.1:5000",
		CORSOrigins:    []string{"*"},
		LogLevel:       "info",
		IgnorePatterns: []string{},
		ScanWorkers:    8,
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration from, in increasing precedence: defaults,
// the YAML file at path (or one found by FindConfigFile when path is
// empty), a .env file in the working directory and RESPDIFF_* variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindConfigFile()
	}

	cfg := NewConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile returns the first config file present in the working
// directory, or "" when there is none
func FindConfigFile() string {
	for _, name := range []string{"respdiff.yaml", "respdiff.yml", ".respdiff.yaml", ".respdiff.yml"} {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name
		}
	}
	return ""
}

// ApplyEnv overrides fields from RESPDIFF_* variables. List values are
// comma separated, except ignore patterns which are separated by ';' since
// a regular expression may contain commas.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("RESULTS_DIR"); ok {
		c.ResultsDir = v
	}
	if v, ok := get("DB_PATH"); ok {
		c.DBPath = v
	}
	if v, ok := get("ADDR"); ok {
		c.Addr = v
	}
	if v, ok := get("CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v, ",")
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("IGNORE_PATTERNS"); ok {
		c.IgnorePatterns = splitList(v, ";")
	}
	if v, ok := get("SCAN_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSCAN_WORKERS %q: %w", envPrefix, v, err)
		}
		c.ScanWorkers = n
	}
	return nil
}

// Validate checks the configuration and compiles the ignore patterns
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ResultsDir) == "" {
		return errors.New("results_dir is required")
	}
	if c.ScanWorkers < 1 {
		return fmt.Errorf("scan_workers must be positive, got %d", c.ScanWorkers)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return c.compilePatterns()
}

// compilePatterns checks every ignore pattern compiles
func (c *Config) compilePatterns() error {
	for _, p := range c.IgnorePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid ignore pattern '%s': %w", p, err)
		}
	}
	return nil
}

// Level parses the configured log level
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// DatabasePath returns db_path, defaulting to progress.db beside the
// results directory
func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	dir := c.ResultsDir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return filepath.Join(filepath.Dir(dir), "progress.db")
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
