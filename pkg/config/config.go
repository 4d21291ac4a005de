// Package config loads docstore settings from a YAML or TOML file with
// DOCSTORE_* environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/remote"
)

type Config struct {
	// Origin is the base locator; a repository without its own remote
	// lives at Origin/<name>.
	Origin        string             `yaml:"origin" toml:"origin"`
	LocalRoot     string             `yaml:"local_root" toml:"local_root"`
	DefaultBranch string             `yaml:"default_branch" toml:"default_branch"`
	Directory     string             `yaml:"directory" toml:"directory"`
	Committer     object.Ident       `yaml:"committer" toml:"committer"`
	Credentials   remote.Credentials `yaml:"credentials" toml:"credentials"`
	SigningKey    string             `yaml:"signing_key" toml:"signing_key"`
	LogLevel      string             `yaml:"log_level" toml:"log_level"`
	CacheSize     int                `yaml:"cache_size" toml:"cache_size"`
	Server        ServerConfig       `yaml:"server" toml:"server"`
	Tracing       TracingConfig      `yaml:"tracing" toml:"tracing"`

	Repositories map[string]RepositoryConfig `yaml:"repositories" toml:"repositories"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr" toml:"addr"`
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"` // "" serves /metrics on Addr
	DataDir     string `yaml:"data_dir" toml:"data_dir"`
	AutoInit    bool   `yaml:"auto_init" toml:"auto_init"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" toml:"endpoint"` // OTLP/HTTP host:port; "" disables tracing
	ServiceName string `yaml:"service_name" toml:"service_name"`
	Insecure    bool   `yaml:"insecure" toml:"insecure"`
}

// RepositoryConfig overrides the defaults for one repository. Empty fields
// fall back to the top-level values.
type RepositoryConfig struct {
	Remote        string `yaml:"remote" toml:"remote"`
	DefaultBranch string `yaml:"default_branch" toml:"default_branch"`
	Directory     string `yaml:"directory" toml:"directory"`
	LocalPath     string `yaml:"local_path" toml:"local_path"`
}

func Default() *Config {
	return &Config{
		LocalRoot: "data/clones",
		Committer: object.Ident{Name: "docstore", Email: "docstore@localhost"},
		LogLevel:  "info",
		CacheSize: 4096,
		Server: ServerConfig{
			Addr:     "127.0.0.1:8420",
			DataDir:  "data/origins",
			AutoInit: true,
		},
		Tracing: TracingConfig{
			ServiceName: "docstore",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path loads only defaults and environment. Files ending in .toml are
// parsed as TOML, anything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DOCSTORE_ORIGIN"); v != "" {
		cfg.Origin = v
	}
	if v := os.Getenv("DOCSTORE_LOCAL_ROOT"); v != "" {
		cfg.LocalRoot = v
	}
	if v := os.Getenv("DOCSTORE_DEFAULT_BRANCH"); v != "" {
		cfg.DefaultBranch = v
	}
	if v := os.Getenv("DOCSTORE_DIRECTORY"); v != "" {
		cfg.Directory = v
	}
	if v := os.Getenv("DOCSTORE_COMMITTER_NAME"); v != "" {
		cfg.Committer.Name = v
	}
	if v := os.Getenv("DOCSTORE_COMMITTER_EMAIL"); v != "" {
		cfg.Committer.Email = v
	}
	if v := os.Getenv("DOCSTORE_TOKEN"); v != "" {
		cfg.Credentials.Token = v
	}
	if v := os.Getenv("DOCSTORE_USERNAME"); v != "" {
		cfg.Credentials.Username = v
	}
	if v := os.Getenv("DOCSTORE_PASSWORD"); v != "" {
		cfg.Credentials.Password = v
	}
	if v := os.Getenv("DOCSTORE_SIGNING_KEY"); v != "" {
		cfg.SigningKey = v
	}
	if v := os.Getenv("DOCSTORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DOCSTORE_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CacheSize = n
		}
	}
	if v := os.Getenv("DOCSTORE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DOCSTORE_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("DOCSTORE_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("DOCSTORE_AUTO_INIT"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Server.AutoInit = enabled
		}
	}
	if v := os.Getenv("DOCSTORE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("DOCSTORE_OTLP_INSECURE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Insecure = enabled
		}
	}
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(c.LocalRoot) == "" {
		return fmt.Errorf("local_root must be configured")
	}
	if err := validateIdent(c.Committer); err != nil {
		return fmt.Errorf("committer: %w", err)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative (got %d)", c.CacheSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	for name := range c.Repositories {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return fmt.Errorf("repositories: invalid name %q", name)
		}
	}
	return nil
}

func validateIdent(id object.Ident) error {
	if strings.TrimSpace(id.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(id.Name, "<>\n") {
		return fmt.Errorf("name %q contains < > or a newline", id.Name)
	}
	addr, err := mail.ParseAddress(id.Email)
	if err != nil || addr.Address != id.Email {
		return fmt.Errorf("malformed email %q", id.Email)
	}
	return nil
}

// Level parses LogLevel for slog.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Repository returns the effective settings for name.
func (c *Config) Repository(name string) RepositoryConfig {
	rc := c.Repositories[name]
	if rc.Remote == "" && c.Origin != "" {
		rc.Remote = joinLocator(c.Origin, name)
	}
	if rc.LocalPath == "" {
		rc.LocalPath = filepath.Join(c.LocalRoot, name)
	}
	if rc.DefaultBranch == "" {
		rc.DefaultBranch = c.DefaultBranch
	}
	if rc.Directory == "" {
		rc.Directory = c.Directory
	}
	return rc
}

func joinLocator(base, name string) string {
	if strings.Contains(base, "://") {
		return strings.TrimRight(base, "/") + "/" + name
	}
	return filepath.Join(base, name)
}
