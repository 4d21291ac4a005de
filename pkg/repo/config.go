package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBranchName is used when neither the caller nor the origin names a
// default branch.
const DefaultBranchName = "master"

// Config stores clone-local settings.
type Config struct {
	Origin        string `json:"origin,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

func (c Config) defaultBranch() string {
	if b := strings.TrimSpace(c.DefaultBranch); b != "" {
		return b
	}
	return DefaultBranchName
}

func (r *Repo) configPath() string {
	return filepath.Join(r.Dir, "config.json")
}

// ReadConfig reads config.json. Missing config returns an empty config.
func (r *Repo) ReadConfig() (*Config, error) {
	data, err := os.ReadFile(r.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("read config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// WriteConfig atomically writes config.json.
func (r *Repo) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("write config: marshal: %w", err)
	}
	if err := writeFileAtomic(r.Dir, r.configPath(), data); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultBranch returns the configured default branch name.
func (r *Repo) DefaultBranch() (string, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return "", err
	}
	return cfg.defaultBranch(), nil
}

func writeFileAtomic(dir, dest string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
