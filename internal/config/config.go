package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynbranch/internal/branch"
)

const (
	DefaultBackend       = "file"
	DefaultDataDir       = ".dynbranch"
	DefaultSystemsDir    = "systems"
	DefaultSolverTimeout = 10 * time.Minute
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultProfile       = "local_preview"
)

type Config struct {
	Store             StoreConfig     `yaml:"store"`
	Solver            SolverConfig    `yaml:"solver"`
	Logging           LoggingConfig   `yaml:"logging"`
	Metrics           MetricsConfig   `yaml:"metrics"`
	Continuation      branch.Settings `yaml:"continuation"`
	Manifold2DProfile string          `yaml:"manifold2d_profile"`
	SystemsDir        string          `yaml:"systems_dir"`
}

type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file badger memory"`
	Path    string `yaml:"path" validate:"required_unless=Backend memory"`
}

type SolverConfig struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

type MetricsConfig struct {
	// Textfile is where derivation metrics are written after each command.
	// Empty disables the dump.
	Textfile string `yaml:"textfile"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: DefaultBackend,
			Path:    DefaultDataDir,
		},
		Solver: SolverConfig{
			Timeout: DefaultSolverTimeout,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Continuation:      branch.DefaultSettings(),
		Manifold2DProfile: DefaultProfile,
		SystemsDir:        DefaultSystemsDir,
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Manifold2DProfile != "" && !knownProfile(c.Manifold2DProfile) {
		return fmt.Errorf("unknown manifold2d_profile %q", c.Manifold2DProfile)
	}
	return nil
}

// ContinuationSettings returns the configured defaults, clamped.
func (c *Config) ContinuationSettings() branch.Settings {
	return c.Continuation.Clamp()
}

// LoadSystem reads a system definition file.
func LoadSystem(path string) (branch.System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return branch.System{}, err
	}
	var sys branch.System
	if err := yaml.Unmarshal(data, &sys); err != nil {
		return branch.System{}, fmt.Errorf("system %s: %w", path, err)
	}
	if sys.Name == "" {
		sys.Name = trimExt(filepath.Base(path))
	}
	if sys.Type == "" {
		sys.Type = branch.Flow
	}
	if err := sys.Validate(); err != nil {
		return branch.System{}, err
	}
	return sys, nil
}

// SaveSystem writes sys as YAML.
func SaveSystem(path string, sys branch.System) error {
	data, err := yaml.Marshal(sys)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// FindSystem loads <dir>/<name>.yaml, falling back to .yml.
func FindSystem(dir, name string) (branch.System, error) {
	var firstErr error
	for _, ext := range []string{".yaml", ".yml"} {
		sys, err := LoadSystem(filepath.Join(dir, name+ext))
		if err == nil {
			return sys, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return branch.System{}, fmt.Errorf("system %q: %w", name, firstErr)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
