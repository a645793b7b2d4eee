package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv,
// e.g. STATICSERVE_SERVER_PORT or STATICSERVE_LOGGING_LEVEL.
const EnvPrefix = "STATICSERVE"

var validate = validator.New()

// Load builds the process configuration. Sources are applied in increasing
// precedence: built-in defaults, the config file named by opts, the
// environment, then command-line flags. The result is normalised and validated.
func Load(opts *CLIOptions) (*Config, error) {
	cfg := Default()
	if opts != nil && opts.ConfigPath != "" {
		if err := LoadFile(opts.ConfigPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if opts != nil {
		opts.Apply(cfg)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes the file at path over cfg. Keys absent from the file keep
// their current values. The format follows the extension (.toml, .json, .yaml,
// .yml); any other extension is tried as JSON, then TOML.
func LoadFile(path string, cfg *Config) error {
	if path == "" {
		return &ConfigError{Message: "configuration file path cannot be empty"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{FilePath: path, Message: "failed to read configuration file", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &ConfigError{FilePath: path, Message: "configuration file is empty"}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = decodeTOML(data, cfg)
	case ".json":
		err = decodeJSON(data, cfg)
	case ".yaml", ".yml":
		err = decodeYAML(data, cfg)
	default:
		// Decode into a scratch copy so a failed JSON attempt leaves cfg untouched.
		scratch := *cfg
		if jsonErr := decodeJSON(data, &scratch); jsonErr == nil {
			*cfg = scratch
			return nil
		} else if tomlErr := decodeTOML(data, cfg); tomlErr != nil {
			return &ConfigError{
				FilePath: path,
				Message:  "failed to auto-detect configuration format",
				Err:      errors.Join(jsonErr, tomlErr),
			}
		}
		return nil
	}
	if err != nil {
		return &ConfigError{FilePath: path, Message: "failed to parse configuration file", Err: err}
	}
	return nil
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("toml: unknown keys %v", undecoded)
	}
	return nil
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with any STATICSERVE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return &ConfigError{Message: "invalid environment configuration", Err: err}
	}
	return nil
}

func (c *Config) normalize() error {
	root, err := filepath.Abs(c.Server.RootDirectory)
	if err != nil {
		return &ConfigError{Message: fmt.Sprintf("cannot resolve root directory %q", c.Server.RootDirectory), Err: err}
	}
	c.Server.RootDirectory = root

	if len(c.Server.MimeTypes) > 0 {
		c.Server.MimeTypes = lo.MapKeys(c.Server.MimeTypes, func(_ string, ext string) string {
			return strings.ToLower(ext)
		})
	}
	return nil
}

// Validate checks cfg for structural and semantic errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Message: "configuration cannot be nil"}
	}
	if err := validate.Struct(cfg); err != nil {
		return &ConfigError{Message: "invalid configuration", Err: err}
	}

	fi, err := os.Stat(cfg.Server.RootDirectory)
	if err != nil {
		return &ConfigError{Message: "root directory is not accessible", Err: err}
	}
	if !fi.IsDir() {
		return &ConfigError{Message: fmt.Sprintf("root directory %q is not a directory", cfg.Server.RootDirectory)}
	}

	if cfg.Server.CompressPattern != "" {
		if _, err := regexp.Compile(cfg.Server.CompressPattern); err != nil {
			return &ConfigError{Message: "invalid compress_pattern", Err: err}
		}
	}

	for ext, mimeType := range cfg.Server.MimeTypes {
		if !strings.HasPrefix(ext, ".") {
			return &ConfigError{Message: fmt.Sprintf("invalid extension %q in mime_types: must start with a '.'", ext)}
		}
		if mimeType == "" {
			return &ConfigError{Message: fmt.Sprintf("empty MIME type for extension %q", ext)}
		}
	}

	for name, target := range map[string]string{
		"access_target": cfg.Logging.AccessTarget,
		"error_target":  cfg.Logging.ErrorTarget,
	} {
		if IsFilePath(target) && !filepath.IsAbs(target) {
			return &ConfigError{Message: fmt.Sprintf("logging.%s must be 'stdout', 'stderr' or an absolute path, got %q", name, target)}
		}
	}
	return nil
}
