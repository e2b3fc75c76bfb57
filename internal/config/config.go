// Package config provides configuration management for constructor-manager.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultConfigDir  = ".config/constructor-manager"
	DefaultConfigFile = "config.yaml"

	// DefaultChannel is the channel queried and installed from when neither
	// the config nor the invocation names one.
	DefaultChannel = "conda-forge"

	// DefaultIndexURL is the public anaconda.org API endpoint.
	DefaultIndexURL = "https://api.anaconda.org"
)

// Sentinel errors for configuration operations.
var (
	ErrInvalidKey    = errors.New("invalid configuration key")
	ErrInvalidBinary = errors.New("invalid package-manager binary")
	ErrNoEditor      = errors.New("$EDITOR environment variable not set")
)

// validBinaries contains the recognized package-manager binary selections.
// Anything else must be a path to an executable.
var validBinaries = map[string]bool{
	"auto":  true,
	"conda": true,
	"mamba": true,
}

// validKeys is built once from Config struct reflection.
var validKeys = buildValidKeys()

// validate is the shared validator instance.
var validate = validator.New()

// Config represents the full constructor-manager configuration.
type Config struct {
	// Prefix is the installation root. Empty means auto-detect from the
	// running executable's location.
	Prefix     string      `mapstructure:"prefix"`
	Channel    string      `mapstructure:"channel" validate:"required"`
	PluginsURL string      `mapstructure:"plugins_url" validate:"omitempty,url"`
	Conda      CondaConfig `mapstructure:"conda"`
	Lock       LockConfig  `mapstructure:"lock"`
	Index      IndexConfig `mapstructure:"index"`
}

// CondaConfig holds package-manager invocation configuration.
type CondaConfig struct {
	// Binary selects the CLI: auto (mamba preferred), conda, mamba, or an
	// explicit path.
	Binary string `mapstructure:"binary" validate:"required"`

	// TimeoutMinutes bounds each invocation. Zero disables the timeout.
	TimeoutMinutes int `mapstructure:"timeout_minutes" validate:"min=0"`

	// Flags are extra flags appended to every mutating invocation.
	Flags map[string]any `mapstructure:"flags"`
}

// LockConfig holds conda-lock invocation configuration.
type LockConfig struct {
	// Binary is the conda-lock executable. Empty means resolve from PATH,
	// offering to install it when missing.
	Binary string `mapstructure:"binary"`

	// TimeoutMinutes bounds each solve. Zero disables the timeout.
	TimeoutMinutes int `mapstructure:"timeout_minutes" validate:"min=0"`
}

// IndexConfig holds package-index endpoint configuration.
type IndexConfig struct {
	URL            string `mapstructure:"url" validate:"required,url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"min=0"`
}

// Validate checks the configuration for errors using struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// IsValidBinary reports whether name is a recognized binary selection or
// looks like an executable path.
func IsValidBinary(name string) bool {
	return validBinaries[name] || strings.ContainsRune(name, os.PathSeparator)
}

// ValidBinaryNames returns the recognized binary selections.
func ValidBinaryNames() []string {
	return []string{"auto", "conda", "mamba"}
}

// Loader provides configuration loading and saving.
type Loader struct {
	v       *viper.Viper
	path    string
	homeDir string
}

// NewLoader creates a new configuration loader.
func NewLoader() (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}

	configPath := filepath.Join(home, DefaultConfigDir, DefaultConfigFile)

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Environment variable binding
	v.SetEnvPrefix("CONSTRUCTOR_MANAGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific env vars to config keys.
	// We intentionally ignore errors here as BindEnv only fails if called with zero arguments.
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("prefix", "CONSTRUCTOR_MANAGER_PREFIX")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("channel", "CONSTRUCTOR_MANAGER_CHANNEL")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("plugins_url", "CONSTRUCTOR_MANAGER_PLUGINS_URL")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("conda.binary", "CONSTRUCTOR_MANAGER_CONDA_BINARY")

	l := &Loader{
		v:       v,
		path:    configPath,
		homeDir: home,
	}

	// Set defaults before any config reading
	l.setDefaults()

	return l, nil
}

// setDefaults sets all default configuration values using Viper.
func (l *Loader) setDefaults() {
	l.v.SetDefault("prefix", "")
	l.v.SetDefault("channel", DefaultChannel)
	l.v.SetDefault("plugins_url", "")
	l.v.SetDefault("conda.binary", "auto")
	l.v.SetDefault("conda.timeout_minutes", 30)
	l.v.SetDefault("conda.flags", map[string]any{})
	l.v.SetDefault("lock.binary", "")
	l.v.SetDefault("lock.timeout_minutes", 30)
	l.v.SetDefault("index.url", DefaultIndexURL)
	l.v.SetDefault("index.timeout_seconds", 60)
}

// Load reads the configuration file, creating defaults if it doesn't exist.
func (l *Loader) Load() (*Config, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := l.createDefault(); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Expand paths
	cfg.Prefix = l.expandPath(cfg.Prefix)
	cfg.Lock.Binary = l.expandPath(cfg.Lock.Binary)

	return &cfg, nil
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Get returns a configuration value by dot-notation key.
func (l *Loader) Get(key string) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return l.v.Get(key), nil
}

// Set sets a configuration value by dot-notation key.
func (l *Loader) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	// Validate binary selection if setting conda.binary
	if key == "conda.binary" && value != "" {
		if !IsValidBinary(value) {
			return fmt.Errorf("%w: %s (valid: auto, conda, mamba, or a path)", ErrInvalidBinary, value)
		}
	}

	l.v.Set(key, value)
	return l.v.WriteConfig()
}

// createDefault writes the default configuration file using Viper.
func (l *Loader) createDefault() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return l.v.SafeWriteConfigAs(l.path)
}

// expandPath replaces ~ with the home directory.
func (l *Loader) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(l.homeDir, path[2:])
	}
	if path == "~" {
		return l.homeDir
	}
	return path
}

// ValidateKey checks if a key is a valid configuration key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	// Check for exact match in derived valid keys
	if validKeys[key] {
		return nil
	}

	// conda.flags is an open map; any flag name below it is valid.
	if strings.HasPrefix(key, "conda.flags.") && len(key) > len("conda.flags.") {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalidKey, key)
}

// buildValidKeys builds the set of valid keys from Config struct using reflection.
func buildValidKeys() map[string]bool {
	keys := make(map[string]bool)
	addKeysFromType(reflect.TypeOf(Config{}), "", keys)
	return keys
}

// addKeysFromType recursively adds keys from a struct type.
func addKeysFromType(t reflect.Type, prefix string, keys map[string]bool) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		keys[key] = true

		// Recurse into nested structs (but not maps)
		if field.Type.Kind() == reflect.Struct {
			addKeysFromType(field.Type, key, keys)
		}
	}
}
