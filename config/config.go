// Package config loads the agent's YAML configuration.
//
// The file lives at:
//   - Linux: $XDG_CONFIG_HOME/nfcv-agent/config.yaml or $HOME/.config/nfcv-agent/config.yaml
//   - macOS: $HOME/.config/nfcv-agent/config.yaml
//   - Windows: %LOCALAPPDATA%\nfcv-agent\config.yaml
//
// Missing fields keep their defaults. A missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/nedpals/nfcv-agent/buildinfo"
	"github.com/nedpals/nfcv-agent/logging"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const configFile = "config.yaml"

// FallbackLocale is used when the environment names no usable language.
const FallbackLocale = "it"

// Transport names accepted in Transports
const (
	TransportPCSC   = "pcsc"
	TransportLibNFC = "libnfc"
	TransportRemote = "remote"
)

// Config is the agent configuration.
type Config struct {
	// Device selects a reader by name; empty picks the first one found
	Device     string   `yaml:"device"`
	Transports []string `yaml:"transports"`
	Locale     string   `yaml:"locale"`
	LogLevel   string   `yaml:"logLevel"`
	Tray       bool     `yaml:"tray"`
	Bridge     Bridge   `yaml:"bridge"`
	Reader     Reader   `yaml:"reader"`
}

// Bridge configures the remote reader bridge.
type Bridge struct {
	Listen         string        `yaml:"listen"`
	MDNS           bool          `yaml:"mdns"`
	Name           string        `yaml:"name,omitempty"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// TLS serves wss:// with a certificate from a local CA in the system trust store
	TLS bool `yaml:"tls"`
	// BootstrapListen serves the CA over plain HTTP when TLS is on; empty disables it
	BootstrapListen string `yaml:"bootstrapListen"`
}

// Reader configures polling and the detection queue.
type Reader struct {
	PollInterval   time.Duration `yaml:"pollInterval"`
	RemovalTimeout time.Duration `yaml:"removalTimeout"`
	QueueSize      int           `yaml:"queueSize"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Transports: []string{TransportPCSC},
		Locale:     SystemLocale(),
		LogLevel:   logging.DefaultLevel,
		Tray:       true,
		Bridge: Bridge{
			Listen:          ":18393",
			MDNS:            true,
			RequestTimeout:  3 * time.Second,
			BootstrapListen: ":18394",
		},
		Reader: Reader{
			PollInterval:   100 * time.Millisecond,
			RemovalTimeout: 750 * time.Millisecond,
			QueueSize:      8,
		},
	}
}

// SystemLocale returns the language named by the first of LC_ALL, LC_MESSAGES and LANG
// that is set, as a BCP 47 tag ("de_DE.UTF-8" becomes "de-DE"). C, POSIX, unparsable or
// unset values give FallbackLocale.
func SystemLocale() string {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		v = strings.ReplaceAll(v, "_", "-")
		if v == "" || v == "C" || v == "POSIX" {
			return FallbackLocale
		}
		if _, err := language.Parse(v); err != nil {
			return FallbackLocale
		}
		return v
	}
	return FallbackLocale
}

// HasTransport reports whether name is enabled.
func (c *Config) HasTransport(name string) bool {
	for _, t := range c.Transports {
		if t == name {
			return true
		}
	}
	return false
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Transports) == 0 {
		errs = append(errs, errors.New("transports: at least one transport is required"))
	}
	seen := make(map[string]bool)
	for _, t := range c.Transports {
		switch t {
		case TransportPCSC, TransportLibNFC, TransportRemote:
		default:
			errs = append(errs, fmt.Errorf("transports: unknown transport %q", t))
		}
		if seen[t] {
			errs = append(errs, fmt.Errorf("transports: %q listed twice", t))
		}
		seen[t] = true
	}

	if _, err := language.Parse(c.Locale); err != nil {
		errs = append(errs, fmt.Errorf("locale: %w", err))
	}
	if !strings.EqualFold(c.LogLevel, "off") {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("logLevel: %w", err))
		}
	}

	if c.HasTransport(TransportRemote) {
		if c.Bridge.Listen == "" {
			errs = append(errs, errors.New("bridge.listen: required when the remote transport is enabled"))
		}
		if c.Bridge.RequestTimeout <= 0 {
			errs = append(errs, errors.New("bridge.requestTimeout: must be positive"))
		}
		if c.Bridge.TLS && c.Bridge.BootstrapListen != "" && c.Bridge.BootstrapListen == c.Bridge.Listen {
			errs = append(errs, errors.New("bridge.bootstrapListen: must differ from bridge.listen"))
		}
	}

	if c.Reader.PollInterval <= 0 {
		errs = append(errs, errors.New("reader.pollInterval: must be positive"))
	}
	if c.Reader.RemovalTimeout <= 0 {
		errs = append(errs, errors.New("reader.removalTimeout: must be positive"))
	}
	if c.Reader.QueueSize < 1 {
		errs = append(errs, errors.New("reader.queueSize: must be at least 1"))
	}

	return errors.Join(errs...)
}

// GetConfigDir returns the OS-appropriate configuration directory for the application.
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			localAppData = filepath.Join(userProfile, "AppData", "Local")
		}
		return filepath.Join(localAppData, buildinfo.DirName), nil

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", buildinfo.DirName), nil

	default:
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			return filepath.Join(xdgConfigHome, buildinfo.DirName), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", buildinfo.DirName), nil
	}
}

// DefaultPath returns the full path to the configuration file.
func DefaultPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the file at path over the defaults. An empty path means DefaultPath.
// The result is not validated, so that callers can apply overrides first.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path atomically. An empty path means DefaultPath.
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte("# " + buildinfo.DisplayName + " configuration\n\n")
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
