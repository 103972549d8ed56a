package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gtmills/ensuressl/internal/sslkey"
)

// Config represents the ensuressl configuration file
type Config struct {
	Path         string         `yaml:"path"`
	KeyType      string         `yaml:"key_type"` // rsa, ec
	RSABits      int            `yaml:"rsa_bits"`
	ValidityDays int            `yaml:"validity_days"`
	AcceptECKeys bool           `yaml:"accept_ec_keys"`
	Subject      sslkey.Subject `yaml:"subject"`
	Server       ServerConfig   `yaml:"server"`
	LogLevel     string         `yaml:"log_level"`
}

// ServerConfig holds the HTTPS server settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Defaults
const (
	DefaultPath         = "/etc/ssl/certs/https/server.pem"
	DefaultKeyType      = "rsa"
	DefaultRSABits      = sslkey.DefaultRSABits
	DefaultValidityDays = 3650
	DefaultListen       = ":8443"
	DefaultLogLevel     = "info"
)

// Parse parses YAML config data
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load loads config from a file path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Validate checks config validity
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path must not be empty")
	}

	switch strings.ToLower(c.KeyType) {
	case "rsa":
		if c.RSABits < 2048 {
			return fmt.Errorf("rsa_bits must be at least 2048, got %d", c.RSABits)
		}
	case "ec":
		if !c.AcceptECKeys {
			return fmt.Errorf("key_type ec requires accept_ec_keys: true")
		}
	default:
		return fmt.Errorf("key_type must be rsa or ec, got %q", c.KeyType)
	}

	if c.ValidityDays < 1 {
		return fmt.Errorf("validity_days must be at least 1, got %d", c.ValidityDays)
	}

	if c.Subject.CommonName == "" {
		return fmt.Errorf("subject.common_name must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	return nil
}

// Default returns a config with default values
func Default() *Config {
	return &Config{
		Path:         DefaultPath,
		KeyType:      DefaultKeyType,
		RSABits:      DefaultRSABits,
		ValidityDays: DefaultValidityDays,
		Subject:      sslkey.DefaultSubject(),
		Server: ServerConfig{
			Listen: DefaultListen,
		},
		LogLevel: DefaultLogLevel,
	}
}

// Validity returns the certificate lifetime. A day is always 24 hours.
func (c *Config) Validity() time.Duration {
	return time.Duration(c.ValidityDays) * 24 * time.Hour
}

// ManagerOptions builds the options for an sslkey.Manager.
func (c *Config) ManagerOptions() (sslkey.Options, error) {
	alg, err := sslkey.AlgorithmFor(c.KeyType, c.RSABits)
	if err != nil {
		return sslkey.Options{}, err
	}
	return sslkey.Options{
		Subject:      c.Subject,
		Algorithm:    alg,
		Validity:     c.Validity(),
		AcceptECKeys: c.AcceptECKeys,
	}, nil
}
