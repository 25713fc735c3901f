// Package config loads and validates the YAML configuration for signalrtc,
// the way the teacher's config.Manager did: read file, unmarshal, validate,
// return defaults when nothing is set.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration, covering the SIP listeners, the
// Contact Customiser targets, abuse-exempt subnets, persistence, digest
// auth, logging and the web admin/WebRTC relay HTTP surface.
type Config struct {
	SIP struct {
		ListenPort    int    `yaml:"sip_listen_port"`
		TLSListenPort int    `yaml:"sip_tls_listen_port"`
		Domain        string `yaml:"sip_domain"`
	} `yaml:"sip"`

	Contact struct {
		PublicHostname string `yaml:"public_contact_hostname"`
		PublicIPv4     string `yaml:"public_contact_ipv4"`
		PublicIPv6     string `yaml:"public_contact_ipv6"`
	} `yaml:"contact"`

	PrivateSubnets []string `yaml:"private_subnets"`
	Admins         []string `yaml:"admins"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Authentication struct {
		NonceExpirySeconds int `yaml:"nonce_expiry"`
	} `yaml:"authentication"`

	WebAdmin struct {
		Port    int  `yaml:"port"`
		Enabled bool `yaml:"enabled"`
	} `yaml:"web_admin"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Load reads, parses and validates a YAML configuration file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration for consistency.
func Validate(cfg *Config) error {
	if cfg.SIP.ListenPort < 0 || cfg.SIP.ListenPort > 65535 {
		return fmt.Errorf("invalid sip_listen_port: %d", cfg.SIP.ListenPort)
	}
	if cfg.SIP.TLSListenPort < 0 || cfg.SIP.TLSListenPort > 65535 {
		return fmt.Errorf("invalid sip_tls_listen_port: %d", cfg.SIP.TLSListenPort)
	}
	if strings.TrimSpace(cfg.Database.Path) == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if strings.TrimSpace(cfg.SIP.Domain) == "" {
		return fmt.Errorf("sip_domain cannot be empty")
	}
	if cfg.Authentication.NonceExpirySeconds < 60 {
		return fmt.Errorf("nonce expiry too short: %d seconds (minimum 60)", cfg.Authentication.NonceExpirySeconds)
	}
	if cfg.WebAdmin.Enabled && (cfg.WebAdmin.Port < 0 || cfg.WebAdmin.Port > 65535) {
		return fmt.Errorf("invalid web admin port: %d", cfg.WebAdmin.Port)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}
	return nil
}

// Default returns a configuration with sane defaults, as a starting point
// for Load to unmarshal over.
func Default() *Config {
	cfg := &Config{}
	cfg.SIP.ListenPort = 5060
	cfg.SIP.TLSListenPort = 5061
	cfg.SIP.Domain = "sip.local"
	cfg.Database.Path = "./signalrtc.db"
	cfg.Authentication.NonceExpirySeconds = 300
	cfg.WebAdmin.Port = 8080
	cfg.WebAdmin.Enabled = true
	cfg.Logging.Level = "info"
	cfg.Logging.File = "./signalrtc.log"
	return cfg
}
