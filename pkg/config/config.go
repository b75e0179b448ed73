// Package config loads and validates the server engine's tunables, using
// gopkg.in/yaml.v3, an applyDefaults() pass that fills defaults in place,
// and a validate() pass that checks the result.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/WhileEndless/go-rawserver/pkg/constants"
)

// Config is the complete engine configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	Sizes     Sizes           `yaml:"sizes"`
	Security  SecurityConfig  `yaml:"security"`
	Threading ThreadingConfig `yaml:"threading"`
}

// Sizes groups every size_*/num_* buffer and capacity tunable.
type Sizes struct {
	Backlog               int `yaml:"backlog"`
	ConnectionsMax        int `yaml:"connections_max"`
	CompletionsReapMax    int `yaml:"completions_reap_max"`
	ConnectionArenaRetain int `yaml:"connection_arena_retain"`
	RecvBufferRetain      int `yaml:"recv_buffer_retain"`
	SocketBuffer          int `yaml:"socket_buffer"`
	RecvBufferMax         int `yaml:"recv_buffer_max"`
	RequestMax            int `yaml:"request_max"`
	RequestURIMax         int `yaml:"request_uri_max"`
	HeaderMax             int `yaml:"header_max"`
	CapturesMax           int `yaml:"captures_max"`
	QueriesMax            int `yaml:"queries_max"`
}

// SecurityConfig selects plain or TLS transport.
type SecurityConfig struct {
	Mode     string `yaml:"mode"` // "plain" or "tls"
	Cert     string `yaml:"cert"`
	Key      string `yaml:"key"`
	CertName string `yaml:"cert_name"`
	KeyName  string `yaml:"key_name"`

	// Profile names a tlsconfig.VersionProfile ("modern", "secure",
	// "compatible", "legacy"); the server facade resolves it to a
	// tlsconfig.VersionProfile when it builds the TLS config, not here, so
	// this package carries no tlsconfig import.
	Profile string `yaml:"profile"`
}

// TLSEnabled reports whether this configuration runs a TLS listener.
func (s SecurityConfig) TLSEnabled() bool { return s.Mode == "tls" }

// ThreadingConfig controls worker count: "auto", "single", or a fixed
// number of workers.
type ThreadingConfig struct {
	Mode    string `yaml:"mode"` // "auto", "single", or "fixed"
	Workers int    `yaml:"workers"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Default returns a Config with every default applied and no listener
// address set, for callers that build one programmatically instead of
// loading YAML.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Sizes.Backlog <= 0 {
		c.Sizes.Backlog = constants.DefaultBacklog
	}
	if c.Sizes.ConnectionsMax <= 0 {
		c.Sizes.ConnectionsMax = constants.DefaultConnectionsMax
	}
	if c.Sizes.CompletionsReapMax <= 0 {
		c.Sizes.CompletionsReapMax = constants.DefaultCompletionsReapMax
	}
	if c.Sizes.ConnectionArenaRetain <= 0 {
		c.Sizes.ConnectionArenaRetain = constants.DefaultConnectionArenaRetain
	}
	if c.Sizes.RecvBufferRetain <= 0 {
		c.Sizes.RecvBufferRetain = constants.DefaultRecvBufferRetain
	}
	if c.Sizes.SocketBuffer <= 0 {
		c.Sizes.SocketBuffer = constants.DefaultSocketBuffer
	}
	if c.Sizes.RecvBufferMax <= 0 {
		c.Sizes.RecvBufferMax = constants.DefaultRecvBufferMax
	}
	if c.Sizes.RequestMax <= 0 {
		c.Sizes.RequestMax = constants.DefaultRequestMax
	}
	if c.Sizes.RequestURIMax <= 0 {
		c.Sizes.RequestURIMax = constants.DefaultRequestURIMax
	}
	if c.Sizes.HeaderMax <= 0 {
		c.Sizes.HeaderMax = constants.DefaultHeaderMax
	}
	if c.Sizes.CapturesMax <= 0 {
		c.Sizes.CapturesMax = constants.DefaultCapturesMax
	}
	if c.Sizes.QueriesMax <= 0 {
		c.Sizes.QueriesMax = constants.DefaultQueriesMax
	}

	c.Security.Mode = strings.ToLower(strings.TrimSpace(c.Security.Mode))
	if c.Security.Mode == "" {
		c.Security.Mode = "plain"
	}
	if c.Security.Mode == "tls" {
		if c.Security.CertName == "" {
			c.Security.CertName = constants.DefaultCertName
		}
		if c.Security.KeyName == "" {
			c.Security.KeyName = constants.DefaultKeyName
		}
		c.Security.Profile = strings.ToLower(strings.TrimSpace(c.Security.Profile))
		if c.Security.Profile == "" {
			c.Security.Profile = "secure"
		}
	}

	c.Threading.Mode = strings.ToLower(strings.TrimSpace(c.Threading.Mode))
	if c.Threading.Mode == "" {
		c.Threading.Mode = "auto"
	}
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}

	switch c.Security.Mode {
	case "plain":
	case "tls":
		if c.Security.Cert == "" {
			return fmt.Errorf("security.cert is required when security.mode is tls")
		}
		if c.Security.Key == "" {
			return fmt.Errorf("security.key is required when security.mode is tls")
		}
		switch c.Security.Profile {
		case "modern", "secure", "compatible", "legacy":
		default:
			return fmt.Errorf("security.profile must be modern, secure, compatible, or legacy, got %q", c.Security.Profile)
		}
	default:
		return fmt.Errorf("security.mode must be plain or tls, got %q", c.Security.Mode)
	}

	switch c.Threading.Mode {
	case "auto", "single":
	case "fixed":
		if c.Threading.Workers < 1 {
			return fmt.Errorf("threading.workers must be >= 1 when threading.mode is fixed")
		}
	default:
		return fmt.Errorf("threading.mode must be auto, single, or fixed, got %q", c.Threading.Mode)
	}

	if c.Sizes.RequestMax > c.Sizes.RecvBufferMax {
		return fmt.Errorf("sizes.request_max (%d) must not exceed sizes.recv_buffer_max (%d)", c.Sizes.RequestMax, c.Sizes.RecvBufferMax)
	}

	return nil
}
