// Package config loads and validates the client's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"sslvpn/internal/tlsutil"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Auth      Auth      `yaml:"auth"`
	TLS       TLS       `yaml:"tls"`
	Tunnel    Tunnel    `yaml:"tunnel"`
	Proxy     Proxy     `yaml:"proxy"`
	DNS       DNS       `yaml:"dns"`
	TUN       TUN       `yaml:"tun"`
	Reconnect Reconnect `yaml:"reconnect"`
	Metrics   Metrics   `yaml:"metrics"`
	Logging   Logging   `yaml:"logging"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Hub  string `yaml:"hub"`
}

type Auth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TLS struct {
	VerifyCert  bool   `yaml:"verify_cert"`
	Fingerprint string `yaml:"fingerprint"`
}

type Tunnel struct {
	MTU               int    `yaml:"mtu"`
	UseEncryption     *bool  `yaml:"use_encryption"`
	UseCompression    bool   `yaml:"use_compression"`
	Compression       string `yaml:"compression"` // "lz4" (default) | "zstd"
	KeepaliveInterval string `yaml:"keepalive_interval"`
	ConnectTimeout    string `yaml:"connect_timeout"`
	IOTimeout         string `yaml:"io_timeout"`
	QueueSize         int    `yaml:"queue_size"`
}

// Proxy settings are accepted for forward compatibility but not used by
// the engine.
type Proxy struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DNS struct {
	// Bootstrap is an explicit DNS server ("host" or "host:port") used
	// to resolve the gateway hostname instead of the system resolver.
	Bootstrap string `yaml:"bootstrap"`
}

type TUN struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	MTU     int    `yaml:"mtu"`
}

type Reconnect struct {
	Enabled         bool   `yaml:"enabled"`
	InitialInterval string `yaml:"initial_interval"`
	MaxInterval     string `yaml:"max_interval"`
	MaxRetries      int    `yaml:"max_retries"` // 0 = unlimited
}

type Metrics struct {
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

type Logging struct {
	Debug bool `yaml:"debug"`
}

// Load reads, defaults and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 443
	}
	if c.Tunnel.MTU <= 0 {
		c.Tunnel.MTU = 1400
	}
	if c.Tunnel.MTU > 9000 {
		c.Tunnel.MTU = 9000
	}
	if c.Tunnel.Compression == "" {
		c.Tunnel.Compression = "lz4"
	}
	if c.Tunnel.KeepaliveInterval == "" {
		c.Tunnel.KeepaliveInterval = "5s"
	}
	if c.Tunnel.ConnectTimeout == "" {
		c.Tunnel.ConnectTimeout = "10s"
	}
	if c.Tunnel.IOTimeout == "" {
		c.Tunnel.IOTimeout = "30s"
	}
	if c.Tunnel.QueueSize <= 0 {
		c.Tunnel.QueueSize = 100
	}
	if c.TUN.Name == "" {
		c.TUN.Name = "svpn0"
	}
	if c.TUN.MTU <= 0 {
		c.TUN.MTU = c.Tunnel.MTU
	}
	if c.Reconnect.InitialInterval == "" {
		c.Reconnect.InitialInterval = "1s"
	}
	if c.Reconnect.MaxInterval == "" {
		c.Reconnect.MaxInterval = "60s"
	}
}

func (c *Config) validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	if c.TLS.Fingerprint != "" {
		ok := false
		for _, name := range tlsutil.Fingerprints() {
			if name == c.TLS.Fingerprint {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("tls.fingerprint %q is not supported", c.TLS.Fingerprint)
		}
	}
	switch c.Tunnel.Compression {
	case "lz4", "zstd":
	default:
		return fmt.Errorf("tunnel.compression %q is not supported", c.Tunnel.Compression)
	}
	for _, d := range []struct{ name, val string }{
		{"tunnel.keepalive_interval", c.Tunnel.KeepaliveInterval},
		{"tunnel.connect_timeout", c.Tunnel.ConnectTimeout},
		{"tunnel.io_timeout", c.Tunnel.IOTimeout},
		{"reconnect.initial_interval", c.Reconnect.InitialInterval},
		{"reconnect.max_interval", c.Reconnect.MaxInterval},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// KeepaliveInterval returns the parsed keepalive interval.
func (c *Config) KeepaliveInterval() time.Duration {
	return parseDuration(c.Tunnel.KeepaliveInterval, 5*time.Second)
}

// ConnectTimeout returns the parsed per-step connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return parseDuration(c.Tunnel.ConnectTimeout, 10*time.Second)
}

// IOTimeout returns the parsed steady-state I/O timeout.
func (c *Config) IOTimeout() time.Duration {
	return parseDuration(c.Tunnel.IOTimeout, 30*time.Second)
}

// ReconnectInitialInterval returns the parsed initial backoff.
func (c *Config) ReconnectInitialInterval() time.Duration {
	return parseDuration(c.Reconnect.InitialInterval, time.Second)
}

// ReconnectMaxInterval returns the parsed backoff ceiling.
func (c *Config) ReconnectMaxInterval() time.Duration {
	return parseDuration(c.Reconnect.MaxInterval, 60*time.Second)
}

// UseEncryption defaults to true when unset.
func (c *Config) UseEncryption() bool {
	if c.Tunnel.UseEncryption == nil {
		return true
	}
	return *c.Tunnel.UseEncryption
}
