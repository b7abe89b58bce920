// Package config loads client profiles from TOML files. A profile names
// the cluster members, the transport to reach them with, session tuning
// knobs, and an optional TLS block.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/amirimatin/go-raftclient/pkg/security/tlsconfig"
	"github.com/amirimatin/go-raftclient/pkg/transport"
)

const (
	TransportTCP  = "tcp"
	TransportGRPC = "grpc"

	DiscoveryStatic = "static"
	DiscoveryFile   = "file"
	DiscoveryDNS    = "dns"
)

// Config is a fully resolved client profile.
type Config struct {
	Transport string
	Members   []transport.Address

	Discovery DiscoveryConfig
	Session   SessionConfig
	TLS       tlsconfig.Options
}

// DiscoveryConfig selects how cluster members are found. Kind "static"
// uses Config.Members directly; "file" and "dns" resolve at open time.
type DiscoveryConfig struct {
	Kind string
	Path string // file discovery
	Name string // dns discovery: service name to resolve
	Port int    // dns discovery: port to attach to resolved hosts
}

// SessionConfig carries session protocol tuning. Zero values fall back
// to the session package defaults.
type SessionConfig struct {
	RetryBudget       int
	RetryInterval     time.Duration
	KeepAliveInterval time.Duration
	SessionTimeout    time.Duration
	ConnectTimeout    time.Duration
}

type fileConfig struct {
	Transport string   `toml:"transport"`
	Members   []string `toml:"members"`

	Discovery struct {
		Kind string `toml:"kind"`
		Path string `toml:"path"`
		Name string `toml:"name"`
		Port int    `toml:"port"`
	} `toml:"discovery"`

	Session struct {
		RetryBudget       int    `toml:"retry_budget"`
		RetryInterval     string `toml:"retry_interval"`
		KeepAliveInterval string `toml:"keepalive_interval"`
		SessionTimeout    string `toml:"session_timeout"`
		ConnectTimeout    string `toml:"connect_timeout"`
	} `toml:"session"`

	TLS struct {
		Enable             bool   `toml:"enable"`
		CAFile             string `toml:"ca_file"`
		CertFile           string `toml:"cert_file"`
		KeyFile            string `toml:"key_file"`
		InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
		ServerName         string `toml:"server_name"`
	} `toml:"tls"`
}

// Default returns a profile with the built-in defaults applied.
func Default() Config {
	return Config{
		Transport: TransportTCP,
		Discovery: DiscoveryConfig{Kind: DiscoveryStatic},
	}
}

// Load reads and validates a TOML profile from path.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("members") {
		members, err := transport.ParseAddresses(raw.Members)
		if err != nil {
			return Config{}, fmt.Errorf("parse members: %w", err)
		}
		cfg.Members = members
	}

	if meta.IsDefined("discovery", "kind") {
		cfg.Discovery.Kind = strings.ToLower(strings.TrimSpace(raw.Discovery.Kind))
	}
	cfg.Discovery.Path = raw.Discovery.Path
	cfg.Discovery.Name = raw.Discovery.Name
	cfg.Discovery.Port = raw.Discovery.Port

	cfg.Session.RetryBudget = raw.Session.RetryBudget
	if cfg.Session.RetryInterval, err = parseDuration(raw.Session.RetryInterval, "session.retry_interval"); err != nil {
		return Config{}, err
	}
	if cfg.Session.KeepAliveInterval, err = parseDuration(raw.Session.KeepAliveInterval, "session.keepalive_interval"); err != nil {
		return Config{}, err
	}
	if cfg.Session.SessionTimeout, err = parseDuration(raw.Session.SessionTimeout, "session.session_timeout"); err != nil {
		return Config{}, err
	}
	if cfg.Session.ConnectTimeout, err = parseDuration(raw.Session.ConnectTimeout, "session.connect_timeout"); err != nil {
		return Config{}, err
	}

	cfg.TLS = tlsconfig.Options{
		Enable:             raw.TLS.Enable,
		CAFile:             raw.TLS.CAFile,
		CertFile:           raw.TLS.CertFile,
		KeyFile:            raw.TLS.KeyFile,
		InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		ServerName:         raw.TLS.ServerName,
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks a profile for internal consistency.
func Validate(cfg Config) error {
	switch cfg.Transport {
	case TransportTCP, TransportGRPC:
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	switch cfg.Discovery.Kind {
	case DiscoveryStatic:
		if len(cfg.Members) == 0 {
			return fmt.Errorf("static discovery requires members")
		}
	case DiscoveryFile:
		if strings.TrimSpace(cfg.Discovery.Path) == "" {
			return fmt.Errorf("file discovery requires discovery.path")
		}
	case DiscoveryDNS:
		if strings.TrimSpace(cfg.Discovery.Name) == "" {
			return fmt.Errorf("dns discovery requires discovery.name")
		}
	default:
		return fmt.Errorf("unknown discovery kind %q", cfg.Discovery.Kind)
	}
	if cfg.Session.RetryBudget < 0 {
		return fmt.Errorf("session.retry_budget must be >= 0")
	}
	return nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}
