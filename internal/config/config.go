// Package config loads Catalyst's daemon configuration: a YAML file
// layered under environment variable overrides, defaults seeded before
// Unmarshal, and a hand-rolled Validate performing the cross-field
// checks that don't fit struct tags.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/orbisoperations/catalyst/internal/portalloc"
	"github.com/orbisoperations/catalyst/internal/route"
)

// Config is Catalyst's full daemon configuration.
type Config struct {
	Node     NodeConfig     `koanf:"node"`
	Service  ServiceConfig  `koanf:"service"`
	Ports    PortsConfig    `koanf:"ports"`
	Audit    AuditConfig    `koanf:"audit"`
	EventBus EventBusConfig `koanf:"eventbus"`
}

// NodeConfig identifies this node on the mesh and carries its default
// session parameters.
type NodeConfig struct {
	Name                   string            `koanf:"name"`
	Domains                []string          `koanf:"domains"`
	Endpoint               string            `koanf:"endpoint"`
	EnvoyAddress           string            `koanf:"envoy_address"`
	Labels                 map[string]string `koanf:"labels"`
	DefaultHoldTimeSeconds int64             `koanf:"default_hold_time_seconds"`
}

// ServiceConfig covers the daemon's own process-level knobs.
type ServiceConfig struct {
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
	TickIntervalMs         int    `koanf:"tick_interval_ms"`
	QueueBufferSize        int    `koanf:"queue_buffer_size"`
}

// PortRange is one [start, end] envoy listener port range, mirroring
// portalloc.Range in a koanf-tagged shape.
type PortRange struct {
	Start int `koanf:"start"`
	End   int `koanf:"end"`
}

// PortsConfig configures the envoy listener port allocator.
type PortsConfig struct {
	Ranges []PortRange `koanf:"ranges"`
}

// AuditConfig configures the optional Postgres commit audit log. A
// blank DSN disables the audit writer entirely.
type AuditConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

// EventBusConfig configures the optional Kafka route-change event bus
// producer. No brokers disables the producer entirely.
type EventBusConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// Load reads path (if non-empty) as a YAML file, then overlays
// CATALYST_-prefixed environment variables (double underscore as the
// nesting delimiter, e.g. CATALYST_NODE__NAME), seeds defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("CATALYST_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "CATALYST_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Node: NodeConfig{
			DefaultHoldTimeSeconds: route.DefaultHoldTimeSeconds,
		},
		Service: ServiceConfig{
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
			TickIntervalMs:         1000,
			QueueBufferSize:        64,
		},
		Ports: PortsConfig{
			Ranges: []PortRange{{Start: 20000, End: 20999}},
		},
		Audit: AuditConfig{
			MaxConns: 10,
			MinConns: 1,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Node.Domains) == 1 && strings.Contains(cfg.Node.Domains[0], ",") {
		cfg.Node.Domains = strings.Split(cfg.Node.Domains[0], ",")
	}
	if len(cfg.EventBus.Brokers) == 1 && strings.Contains(cfg.EventBus.Brokers[0], ",") {
		cfg.EventBus.Brokers = strings.Split(cfg.EventBus.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate performs the accumulated, message-rich checks Load relies
// on: required fields, range checks, and the cross-field checks that
// don't fit a struct tag.
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("config: node.name is required")
	}
	if c.Node.DefaultHoldTimeSeconds <= 0 {
		return fmt.Errorf("config: node.default_hold_time_seconds must be > 0 (got %d)", c.Node.DefaultHoldTimeSeconds)
	}
	if c.Service.HTTPListen == "" {
		return fmt.Errorf("config: service.http_listen is required")
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Service.TickIntervalMs <= 0 {
		return fmt.Errorf("config: service.tick_interval_ms must be > 0 (got %d)", c.Service.TickIntervalMs)
	}
	if c.Service.QueueBufferSize <= 0 {
		return fmt.Errorf("config: service.queue_buffer_size must be > 0 (got %d)", c.Service.QueueBufferSize)
	}
	if len(c.Ports.Ranges) == 0 {
		return fmt.Errorf("config: ports.ranges must contain at least one range")
	}
	for i, r := range c.Ports.Ranges {
		if r.Start <= 0 || r.End <= 0 {
			return fmt.Errorf("config: ports.ranges[%d] bounds must be positive, got [%d, %d]", i, r.Start, r.End)
		}
		if r.Start > r.End {
			return fmt.Errorf("config: ports.ranges[%d] start %d exceeds end %d", i, r.Start, r.End)
		}
		for j, other := range c.Ports.Ranges {
			if i == j {
				continue
			}
			if r.Start <= other.End && other.Start <= r.End {
				return fmt.Errorf("config: ports.ranges[%d] [%d, %d] overlaps ports.ranges[%d] [%d, %d]",
					i, r.Start, r.End, j, other.Start, other.End)
			}
		}
	}
	if c.Audit.DSN != "" {
		if c.Audit.MaxConns <= 0 {
			return fmt.Errorf("config: audit.max_conns must be > 0 (got %d)", c.Audit.MaxConns)
		}
		if c.Audit.MinConns < 0 {
			return fmt.Errorf("config: audit.min_conns must be >= 0 (got %d)", c.Audit.MinConns)
		}
		if c.Audit.MinConns > c.Audit.MaxConns {
			return fmt.Errorf("config: audit.min_conns (%d) exceeds audit.max_conns (%d)", c.Audit.MinConns, c.Audit.MaxConns)
		}
	}
	if len(c.EventBus.Brokers) > 0 && c.EventBus.Topic == "" {
		return fmt.Errorf("config: eventbus.topic is required when eventbus.brokers is set")
	}
	return nil
}

// PeerInfo converts the node's identity into the shape the RIB
// consumes, for any component that needs to describe this node as a
// peer (e.g. a future dial-out transport announcing itself).
func (c *Config) PeerInfo() route.PeerInfo {
	return route.PeerInfo{
		Name:         c.Node.Name,
		Domains:      c.Node.Domains,
		Endpoint:     c.Node.Endpoint,
		Labels:       c.Node.Labels,
		EnvoyAddress: c.Node.EnvoyAddress,
	}
}

// PortRanges converts the configured port ranges to the shape
// internal/portalloc expects.
func (c *Config) PortRanges() []portalloc.Range {
	out := make([]portalloc.Range, len(c.Ports.Ranges))
	for i, r := range c.Ports.Ranges {
		out[i] = portalloc.Range{Start: r.Start, End: r.End}
	}
	return out
}
