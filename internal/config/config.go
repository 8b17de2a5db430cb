// Package config loads and validates the gateway's YAML configuration
// file: general runtime settings, the security/key-store section, the
// per-protocol transport settings, and the translation rule set.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/halyardsys/protogate/internal/gwerrors"
	"github.com/halyardsys/protogate/internal/protocol"
	"github.com/halyardsys/protogate/internal/rules"
	"github.com/halyardsys/protogate/internal/security"
)

// Config is the complete gateway configuration.
type Config struct {
	General  GeneralConfig   `yaml:"general"`
	Security SecurityConfig  `yaml:"security"`
	Protocols ProtocolsConfig `yaml:"protocols"`
	Backends  BackendsConfig  `yaml:"backends"`
	TranslationRules []RuleConfig `yaml:"translation_rules"`
}

// BackendsConfig holds the optional storage backends that supplement the
// key store's own JSON persistence. Each is disabled unless its address
// field is set.
type BackendsConfig struct {
	RedisCache    RedisCacheConfig    `yaml:"redis_cache"`
	PostgresAudit PostgresAuditConfig `yaml:"postgres_audit"`
}

// RedisCacheConfig configures the optional key-metadata cache.
type RedisCacheConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLSecs  int    `yaml:"ttl_secs"`
}

// Enabled reports whether the Redis metadata cache is configured.
func (c RedisCacheConfig) Enabled() bool { return c.Address != "" }

// PostgresAuditConfig configures the optional key lifecycle audit log.
type PostgresAuditConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether the Postgres audit log is configured.
func (c PostgresAuditConfig) Enabled() bool { return c.Host != "" }

// GeneralConfig holds process-wide runtime settings.
type GeneralConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	Workers   int    `yaml:"workers"` // 0 = auto; resolve with ResolvedWorkers
	QueueSize int    `yaml:"queue_size"`
}

// ResolvedWorkers returns the configured worker count, resolving the
// "0 = auto" sentinel to the detected core count.
func (g GeneralConfig) ResolvedWorkers() int {
	if g.Workers == 0 {
		return runtime.NumCPU()
	}
	return g.Workers
}

// SecurityConfig holds key-store location and default envelope settings.
type SecurityConfig struct {
	KeyStoragePath       string `yaml:"key_storage_path"`
	DefaultEncryptionKey string `yaml:"default_encryption_key"`
	DefaultSigningKey    string `yaml:"default_signing_key"`
	DefaultSecurityMode  string `yaml:"default_security_mode"`
	KeyRotationDays      *int   `yaml:"key_rotation_days"`
}

// ProtocolsConfig holds the two transport sections.
type ProtocolsConfig struct {
	LegacyBus LegacyBusConfig `yaml:"legacy_bus"`
	IpFramed  IpFramedConfig  `yaml:"ip_framed"`
}

// LegacyBusConfig configures the legacy bus transport.
type LegacyBusConfig struct {
	Interface      string   `yaml:"interface"`
	Simulated      bool     `yaml:"simulated"`
	RemoteTerminals []string `yaml:"remote_terminals"`
}

// IpFramedConfig configures the IP-framed transport.
type IpFramedConfig struct {
	BindAddress     string `yaml:"bind_address"`
	Port            uint16 `yaml:"port"`
	TimeoutSecs     int    `yaml:"timeout_secs"`
	IdleTimeoutSecs int    `yaml:"idle_timeout_secs"`
}

// RuleConfig is the on-disk shape of a translation_rules entry, decoded
// into a rules.Rule by ToRule.
type RuleConfig struct {
	Name         string            `yaml:"name"`
	Source       string            `yaml:"source"`
	Target       string            `yaml:"target"`
	Priority     uint8             `yaml:"priority"`
	Filter       map[string]string `yaml:"filter"`
	Transform    TransformConfig   `yaml:"transform"`
	SecurityMode string            `yaml:"security_mode"`
}

// TransformConfig is the on-disk shape of a rule's transform clause.
type TransformConfig struct {
	Type     string            `yaml:"type"` // identity | field_map | custom
	FieldMap map[string]string `yaml:"field_map"`
	Module   string            `yaml:"module"`
}

// ToRule decodes a RuleConfig into a rules.Rule, resolving protocol and
// security-mode strings and leaving Target nil when unset (wildcard).
func (rc RuleConfig) ToRule() (rules.Rule, error) {
	source, err := protocol.Parse(rc.Source)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %q: %w", rc.Name, err)
	}

	var target *protocol.Type
	if rc.Target != "" {
		t, err := protocol.Parse(rc.Target)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		target = &t
	}

	mode, err := security.ParseMode(rc.SecurityMode)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %q: %w", rc.Name, err)
	}

	transform, err := rc.Transform.toTransform()
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %q: %w", rc.Name, err)
	}

	rule := rules.Rule{
		Name:         rc.Name,
		Source:       source,
		Target:       target,
		Priority:     rc.Priority,
		Filter:       rc.Filter,
		Transform:    transform,
		SecurityMode: mode,
	}
	if err := rule.Validate(); err != nil {
		return rules.Rule{}, err
	}
	return rule, nil
}

func (tc TransformConfig) toTransform() (rules.Transform, error) {
	switch tc.Type {
	case "", "identity":
		return rules.Transform{Kind: rules.Identity}, nil
	case "field_map":
		return rules.Transform{Kind: rules.FieldMap, FieldMap: tc.FieldMap}, nil
	case "custom":
		if tc.Module == "" {
			return rules.Transform{}, fmt.Errorf("custom transform requires a module name")
		}
		return rules.Transform{Kind: rules.Custom, ModuleName: tc.Module}, nil
	default:
		return rules.Transform{}, fmt.Errorf("unrecognized transform type %q", tc.Type)
	}
}

// Load reads, parses, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrConfig, err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	// Workers is left at 0 ("auto") when unset; ResolvedWorkers resolves
	// it to the detected core count wherever a concrete concurrency
	// value is actually needed.
	if c.General.QueueSize == 0 {
		c.General.QueueSize = 1000
	}
	if c.Security.DefaultSecurityMode == "" {
		c.Security.DefaultSecurityMode = "encrypted_and_signed"
	}
	if c.Protocols.IpFramed.TimeoutSecs == 0 {
		c.Protocols.IpFramed.TimeoutSecs = 30
	}
	if c.Protocols.IpFramed.IdleTimeoutSecs == 0 {
		c.Protocols.IpFramed.IdleTimeoutSecs = 300
	}
	if c.Backends.PostgresAudit.Enabled() && c.Backends.PostgresAudit.SSLMode == "" {
		c.Backends.PostgresAudit.SSLMode = "disable"
	}
}

func (c *Config) validate() error {
	if c.General.Name == "" {
		return fmt.Errorf("general.name is required")
	}
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.General.LogLevel] {
		return fmt.Errorf("invalid general.log_level: %q", c.General.LogLevel)
	}
	if c.General.Workers < 0 {
		return fmt.Errorf("general.workers must be at least 0 (0 = auto)")
	}
	if c.General.QueueSize < 1 {
		return fmt.Errorf("general.queue_size must be at least 1")
	}
	if c.Security.DefaultEncryptionKey == "" {
		return fmt.Errorf("security.default_encryption_key is required")
	}
	if c.Security.DefaultSigningKey == "" {
		return fmt.Errorf("security.default_signing_key is required")
	}
	if _, err := security.ParseMode(c.Security.DefaultSecurityMode); err != nil {
		return fmt.Errorf("security.default_security_mode: %w", err)
	}
	if c.Security.KeyRotationDays != nil && *c.Security.KeyRotationDays < 1 {
		return fmt.Errorf("security.key_rotation_days must be at least 1 when set")
	}
	if c.Protocols.IpFramed.Port == 0 {
		return fmt.Errorf("protocols.ip_framed.port is required")
	}
	for _, rc := range c.TranslationRules {
		if _, err := rc.ToRule(); err != nil {
			return err
		}
	}
	return nil
}

// Rules decodes every translation_rules entry into a rules.Rule.
func (c *Config) Rules() ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(c.TranslationRules))
	for _, rc := range c.TranslationRules {
		r, err := rc.ToRule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
