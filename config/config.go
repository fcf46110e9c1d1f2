// Package config loads and validates panelmon's YAML configuration (spec.md
// §6 "Configuration (abstract)"), following the teacher's yaml.v3 usage
// elsewhere in the pack rather than a general-purpose config framework —
// loading config carries no design content per spec.md §1.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MQTTType selects builtin-broker mode vs. external-client mode.
type MQTTType string

const (
	MQTTBuiltin  MQTTType = "builtin"
	MQTTExternal MQTTType = "external"
)

// autoValue is the sentinel accepted for server.hostname/server.ip meaning
// "sniff it from the OS" (spec.md §6).
const autoValue = "auto"

// Server names the host this instance reports telemetry for.
type Server struct {
	Hostname string `yaml:"hostname"`
	IP       string `yaml:"ip"`
}

// MQTT configures either the embedded broker or the external-client mode.
type MQTT struct {
	Type MQTTType `yaml:"type"`

	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Topic string `yaml:"topic"`
	QoS   uint8  `yaml:"qos"`

	// Username/Password double as the builtin broker's required-credentials
	// check (when Type is builtin) and the external client's CONNECT
	// credentials (when Type is external).
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// ClientID/KeepAlive only apply in external mode.
	ClientID  string `yaml:"client_id,omitempty"`
	KeepAlive int    `yaml:"keep_alive,omitempty"`
}

// Collection configures the Scheduler's sampling cadence.
type Collection struct {
	IntervalSeconds int `yaml:"interval"`
}

// CollectorType names a custom probe kind (spec.md §4.5, §6).
type CollectorType string

const (
	CollectorFile    CollectorType = "file"
	CollectorCommand CollectorType = "command"
	CollectorEnv     CollectorType = "env"
)

// CustomCollector declares one user-defined probe. Only the fields relevant
// to Type are meaningful; others are ignored.
type CustomCollector struct {
	Name string        `yaml:"name"`
	Type CollectorType `yaml:"type"`

	// file
	Path string `yaml:"path,omitempty"`

	// command: argv-style, no shell is invoked.
	Command        []string `yaml:"command,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`

	// env
	EnvVar  string `yaml:"env_var,omitempty"`
	Default string `yaml:"default,omitempty"`

	// Transform and its parameters (declared set only, spec.md §4.5/§9).
	Transform string  `yaml:"transform,omitempty"`
	Scale     float64 `yaml:"scale,omitempty"`
	Pattern   string  `yaml:"pattern,omitempty"`

	Unit string `yaml:"unit,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Server           Server            `yaml:"server"`
	MQTT             MQTT              `yaml:"mqtt"`
	Collection       Collection        `yaml:"collection"`
	CustomCollectors []CustomCollector `yaml:"custom_collectors,omitempty"`
}

// Default returns the configuration written by --generate-config.
func Default() *Config {
	return &Config{
		Server: Server{Hostname: autoValue, IP: autoValue},
		MQTT: MQTT{
			Type:  MQTTBuiltin,
			Host:  "0.0.0.0",
			Port:  1883,
			Topic: "nas/panel/data",
			QoS:   1,
		},
		Collection: Collection{IntervalSeconds: 60},
	}
}

// Load reads and parses path, applies PANELMON_ environment overrides, and
// validates the result. Any failure is a ConfigError: fatal, never raised at
// runtime (spec.md §7).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("reading %s", path), Cause: err}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Message: fmt.Sprintf("parsing %s", path), Cause: err}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.resolveAuto(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Generate writes the default configuration to path as YAML.
func Generate(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return &Error{Message: "marshaling default config", Cause: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &Error{Message: fmt.Sprintf("writing %s", path), Cause: err}
	}
	return nil
}

// envOverride applies a PANELMON_<KEY> environment variable over dst if set.
func envOverride(dst *string, key string) {
	if v, ok := os.LookupEnv("PANELMON_" + key); ok {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) error {
	v, ok := os.LookupEnv("PANELMON_" + key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &Error{Message: fmt.Sprintf("PANELMON_%s must be an integer, got %q", key, v)}
	}
	*dst = n
	return nil
}

// applyEnvOverrides layers documented PANELMON_* environment variables over
// the file-loaded config (spec.md §6: "Environment variables override the
// corresponding config keys").
func applyEnvOverrides(cfg *Config) error {
	envOverride(&cfg.Server.Hostname, "SERVER_HOSTNAME")
	envOverride(&cfg.Server.IP, "SERVER_IP")

	if v, ok := os.LookupEnv("PANELMON_MQTT_TYPE"); ok {
		cfg.MQTT.Type = MQTTType(v)
	}
	envOverride(&cfg.MQTT.Host, "MQTT_HOST")
	if err := envOverrideInt(&cfg.MQTT.Port, "MQTT_PORT"); err != nil {
		return err
	}
	envOverride(&cfg.MQTT.Topic, "MQTT_TOPIC")
	envOverride(&cfg.MQTT.Username, "MQTT_USERNAME")
	envOverride(&cfg.MQTT.Password, "MQTT_PASSWORD")
	envOverride(&cfg.MQTT.ClientID, "MQTT_CLIENT_ID")

	return envOverrideInt(&cfg.Collection.IntervalSeconds, "COLLECTION_INTERVAL")
}

// resolveAuto replaces "auto" server.hostname/server.ip with values sniffed
// from the OS (spec.md §6).
func (c *Config) resolveAuto() error {
	if c.Server.Hostname == autoValue {
		h, err := os.Hostname()
		if err != nil {
			return &Error{Message: "sniffing hostname", Cause: err}
		}
		c.Server.Hostname = h
	}
	if c.Server.IP == autoValue {
		ip, err := firstNonLoopbackIPv4()
		if err != nil {
			return &Error{Message: "sniffing IP address", Cause: err}
		}
		c.Server.IP = ip
	}
	return nil
}

func firstNonLoopbackIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}

// Validate checks for unrecognised options, illegal combinations, and
// unsupported transforms (spec.md §7 ConfigError).
func (c *Config) Validate() error {
	switch c.MQTT.Type {
	case MQTTBuiltin, MQTTExternal:
	default:
		return &Error{Message: fmt.Sprintf("mqtt.type must be %q or %q, got %q", MQTTBuiltin, MQTTExternal, c.MQTT.Type)}
	}
	if c.MQTT.Host == "" {
		return &Error{Message: "mqtt.host must not be empty"}
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return &Error{Message: fmt.Sprintf("mqtt.port must be in 1-65535, got %d", c.MQTT.Port)}
	}
	if c.MQTT.Topic == "" {
		return &Error{Message: "mqtt.topic must not be empty"}
	}
	if c.MQTT.QoS != 0 && c.MQTT.QoS != 1 {
		return &Error{Message: fmt.Sprintf("mqtt.qos must be 0 or 1, got %d", c.MQTT.QoS)}
	}
	if c.MQTT.Type == MQTTExternal && c.MQTT.ClientID == "" {
		return &Error{Message: "mqtt.client_id is required when mqtt.type is external"}
	}
	if c.Collection.IntervalSeconds <= 0 {
		return &Error{Message: fmt.Sprintf("collection.interval must be positive, got %d", c.Collection.IntervalSeconds)}
	}

	seen := make(map[string]bool, len(c.CustomCollectors))
	for _, cc := range c.CustomCollectors {
		if cc.Name == "" {
			return &Error{Message: "custom_collectors entry missing name"}
		}
		if seen[cc.Name] {
			return &Error{Message: fmt.Sprintf("custom_collectors entry %q is duplicated", cc.Name)}
		}
		seen[cc.Name] = true

		switch cc.Type {
		case CollectorFile:
			if cc.Path == "" {
				return &Error{Message: fmt.Sprintf("custom_collectors[%s]: file type requires path", cc.Name)}
			}
		case CollectorCommand:
			if len(cc.Command) == 0 {
				return &Error{Message: fmt.Sprintf("custom_collectors[%s]: command type requires command", cc.Name)}
			}
		case CollectorEnv:
			if cc.EnvVar == "" {
				return &Error{Message: fmt.Sprintf("custom_collectors[%s]: env type requires env_var", cc.Name)}
			}
		default:
			return &Error{Message: fmt.Sprintf("custom_collectors[%s]: unrecognised type %q", cc.Name, cc.Type)}
		}

		if cc.Transform != "" && !isDeclaredTransform(cc.Transform) {
			return &Error{Message: fmt.Sprintf("custom_collectors[%s]: unsupported transform %q", cc.Name, cc.Transform)}
		}
	}
	return nil
}

var declaredTransforms = map[string]bool{
	"identity": true, "trim": true, "parse-int": true,
	"parse-float": true, "scale-by-constant": true, "regex-extract": true,
}

func isDeclaredTransform(name string) bool {
	return declaredTransforms[strings.ToLower(name)]
}
