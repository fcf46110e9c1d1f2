package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "panelmon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, `
server:
  hostname: NAS-Server
  ip: 192.168.1.100
mqtt:
  type: builtin
  host: 0.0.0.0
  port: 1883
  topic: nas/panel/data
  qos: 1
collection:
  interval: 60
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Hostname != "NAS-Server" {
		t.Errorf("hostname = %q, want NAS-Server", cfg.Server.Hostname)
	}
	if cfg.MQTT.Type != MQTTBuiltin {
		t.Errorf("mqtt.type = %q, want builtin", cfg.MQTT.Type)
	}
}

func TestLoadResolvesAutoHostnameAndIP(t *testing.T) {
	path := writeTempConfig(t, `
server:
  hostname: auto
  ip: auto
mqtt:
  type: builtin
  host: 0.0.0.0
  port: 1883
  topic: nas/panel/data
  qos: 0
collection:
  interval: 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Hostname == "auto" || cfg.Server.Hostname == "" {
		t.Errorf("expected hostname to be resolved, got %q", cfg.Server.Hostname)
	}
}

func TestLoadRejectsUnsupportedTransform(t *testing.T) {
	path := writeTempConfig(t, `
mqtt:
  type: builtin
  host: 0.0.0.0
  port: 1883
  topic: nas/panel/data
  qos: 0
collection:
  interval: 30
custom_collectors:
  - name: weird
    type: env
    env_var: FOO
    transform: eval-js
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for unsupported transform, got nil")
	}
}

func TestLoadRejectsIllegalQoS(t *testing.T) {
	path := writeTempConfig(t, `
mqtt:
  type: builtin
  host: 0.0.0.0
  port: 1883
  topic: nas/panel/data
  qos: 2
collection:
  interval: 30
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for qos=2, got nil")
	}
}

func TestLoadRejectsExternalWithoutClientID(t *testing.T) {
	path := writeTempConfig(t, `
mqtt:
  type: external
  host: broker.example.com
  port: 1883
  topic: nas/panel/data
  qos: 1
collection:
  interval: 30
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigError for external mode without client_id, got nil")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestEnvOverridesApply(t *testing.T) {
	path := writeTempConfig(t, `
mqtt:
  type: builtin
  host: 0.0.0.0
  port: 1883
  topic: nas/panel/data
  qos: 0
collection:
  interval: 30
`)
	t.Setenv("PANELMON_MQTT_TOPIC", "nas/override/data")
	t.Setenv("PANELMON_COLLECTION_INTERVAL", "15")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT.Topic != "nas/override/data" {
		t.Errorf("mqtt.topic = %q, want nas/override/data", cfg.MQTT.Topic)
	}
	if cfg.Collection.IntervalSeconds != 15 {
		t.Errorf("collection.interval = %d, want 15", cfg.Collection.IntervalSeconds)
	}
}

func TestGenerateWritesLoadableDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generated.yaml")
	if err := Generate(path); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load generated config: %v", err)
	}
	if cfg.MQTT.Topic != "nas/panel/data" {
		t.Errorf("mqtt.topic = %q, want nas/panel/data", cfg.MQTT.Topic)
	}
}

func TestValidateRejectsDuplicateCollectorNames(t *testing.T) {
	cfg := Default()
	cfg.CustomCollectors = []CustomCollector{
		{Name: "dup", Type: CollectorEnv, EnvVar: "A"},
		{Name: "dup", Type: CollectorEnv, EnvVar: "B"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected ConfigError for duplicate collector name, got nil")
	}
}
