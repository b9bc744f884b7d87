package config

import (
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"PORT", "PUMPRELAY_METRICS_PORT", "PUMPRELAY_LOG_LEVEL", "PUMPRELAY_STATIC_DIR", "PUMPRELAY_MDNS",
	"PUMPRELAY_LOG_STORE", "MONGODB_URI", "PUMPRELAY_MONGO_DATABASE", "PUMPRELAY_MONGO_COLLECTION",
	"PUMPRELAY_DATABASE_PATH", "PUMPRELAY_STORE_TIMEOUT", "PUMPRELAY_LOGS_POLICY", "PUMPRELAY_IDENTIFY_POLICY",
	"PUMPRELAY_WS_PING_INTERVAL", "PUMPRELAY_MQTT_BROKER", "PUMPRELAY_MQTT_TOPIC", "PUMPRELAY_MQTT_CLIENT_ID",
	"PUMPRELAY_MQTT_USERNAME", "PUMPRELAY_MQTT_PASSWORD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.MetricsPort != 9090 {
		t.Errorf("ports: got %d/%d", cfg.HTTPPort, cfg.MetricsPort)
	}
	if cfg.LogStore != StoreMongo || cfg.MongoURI != "" {
		t.Errorf("store: got %q uri=%q", cfg.LogStore, cfg.MongoURI)
	}
	if cfg.MongoDatabase != "pumprelay" || cfg.MongoCollection != "logs" {
		t.Errorf("mongo names: got %s/%s", cfg.MongoDatabase, cfg.MongoCollection)
	}
	if cfg.LogsPolicy != "lenient" || cfg.IdentifyPolicy != "replace" {
		t.Errorf("policies: got %s/%s", cfg.LogsPolicy, cfg.IdentifyPolicy)
	}
	if cfg.StoreTimeout != 5*time.Second || cfg.PingInterval != 30*time.Second {
		t.Errorf("durations: got %v/%v", cfg.StoreTimeout, cfg.PingInterval)
	}
	if !cfg.MDNS || cfg.MQTTBroker != "" || cfg.MQTTTopic != "pumprelay/status" {
		t.Errorf("mdns/mqtt: got %v %q %q", cfg.MDNS, cfg.MQTTBroker, cfg.MQTTTopic)
	}
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("PUMPRELAY_METRICS_PORT", "0")
	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("PUMPRELAY_LOG_STORE", "SQLite")
	t.Setenv("PUMPRELAY_DATABASE_PATH", "/var/lib/pumprelay/logs.db")
	t.Setenv("PUMPRELAY_STORE_TIMEOUT", "0s")
	t.Setenv("PUMPRELAY_LOGS_POLICY", "strict")
	t.Setenv("PUMPRELAY_IDENTIFY_POLICY", "reject")
	t.Setenv("PUMPRELAY_WS_PING_INTERVAL", "0")
	t.Setenv("PUMPRELAY_MDNS", "false")
	t.Setenv("PUMPRELAY_MQTT_BROKER", "tcp://broker:1883")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPPort != 3000 || cfg.MetricsPort != 0 {
		t.Errorf("ports: got %d/%d", cfg.HTTPPort, cfg.MetricsPort)
	}
	if cfg.LogStore != StoreSQLite || cfg.DatabasePath != "/var/lib/pumprelay/logs.db" {
		t.Errorf("store: got %q at %q", cfg.LogStore, cfg.DatabasePath)
	}
	if cfg.MongoURI != "mongodb://db:27017" {
		t.Errorf("uri: got %q", cfg.MongoURI)
	}
	if cfg.StoreTimeout != 0 || cfg.PingInterval != 0 {
		t.Errorf("durations: got %v/%v", cfg.StoreTimeout, cfg.PingInterval)
	}
	if cfg.LogsPolicy != "strict" || cfg.IdentifyPolicy != "reject" {
		t.Errorf("policies: got %s/%s", cfg.LogsPolicy, cfg.IdentifyPolicy)
	}
	if cfg.MDNS {
		t.Error("mdns still enabled")
	}
	if cfg.MQTTBroker != "tcp://broker:1883" {
		t.Errorf("broker: got %q", cfg.MQTTBroker)
	}
}

func TestInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"PORT", "http", "PORT"},
		{"PORT", "70000", "out of range"},
		{"PUMPRELAY_METRICS_PORT", "-1", "out of range"},
		{"PUMPRELAY_MDNS", "maybe", "PUMPRELAY_MDNS"},
		{"PUMPRELAY_LOG_STORE", "postgres", "PUMPRELAY_LOG_STORE"},
		{"PUMPRELAY_STORE_TIMEOUT", "soon", "PUMPRELAY_STORE_TIMEOUT"},
		{"PUMPRELAY_STORE_TIMEOUT", "-1s", "negative"},
		{"PUMPRELAY_LOGS_POLICY", "loose", "PUMPRELAY_LOGS_POLICY"},
		{"PUMPRELAY_IDENTIFY_POLICY", "merge", "PUMPRELAY_IDENTIFY_POLICY"},
	}

	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := FromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
