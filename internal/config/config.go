package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config lists the tunable parameters for the relay server.
type Config struct {
	HTTPPort    int
	MetricsPort int
	LogLevel    string
	StaticDir   string
	MDNS        bool

	LogStore        string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	DatabasePath    string
	StoreTimeout    time.Duration

	LogsPolicy     string
	IdentifyPolicy string
	PingInterval   time.Duration

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
}

// Log store backends.
const (
	StoreMongo  = "mongo"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

const (
	defaultHTTPPort        = 8080
	defaultMetricsPort     = 9090
	defaultLogLevel        = "info"
	defaultStaticDir       = "web"
	defaultLogStore        = StoreMongo
	defaultMongoDatabase   = "pumprelay"
	defaultMongoCollection = "logs"
	defaultDatabasePath    = "data/pumprelay.db"
	defaultStoreTimeout    = 5 * time.Second
	defaultLogsPolicy      = "lenient"
	defaultIdentifyPolicy  = "replace"
	defaultPingInterval    = 30 * time.Second
	defaultMQTTTopic       = "pumprelay/status"
	defaultMQTTClientID    = "pumprelay-mirror"
)

// Load reads an optional .env file, then derives configuration values from
// environment variables, falling back to defaults.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv derives configuration from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPPort:        defaultHTTPPort,
		MetricsPort:     defaultMetricsPort,
		LogLevel:        defaultLogLevel,
		StaticDir:       defaultStaticDir,
		MDNS:            true,
		LogStore:        defaultLogStore,
		MongoDatabase:   defaultMongoDatabase,
		MongoCollection: defaultMongoCollection,
		DatabasePath:    defaultDatabasePath,
		StoreTimeout:    defaultStoreTimeout,
		LogsPolicy:      defaultLogsPolicy,
		IdentifyPolicy:  defaultIdentifyPolicy,
		PingInterval:    defaultPingInterval,
		MQTTTopic:       defaultMQTTTopic,
		MQTTClientID:    defaultMQTTClientID,
	}

	var err error

	if cfg.HTTPPort, err = portEnv("PORT", cfg.HTTPPort); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = portEnv("PUMPRELAY_METRICS_PORT", cfg.MetricsPort); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("PUMPRELAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PUMPRELAY_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("PUMPRELAY_MDNS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PUMPRELAY_MDNS: %w", err)
		}
		cfg.MDNS = enabled
	}

	if v := os.Getenv("PUMPRELAY_LOG_STORE"); v != "" {
		cfg.LogStore = strings.ToLower(v)
	}
	switch cfg.LogStore {
	case StoreMongo, StoreSQLite, StoreMemory:
	default:
		return Config{}, fmt.Errorf("invalid PUMPRELAY_LOG_STORE %q: want mongo, sqlite or memory", cfg.LogStore)
	}

	cfg.MongoURI = os.Getenv("MONGODB_URI")
	if v := os.Getenv("PUMPRELAY_MONGO_DATABASE"); v != "" {
		cfg.MongoDatabase = v
	}
	if v := os.Getenv("PUMPRELAY_MONGO_COLLECTION"); v != "" {
		cfg.MongoCollection = v
	}
	if v := os.Getenv("PUMPRELAY_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if cfg.StoreTimeout, err = durationEnv("PUMPRELAY_STORE_TIMEOUT", cfg.StoreTimeout); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("PUMPRELAY_LOGS_POLICY"); v != "" {
		cfg.LogsPolicy = strings.ToLower(v)
	}
	if cfg.LogsPolicy != "lenient" && cfg.LogsPolicy != "strict" {
		return Config{}, fmt.Errorf("invalid PUMPRELAY_LOGS_POLICY %q: want lenient or strict", cfg.LogsPolicy)
	}
	if v := os.Getenv("PUMPRELAY_IDENTIFY_POLICY"); v != "" {
		cfg.IdentifyPolicy = strings.ToLower(v)
	}
	if cfg.IdentifyPolicy != "replace" && cfg.IdentifyPolicy != "reject" {
		return Config{}, fmt.Errorf("invalid PUMPRELAY_IDENTIFY_POLICY %q: want replace or reject", cfg.IdentifyPolicy)
	}
	if cfg.PingInterval, err = durationEnv("PUMPRELAY_WS_PING_INTERVAL", cfg.PingInterval); err != nil {
		return Config{}, err
	}

	cfg.MQTTBroker = os.Getenv("PUMPRELAY_MQTT_BROKER")
	if v := os.Getenv("PUMPRELAY_MQTT_TOPIC"); v != "" {
		cfg.MQTTTopic = v
	}
	if v := os.Getenv("PUMPRELAY_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTTClientID = v
	}
	cfg.MQTTUsername = os.Getenv("PUMPRELAY_MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("PUMPRELAY_MQTT_PASSWORD")

	return cfg, nil
}

func portEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid %s: %d out of range", key, port)
	}
	return port, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration", key)
	}
	return d, nil
}
