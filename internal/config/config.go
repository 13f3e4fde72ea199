package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	commoncfg "dialysis-ledger/common/config"

	"gopkg.in/yaml.v3"
)

// Config settings shared by ledger-api and ledger-notifier.
type Config struct {
	HTTP struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"http"`

	// RecordStore selects the exchange store: postgres, rest or memory.
	RecordStore string                   `yaml:"record_store"`
	DBEnabled   bool                     `yaml:"db_enabled"`
	Database    commoncfg.DatabaseConfig `yaml:"database"`
	Redis       commoncfg.RedisConfig    `yaml:"redis"`
	Mongo       commoncfg.MongoConfig    `yaml:"mongo"`
	MQTT        MQTTConfig               `yaml:"mqtt"`
	REST        RESTStoreConfig          `yaml:"rest"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Ledger LedgerConfig `yaml:"ledger"`
	Auth   AuthConfig   `yaml:"auth"`
	Blob   BlobConfig   `yaml:"blob"`
	Change ChangeConfig `yaml:"change"`
}

// LedgerConfig civil-time and caching behaviour
type LedgerConfig struct {
	// Timezone in which "now" is read before it becomes a civil timestamp.
	Timezone          string `yaml:"timezone"`
	DashboardCacheTTL int    `yaml:"dashboard_cache_ttl_seconds"`
	PatientCacheTTL   int    `yaml:"patient_cache_ttl_seconds"`
}

// AuthConfig bearer token settings
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	TTLMinutes int    `yaml:"ttl_minutes"`
	Issuer     string `yaml:"issuer"`
}

// BlobConfig image attachment storage
type BlobConfig struct {
	Backend       string `yaml:"backend"` // gridfs | memory
	PublicBaseURL string `yaml:"public_base_url"`
	MaxSide       int    `yaml:"max_side"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
}

// ChangeConfig change-event stream settings
type ChangeConfig struct {
	Stream        string `yaml:"stream"`
	MaxLen        int64  `yaml:"max_len"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name"`
	BatchSize     int    `yaml:"batch_size"`
}

// MQTTConfig push channel for changed field sets
type MQTTConfig struct {
	commoncfg.MQTTConfig `yaml:",inline"`
	Enabled              bool   `yaml:"enabled"`
	TopicPrefix          string `yaml:"topic_prefix"`
}

// RESTStoreConfig hosted table store reached over HTTP
type RESTStoreConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout int    `yaml:"timeout_seconds"`
}

// Load reads the environment and then, when LEDGER_CONFIG is set, overlays that YAML file.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.CORSOrigins = []string{getEnv("CORS_ORIGIN", "*")}

	cfg.RecordStore = getEnv("RECORD_STORE", "postgres")
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "dialysis")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Mongo.URI = getEnv("MONGO_URI", "mongodb://localhost:27017")
	cfg.Mongo.Database = getEnv("MONGO_DATABASE", "dialysis")
	cfg.Mongo.Bucket = getEnv("BLOB_BUCKET", "pd_images")

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "ledger-notifier")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "ledger/patients")

	cfg.REST.BaseURL = getEnv("REST_STORE_URL", "")
	cfg.REST.APIKey = getEnv("REST_STORE_KEY", "")
	cfg.REST.Timeout = parseInt(getEnv("REST_STORE_TIMEOUT_SECONDS", "15"), 15)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Ledger.Timezone = getEnv("LEDGER_TIMEZONE", "Asia/Kolkata")
	cfg.Ledger.DashboardCacheTTL = parseInt(getEnv("DASHBOARD_CACHE_TTL_SECONDS", "60"), 60)
	cfg.Ledger.PatientCacheTTL = parseInt(getEnv("PATIENT_CACHE_TTL_SECONDS", "600"), 600)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.Auth.TTLMinutes = parseInt(getEnv("JWT_TTL_MINUTES", "1440"), 1440)
	cfg.Auth.Issuer = getEnv("JWT_ISSUER", "dialysis-ledger")

	cfg.Blob.Backend = getEnv("BLOB_BACKEND", "gridfs")
	cfg.Blob.PublicBaseURL = getEnv("BLOB_PUBLIC_BASE_URL", "/api/v1/images")
	cfg.Blob.MaxSide = parseInt(getEnv("BLOB_MAX_SIDE", "2048"), 2048)
	cfg.Blob.MaxUploadMB = parseInt(getEnv("BLOB_MAX_UPLOAD_MB", "10"), 10)

	cfg.Change.Stream = getEnv("CHANGE_STREAM", "ledger:changes")
	cfg.Change.MaxLen = int64(parseInt(getEnv("CHANGE_STREAM_MAXLEN", "10000"), 10000))
	cfg.Change.ConsumerGroup = getEnv("CHANGE_CONSUMER_GROUP", "ledger-notifier-group")
	cfg.Change.ConsumerName = getEnv("CHANGE_CONSUMER_NAME", "ledger-notifier-1")
	cfg.Change.BatchSize = parseInt(getEnv("CHANGE_BATCH_SIZE", "10"), 10)

	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// overlayFile decodes path over cfg; keys absent from the file keep their current value.
func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Location resolves Ledger.Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) DashboardCacheTTL() time.Duration {
	return time.Duration(c.Ledger.DashboardCacheTTL) * time.Second
}

func (c *Config) PatientCacheTTL() time.Duration {
	return time.Duration(c.Ledger.PatientCacheTTL) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TTLMinutes) * time.Minute
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
