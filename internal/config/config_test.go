package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.RecordStore)
	assert.True(t, cfg.DBEnabled)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "dialysis", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "Asia/Kolkata", cfg.Ledger.Timezone)
	assert.Equal(t, time.Minute, cfg.DashboardCacheTTL())
	assert.Equal(t, "ledger:changes", cfg.Change.Stream)
	assert.Equal(t, "pd_images", cfg.Mongo.Bucket)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("RECORD_STORE", "memory")
	t.Setenv("LEDGER_TIMEZONE", "UTC")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "memory", cfg.RecordStore)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	os.Clearenv()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
database:
  host: pg
ledger:
  dashboard_cache_ttl_seconds: 5
mqtt:
  enabled: true
  broker: tcp://mqtt:1883
  topic_prefix: clinic/patients
`), 0o600))
	t.Setenv("LEDGER_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "pg", cfg.Database.Host)
	assert.Equal(t, "postgres", cfg.Database.User, "keys missing from the file keep env defaults")
	assert.Equal(t, 5*time.Second, cfg.DashboardCacheTTL())
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, "clinic/patients", cfg.MQTT.TopicPrefix)
}

func TestLoad_MissingOverlayFile(t *testing.T) {
	os.Clearenv()
	t.Setenv("LEDGER_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLocation_InvalidFallsBackToUTC(t *testing.T) {
	cfg := &Config{}
	cfg.Ledger.Timezone = "Mars/Olympus"
	assert.Equal(t, time.UTC, cfg.Location())
}
