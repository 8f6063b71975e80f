package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	t.Setenv("APP_STORE", "memory")

	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, LockLocal, cfg.Lock.Backend)
	assert.Equal(t, "Asia/Jerusalem", cfg.Schedule.Timezone)
	assert.Equal(t, "06:00", cfg.Schedule.OpenAt)
	assert.Equal(t, "22:00", cfg.Schedule.CloseAt)
	assert.Equal(t, 14*24*time.Hour, cfg.Schedule.Horizon)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.SlotQuantum)
	assert.True(t, cfg.Feed.IncludeAvailability)
	assert.False(t, cfg.PrometheusEnabled)
	assert.Nil(t, cfg.Kafka.Brokers)
}

func TestLoadBuildsDSNFromParts(t *testing.T) {
	t.Setenv("APP_DB_HOST", "db")
	t.Setenv("APP_DB_NAME", "washcal")
	t.Setenv("APP_DB_USER", "wash")
	t.Setenv("APP_DB_PASSWORD", "secret")

	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://wash:secret@db:5432/washcal?sslmode=disable", cfg.DB.DSN)
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	_, err := LoadFrom("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_DB_DSN")
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("APP_STORE", "memory")
	t.Setenv("APP_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("APP_TRUSTED_PROXIES", "10.0.0.0/8")

	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown store", map[string]string{"APP_STORE": "sqlite"}, "APP_STORE"},
		{"unknown lock", map[string]string{"APP_STORE": "memory", "APP_LOCK_BACKEND": "etcd"}, "APP_LOCK_BACKEND"},
		{"redis without addr", map[string]string{"APP_STORE": "memory", "APP_LOCK_BACKEND": "redis"}, "APP_REDIS_ADDR"},
		{"zero quantum", map[string]string{"APP_STORE": "memory", "APP_SLOT_QUANTUM": "0s"}, "APP_SLOT_QUANTUM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "washcal.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_STORE=memory\nAPP_LISTEN_ADDR=:9090\nAPP_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("APP_LOG_LEVEL", "warn")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.Log.Level)
}
