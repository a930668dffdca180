package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("DB_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.ServerPort)
	assert.Equal(t, 1<<20, cfg.MaxSnapshotBytes)
	assert.Equal(t, 0, cfg.MaxRoomMembers)
	assert.Equal(t, 256, cfg.SendQueueSize)
	assert.Equal(t, 7*24*time.Hour, cfg.ActivityRetention)
	assert.False(t, cfg.JournalEnabled())
}

func TestLoadHonoursPortFallback(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_SNAPSHOT_BYTES", "2048")
	t.Setenv("MAX_ROOM_MEMBERS", "8")
	t.Setenv("ACTIVITY_RETENTION", "90m")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "file::memory:")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.MaxSnapshotBytes)
	assert.Equal(t, 8, cfg.MaxRoomMembers)
	assert.Equal(t, 90*time.Minute, cfg.ActivityRetention)
	assert.True(t, cfg.JournalEnabled())
	assert.Equal(t, "file::memory:", cfg.DatabaseURL())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			MaxSnapshotBytes:       1024,
			SendQueueSize:          1,
			PresenceQueueSize:      1,
			MessagesPerSecond:      1,
			MessageBurst:           1,
			CursorUpdatesPerSecond: 1,
			ActivityWorkers:        1,
			ActivityQueueSize:      1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero snapshot cap", mutate: func(c *Config) { c.MaxSnapshotBytes = 0 }, wantErr: true},
		{name: "negative room cap", mutate: func(c *Config) { c.MaxRoomMembers = -1 }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, wantErr: true},
		{name: "postgres driver", mutate: func(c *Config) { c.DBDriver = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseURLPostgres(t *testing.T) {
	cfg := &Config{
		DBDriver:   "postgres",
		DBHost:     "db",
		DBPort:     "5433",
		DBUser:     "relay",
		DBPassword: "secret",
		DBName:     "canvas",
		DBSSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5433 user=relay password=secret dbname=canvas sslmode=disable", cfg.DatabaseURL())
}
