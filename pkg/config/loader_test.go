package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadConfig_MergesEnvAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_PASS}
reminder:
  timezone: UTC
  batch_size: 100
`)
	writeFile(t, dir, "production.yaml", `
db:
  host: db.internal
reminder:
  batch_size: 500
`)
	writeFile(t, dir, "secrets.env", "# comment\nDB_PASS=\"s3cret\"\n")

	cfgMap, err := LoadConfig("production", dir)
	require.NoError(t, err)

	var cfg struct {
		DB       DBConfig       `yaml:"db"`
		Reminder ReminderConfig `yaml:"reminder"`
	}
	require.NoError(t, Decode(cfgMap, &cfg))

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "s3cret", cfg.DB.Password)
	assert.Equal(t, "UTC", cfg.Reminder.Timezone)
	assert.Equal(t, 500, cfg.Reminder.BatchSize)
}

func TestLoadConfig_MissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base.yaml")
}

func TestLoadConfig_UnknownEnvFallsBackToBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server:\n  port: \"8080\"\n")

	cfgMap, err := LoadConfig("staging", dir)
	require.NoError(t, err)

	var cfg struct {
		Server ServerConfig `yaml:"server"`
	}
	require.NoError(t, Decode(cfgMap, &cfg))
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestReminderConfig_Location(t *testing.T) {
	assert.Equal(t, time.Local, ReminderConfig{}.Location())
	assert.Equal(t, time.Local, ReminderConfig{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "UTC", ReminderConfig{Timezone: "UTC"}.Location().String())
}

func TestOverrideReminderFromEnv(t *testing.T) {
	t.Setenv("REMINDER_TIMEZONE", "Asia/Shanghai")
	t.Setenv("REMINDER_BATCH_SIZE", "42")

	cfg := ReminderConfig{Timezone: "UTC", BatchSize: 100}
	OverrideReminderFromEnv(&cfg)

	assert.Equal(t, "Asia/Shanghai", cfg.Timezone)
	assert.Equal(t, 42, cfg.BatchSize)
}
