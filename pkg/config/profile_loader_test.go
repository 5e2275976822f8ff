package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "prod", `
name: prod
consumer:
  workers: 8
  dlq_sample_bps: 250
  delivery_writes_per_second: 100
watchdog:
  tenants: [tenant-a, tenant-b]
  sweep_interval_s: 30
observability:
  enabled: true
  endpoint: otel-collector:4317
  sample_rate: 0.1
`)

	p, err := LoadProfile(dir, "PROD")
	require.NoError(t, err)
	assert.Equal(t, "prod", p.Name)
	assert.Equal(t, 8, p.Consumer.Workers)
	assert.Equal(t, 250, p.Consumer.DLQSampleBps)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, p.Watchdog.Tenants)
	assert.Equal(t, 30.0, p.Watchdog.SweepIntervalS)
	assert.True(t, p.Observability.Enabled)
	assert.Equal(t, 0.1, p.Observability.SampleRate)
}

func TestSparseProfileGetsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "dev", "watchdog:\n  tenants: [tenant-a]\n")

	p, err := LoadProfile(dir, "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", p.Name, "name falls back to the file name")
	assert.Equal(t, 4, p.Consumer.Workers)
	assert.Equal(t, 500, p.Consumer.DLQSampleBps)
	assert.Equal(t, 50.0, p.Consumer.DeliveryWritesPerSecond)
	assert.Equal(t, 60.0, p.Watchdog.SweepIntervalS)
	assert.False(t, p.Observability.Enabled)
	assert.Equal(t, 1.0, p.Observability.SampleRate)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "nope")
	require.Error(t, err)
}

func TestLoadProfileBadYAML(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "bad", "consumer: [not, a, map]\n")
	_, err := LoadProfile(dir, "bad")
	require.Error(t, err)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "dev", "consumer:\n  workers: 2\n")
	writeProfile(t, dir, "prod", "name: prod\nconsumer:\n  workers: 16\n")

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, 2, profiles["dev"].Consumer.Workers)
	assert.Equal(t, 16, profiles["prod"].Consumer.Workers)
}
