package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sushant-115/detdb/core/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
protocol: splice
service:
  workers: 8
  poll_interval: 2ms
store:
  read_latency: 10us
  ops_per_second: 5000
  burst: 10
bench:
  txns: 500
  mix:
    read: 1
    write: 1
    abort: 0
    commit: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, engine.Splice, cfg.Protocol)
	assert.Equal(t, 8, cfg.Service.Workers)
	assert.Equal(t, 2*time.Millisecond, cfg.Service.PollInterval)
	assert.Equal(t, Default().Service.QueueSlack, cfg.Service.QueueSlack)
	assert.Equal(t, 10*time.Microsecond, cfg.Store.ReadLatency)
	assert.Equal(t, 5000.0, cfg.Store.OpsPerSecond)
	assert.Equal(t, 500, cfg.Bench.Txns)
	assert.Equal(t, uint64(1), cfg.Bench.Mix.Commit)
	assert.Equal(t, Default().Bench.Seed, cfg.Bench.Seed)
	assert.Equal(t, "detdb", cfg.Telemetry.ServiceName)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "service: [not, a, map]"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "protocol: optimistic"))
	require.ErrorIs(t, err, engine.ErrUnknownProtocol)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Service.Workers = 0
	cfg.Bench.Mix.Commit = 0
	cfg.Bench.ValueRange = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "mix.commit")
	assert.Contains(t, err.Error(), "value_range")
}
