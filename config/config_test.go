package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, cfg *Controller) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "controller.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestGeneratedConfigLoads(t *testing.T) {
	generated, err := GenerateConfig("controller.yaml")
	require.NoError(t, err)

	loaded, err := LoadConfig(writeConfig(t, generated))
	require.NoError(t, err)
	assert.Equal(t, generated, loaded)
	assert.Equal(t, 10*time.Minute, loaded.AutoDiskful.Delay)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dataDir: /var/lib/strata
listen: 0.0.0.0:3370
logging:
  level: debug
locks:
  acquireTimeout: 5s
satelliteState:
  ttl: 2m
autoDiskful:
  delay: 1m
  checkInterval: 10s
ingress:
  limit: 50
  burst: 10
  readBufferSize: 1024
  writeBufferSize: 1024
  maxConnections: 8
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/strata", cfg.DataDir)
	assert.Equal(t, 5*time.Second, cfg.Locks.AcquireTimeout)
	assert.Equal(t, 2*time.Minute, cfg.SatelliteState.TTL)
	assert.Equal(t, 10*time.Second, cfg.AutoDiskful.CheckInterval)
	assert.Equal(t, 8, cfg.Ingress.MaxConnections)
	assert.Equal(t, TCPPorts{}, cfg.TCPPorts)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Controller)
		want   error
	}{
		{"no data dir", func(c *Controller) { c.DataDir = "" }, ErrDataDirMissing},
		{"no listen", func(c *Controller) { c.Listen = "" }, ErrListenMissing},
		{"negative lock timeout", func(c *Controller) { c.Locks.AcquireTimeout = -time.Second }, ErrLocksAcquireTimeoutInvalid},
		{"negative ttl", func(c *Controller) { c.SatelliteState.TTL = -time.Second }, ErrSatelliteStateTTLInvalid},
		{"no delay", func(c *Controller) { c.AutoDiskful.Delay = 0 }, ErrAutoDiskfulDelayMissing},
		{"no check interval", func(c *Controller) { c.AutoDiskful.CheckInterval = 0 }, ErrAutoDiskfulCheckIntervalMissing},
		{"no limit", func(c *Controller) { c.Ingress.Limit = 0 }, ErrIngressLimitMissing},
		{"no burst", func(c *Controller) { c.Ingress.Burst = 0 }, ErrIngressBurstMissing},
		{"no read buffer", func(c *Controller) { c.Ingress.ReadBufferSize = 0 }, ErrIngressReadBufferSizeMissing},
		{"no write buffer", func(c *Controller) { c.Ingress.WriteBufferSize = 0 }, ErrIngressWriteBufferSizeMissing},
		{"no max connections", func(c *Controller) { c.Ingress.MaxConnections = 0 }, ErrIngressMaxConnectionsMissing},
		{"inverted port range", func(c *Controller) { c.TCPPorts = TCPPorts{Min: 8000, Max: 7000} }, ErrTCPPortsInvalid},
		{"port range too high", func(c *Controller) { c.TCPPorts = TCPPorts{Min: 7000, Max: 70000} }, ErrTCPPortsInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := GenerateConfig("")
			require.NoError(t, err)
			tt.mutate(cfg)
			_, err = LoadConfig(writeConfig(t, cfg))
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.ErrorIs(t, err, ErrConfigFileUnreadable)
	})
	t.Run("not yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("dataDir: [unterminated"), 0644))
		_, err := LoadConfig(path)
		require.ErrorIs(t, err, ErrConfigFileUnmarshallable)
	})
}
