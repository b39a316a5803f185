package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "pingcounter/pkg/errors"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SUDO_USER", "")
	t.Setenv("SUDO_UID", "")
	return home
}

func TestParseList(t *testing.T) {
	isolateHome(t)

	cfg, err := Parse([]byte(`
log_level: debug
http_listen: ":9108"
ping_counter:
  - id: gateway
    ip_address: 192.168.1.1
    threshold: 3
    update_interval: 5s
    alert_binary_sensor:
      name: Gateway Down
  - id: dns
    ip_address: 8.8.8.8
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9108", cfg.HTTPListen)
	require.Len(t, cfg.Counters, 2)

	gw := cfg.Counters[0]
	assert.Equal(t, "gateway", gw.ID)
	require.NotNil(t, gw.Threshold)
	assert.Equal(t, 3, *gw.Threshold)
	assert.Equal(t, 5*time.Second, gw.UpdateInterval.Std())
	require.NotNil(t, gw.AlertBinarySensor)
	assert.Equal(t, "Gateway Down", gw.AlertBinarySensor.Label())

	dns := cfg.Counters[1]
	assert.Nil(t, dns.Threshold)
	assert.Nil(t, dns.AlertBinarySensor)
	opts := dns.Options()
	assert.Equal(t, 10, opts.Threshold)
	assert.Equal(t, 10*time.Second, opts.Interval)
	assert.NoError(t, cfg.Validate())
}

func TestParseSingleMapping(t *testing.T) {
	isolateHome(t)

	cfg, err := Parse([]byte(`
ping_counter:
  ip_address: 10.0.0.1
  update_interval: 1min
`))
	require.NoError(t, err)
	require.Len(t, cfg.Counters, 1)
	assert.True(t, strings.HasPrefix(cfg.Counters[0].ID, "ping_counter_"))
	assert.Equal(t, time.Minute, cfg.Counters[0].UpdateInterval.Std())
}

func TestParseDefaults(t *testing.T) {
	home := isolateHome(t)

	cfg, err := Parse([]byte("ping_counter:\n  id: a\n  ip_address: 10.0.0.1\n"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 7*24*time.Hour, cfg.HistoryRetention.Std())
	assert.Equal(t, filepath.Join(home, ".local", "share", "pingcounter", "pingcounter.db"), cfg.DatabasePath)
}

func TestParseErrors(t *testing.T) {
	isolateHome(t)

	_, err := Parse([]byte("log_level: info\n"))
	assert.ErrorIs(t, err, pkgerrors.ErrNoCounters)

	_, err = Parse([]byte(`
ping_counter:
  - id: a
    ip_address: 10.0.0.1
  - id: a
    ip_address: 10.0.0.2
`))
	assert.ErrorIs(t, err, pkgerrors.ErrDuplicateCounter)

	_, err = Parse([]byte("ping_counter: 12\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("ping_counter:\n  ip_address: 10.0.0.1\n  update_interval: soon\n"))
	assert.Error(t, err)
}

func TestValidateReportsEveryCounter(t *testing.T) {
	isolateHome(t)

	cfg, err := Parse([]byte(`
ping_counter:
  - id: bad_ip
    ip_address: "not an ip!!"
  - id: bad_threshold
    ip_address: 10.0.0.1
    threshold: 0
  - id: fine
    ip_address: 10.0.0.2
    threshold: 100
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidAddress)
	assert.ErrorIs(t, err, pkgerrors.ErrThresholdRange)
	assert.Contains(t, err.Error(), "bad_ip")
	assert.NotContains(t, err.Error(), "'fine'")
}

func TestLoadFile(t *testing.T) {
	isolateHome(t)

	path := filepath.Join(t.TempDir(), "pingcounter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ping_counter:\n  id: a\n  ip_address: 10.0.0.1\n  alert_binary_sensor: {}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	c, ok := cfg.Find("a")
	require.True(t, ok)
	assert.Equal(t, "a_alert", c.AlertBinarySensor.Label())

	_, ok = cfg.Find("missing")
	assert.False(t, ok)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
