package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "", c.Group)
	assert.Equal(t, ":7070", c.TransportAddr)
	assert.Equal(t, 5*time.Second, c.QueryTimeout)
	assert.Equal(t, 10*time.Second, c.HTTPTimeout)
	assert.NotNil(t, c.InitConfig)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
group: payments
listen_addr: 127.0.0.1:8080
query_timeout: 750ms
init_config:
  interval: 10
  tags:
    - a
    - b
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tally.yaml"), []byte(yaml), 0o600))

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "payments", c.Group)
	assert.Equal(t, "127.0.0.1:8080", c.ListenAddr)
	assert.Equal(t, ":7070", c.TransportAddr)
	assert.Equal(t, 750*time.Millisecond, c.QueryTimeout)
	assert.Equal(t, 10, c.InitConfig["interval"])
	assert.Equal(t, []interface{}{"a", "b"}, c.InitConfig["tags"])

	p := c.EndPointConfig()
	require.NotNil(t, p.QueryTimeout)
	assert.Equal(t, 750*time.Millisecond, *p.QueryTimeout)
	assert.Equal(t, c.InitConfig, p.InitConfig)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tally.yaml"), []byte("group: payments\n"), 0o600))
	t.Setenv("TALLY_GROUP", "ledger")
	t.Setenv("TALLY_TRANSPORT_ADDR", ":9090")

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ledger", c.Group)
	assert.Equal(t, ":9090", c.TransportAddr)
}

func TestLoadBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tally.yaml"), []byte("group: [unterminated\n"), 0o600))
	_, err := Load(dir)
	assert.Error(t, err)
}
