package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpecValues(t *testing.T) {
	e := Defaults()
	require.Equal(t, 5*time.Second, e.MetaAckTimeout())
	require.Equal(t, 5*time.Second, e.DataAckTimeout())
	require.Equal(t, 5*time.Second, e.PingTimeout())
	require.Equal(t, 16*time.Millisecond, e.DrainPollInterval())
	require.Equal(t, 3, e.DataAckRetries)
	require.Equal(t, 16, e.ReorderBufferCapacity)
	require.Equal(t, 16*1024, e.DefaultMaxPayload)
	require.Equal(t, 5000, e.PingSuppressWindowMs)
	require.Equal(t, 64, e.DrainThreshold)
	require.True(t, e.EnableAckDatachannel)
	require.False(t, e.EnableAckSocket)
	require.Equal(t, time.Second, e.ProgressPublishInterval())
}

func TestLoadTOMLOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	contents := `
ping_timeout_ms = 10000
enable_ack_socket = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	e, err := LoadTOML(path)
	require.NoError(t, err)

	require.Equal(t, 10*time.Second, e.PingTimeout())
	require.True(t, e.EnableAckSocket)
	// Fields absent from the file keep their default.
	require.Equal(t, 5*time.Second, e.MetaAckTimeout())
	require.Equal(t, 3, e.DataAckRetries)
}

func TestLoadTOMLMissingFileErrors(t *testing.T) {
	_, err := LoadTOML(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
