package portregistry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPathSiblingUnlessOverridden(t *testing.T) {
	os.Unsetenv("DEVSERVERS_PORT_REGISTRY_PATH")
	assert.Equal(t, filepath.FromSlash("/tmp/port-registry.json"), DefaultPath(filepath.FromSlash("/tmp/devservers.json")))

	t.Setenv("DEVSERVERS_PORT_REGISTRY_PATH", "/elsewhere/registry.json")
	assert.Equal(t, "/elsewhere/registry.json", DefaultPath(filepath.FromSlash("/tmp/devservers.json")))
}

func TestReadMissingWithoutCreateReturnsEmptyNoWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "port-registry.json")

	f, err := Read(path, false)
	require.NoError(t, err)
	assert.Equal(t, 0, len(f.Services))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadMissingWithCreateWritesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "port-registry.json")

	f, err := Read(path, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Version)
	assert.Equal(t, 0, len(f.Services))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)
}

func TestEnsurePortAllocatesFirstAvailableAboveReserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "port-registry.json")

	taken := map[int]bool{3002: true}
	probe := func(port int) bool { return !taken[port] }

	port, err := EnsurePort(path, "api", EnsureOptions{
		CreateIfMissing: true,
		PreferredPort:   3000,
		Reserved:        map[int]bool{3000: true, 3001: true},
		Probe:           probe,
	})
	require.NoError(t, err)
	assert.Equal(t, 3003, port)

	f, err := Read(path, false)
	require.NoError(t, err)
	assert.Equal(t, 3003, f.Services["api"])
}

func TestEnsurePortIsIdempotentAndDoesNotRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "port-registry.json")

	probe := func(port int) bool { return true }
	opts := EnsureOptions{CreateIfMissing: true, PreferredPort: 4000, Probe: probe}

	port1, err := EnsurePort(path, "api", opts)
	require.NoError(t, err)

	info1, err := os.Stat(path)
	require.NoError(t, err)

	port2, err := EnsurePort(path, "api", opts)
	require.NoError(t, err)
	assert.Equal(t, port1, port2)

	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestEnsurePortExhaustionReturnsNoFreePort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "port-registry.json")

	probe := func(port int) bool { return false }
	_, err := EnsurePort(path, "api", EnsureOptions{
		CreateIfMissing: true,
		PreferredPort:   65535,
		Probe:           probe,
	})
	require.ErrorIs(t, err, ErrNoFreePort)
}
