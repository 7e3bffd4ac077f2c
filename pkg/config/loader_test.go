package config

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitialize_MissingFileYieldsEmptyRegistry(t *testing.T) {
	t.Setenv(ConfigEnvVar, "")
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	r, err := Initialize(context.Background(), testLogger())
	require.NoError(t, err)
	assert.Empty(t, r.EnabledNames())
}

func TestInitialize_LoadsFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	body := fileConfig{Servers: map[string]ServerDescriptor{
		"srv": {Type: TransportStdio, Command: "cat", Args: []string{"-"}},
	}}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	t.Setenv(ConfigEnvVar, path)
	r, err := Initialize(context.Background(), testLogger())
	require.NoError(t, err)
	d, err := r.Get("srv")
	require.NoError(t, err)
	assert.Equal(t, "cat", d.Command)
	assert.True(t, d.IsEnabled())
}

func TestInitialize_UnsupportedTransportIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	raw := []byte(`{"servers":{"srv":{"type":"http","command":"x"}}}`)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	t.Setenv(ConfigEnvVar, path)
	_, err := Initialize(context.Background(), testLogger())
	require.Error(t, err)
}

func TestInitialize_InvalidJSONIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	t.Setenv(ConfigEnvVar, path)
	_, err := Initialize(context.Background(), testLogger())
	require.Error(t, err)
}
