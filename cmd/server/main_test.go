package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ConfigErrors(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to load config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 0\nbackend:\n  api-key: sk\n"), 0o600))
	err = run(context.Background(), path)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BOOSTPROXY_TEST_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("BOOSTPROXY_TEST_VALUE") })

	loadEnvFile(path)
	assert.Equal(t, "from-file", os.Getenv("BOOSTPROXY_TEST_VALUE"))
}
