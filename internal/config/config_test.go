package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BRPUNCH_TEST_ADDR=10.0.0.1:6923\nBRPUNCH_TEST_SET=from-file\n"), 0o600))

	t.Setenv("BRPUNCH_TEST_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("BRPUNCH_TEST_ADDR") })

	require.NoError(t, Load(path))
	assert.Equal(t, "10.0.0.1:6923", String("BRPUNCH_TEST_ADDR", ""))
	assert.Equal(t, "from-env", String("BRPUNCH_TEST_SET", ""), "existing variables win")
}

func TestLoadMissingFile(t *testing.T) {
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.env")))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	assert.NoError(t, Load(""), "a missing default .env is not an error")
}

func TestString(t *testing.T) {
	t.Setenv("BRPUNCH_TEST_STR", "")
	assert.Equal(t, "def", String("BRPUNCH_TEST_STR", "def"))

	t.Setenv("BRPUNCH_TEST_STR", "value")
	assert.Equal(t, "value", String("BRPUNCH_TEST_STR", "def"))
}

func TestInt(t *testing.T) {
	t.Setenv("BRPUNCH_TEST_INT", "6923")
	assert.Equal(t, 6923, Int("BRPUNCH_TEST_INT", 1))

	t.Setenv("BRPUNCH_TEST_INT", "abc")
	assert.Equal(t, 1, Int("BRPUNCH_TEST_INT", 1))

	t.Setenv("BRPUNCH_TEST_INT", "")
	assert.Equal(t, 1, Int("BRPUNCH_TEST_INT", 1))
}

func TestBool(t *testing.T) {
	t.Setenv("BRPUNCH_TEST_BOOL", "true")
	assert.True(t, Bool("BRPUNCH_TEST_BOOL", false))

	t.Setenv("BRPUNCH_TEST_BOOL", "0")
	assert.False(t, Bool("BRPUNCH_TEST_BOOL", true))

	t.Setenv("BRPUNCH_TEST_BOOL", "maybe")
	assert.True(t, Bool("BRPUNCH_TEST_BOOL", true))
}
