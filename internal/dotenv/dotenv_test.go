package dotenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSetsMissingVariables(t *testing.T) {
	path := writeEnvFile(t, "DOTENV_TEST_A=hello\nexport DOTENV_TEST_B=\"quoted value\"\n# comment\n\nDOTENV_TEST_C='single'\n")
	t.Cleanup(func() {
		os.Unsetenv("DOTENV_TEST_A")
		os.Unsetenv("DOTENV_TEST_B")
		os.Unsetenv("DOTENV_TEST_C")
	})

	require.NoError(t, Load(path))
	assert.Equal(t, "hello", os.Getenv("DOTENV_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("DOTENV_TEST_B"))
	assert.Equal(t, "single", os.Getenv("DOTENV_TEST_C"))
}

func TestLoadNeverOverridesEnvironment(t *testing.T) {
	path := writeEnvFile(t, "DOTENV_TEST_KEEP=from-file\n")
	t.Setenv("DOTENV_TEST_KEEP", "from-env")

	require.NoError(t, Load(path))
	assert.Equal(t, "from-env", os.Getenv("DOTENV_TEST_KEEP"))
}

func TestLoadSkipsMissingFiles(t *testing.T) {
	require.NoError(t, Load(filepath.Join(t.TempDir(), "nope.env")))
}

func TestLoadIgnoresMalformedLines(t *testing.T) {
	path := writeEnvFile(t, "=nokey\njustaword\nDOTENV_TEST_D=ok\n")
	t.Cleanup(func() { os.Unsetenv("DOTENV_TEST_D") })

	require.NoError(t, Load(path))
	assert.Equal(t, "ok", os.Getenv("DOTENV_TEST_D"))
	_, exists := os.LookupEnv("justaword")
	assert.False(t, exists)
}
