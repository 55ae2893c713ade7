package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv_SetsMissingVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "OZB_FOO=bar\nOZB_QUOTED=\"hello world\"\nexport OZB_EXPORTED=yes\n# comment\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("OZB_FOO", "")
	os.Unsetenv("OZB_FOO")
	os.Unsetenv("OZB_QUOTED")
	os.Unsetenv("OZB_EXPORTED")
	t.Cleanup(func() {
		os.Unsetenv("OZB_QUOTED")
		os.Unsetenv("OZB_EXPORTED")
	})

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "bar", os.Getenv("OZB_FOO"))
	assert.Equal(t, "hello world", os.Getenv("OZB_QUOTED"))
	assert.Equal(t, "yes", os.Getenv("OZB_EXPORTED"))
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("OZB_FOO=from_file\n"), 0o644))

	t.Setenv("OZB_FOO", "from_env")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from_env", os.Getenv("OZB_FOO"))
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_MODE", "memory")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.OzonTimeout)
	assert.Equal(t, "https://api-seller.ozon.ru", cfg.OzonBaseURL)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 15.0, cfg.MarketplaceFeePercent)
}

func TestLoad_PostgresNeedsStableKey(t *testing.T) {
	t.Setenv("STORE_MODE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/ozonbot")
	t.Setenv("ENCRYPTION_KEY", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
}

func TestSplitList(t *testing.T) {
	cfg := Config{FrontendOrigins: " http://a.test , ,http://b.test", KafkaBrokers: ""}
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Origins())
	assert.Empty(t, cfg.Brokers())
}
