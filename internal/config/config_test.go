package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/streamvault/internal/models"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/streamvault")
	t.Setenv("SYNC_INTERVAL", "30m")
	t.Setenv("SYNC_CONCURRENCY", "3")
	t.Setenv("PUBLIC_URL", "http://tv.local:8080/")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, c.DatabaseDriver)
	assert.Equal(t, 30*time.Minute, c.SyncInterval)
	assert.Equal(t, 3, c.SyncConcurrency)
	assert.Equal(t, 500, c.BatchSize)
	assert.Equal(t, time.Hour, c.EPGMaxAge)
	assert.Equal(t, "http://tv.local:8080", c.PublicURL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_driver: sqlite
database_url: /tmp/streamvault.db
sync_interval: "0"
epg_max_age: 15m
sources:
  - name: panel
    type: xtream
    url: http://panel.example:8080
    username: alice
    password: secret
  - name: guide
    type: EPG
    url: http://guide.example/xmltv.xml.gz
    enabled: false
`), 0o644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, c.DatabaseDriver)
	assert.Equal(t, time.Duration(0), c.SyncInterval)
	assert.Equal(t, 15*time.Minute, c.EPGMaxAge)
	require.Len(t, c.Sources, 2)

	panel := c.Sources[0].Source()
	assert.Equal(t, models.SourceTypeXtream, panel.Type)
	assert.Equal(t, "alice", panel.Username)
	assert.True(t, panel.Enabled)

	guide := c.Sources[1].Source()
	assert.Equal(t, models.SourceTypeEPG, guide.Type)
	assert.False(t, guide.Enabled)
}

func TestValidate(t *testing.T) {
	c := Default()
	assert.ErrorIs(t, c.Validate(), ErrMissingDatabaseURL)

	c.DatabaseURL = "x"
	c.DatabaseDriver = "mysql"
	assert.Error(t, c.Validate())

	c.DatabaseDriver = "sqlite"
	c.Sources = []SourceConfig{{Name: "bad", Type: "rss", URL: "http://x"}}
	assert.Error(t, c.Validate())
}

func TestParseEnvFile(t *testing.T) {
	got := parseEnvFile([]byte("# comment\nexport A=1\nB = \"two\"\n=skip\nC\n"))
	assert.Equal(t, map[string]string{"A": "1", "B": "two"}, got)
}
