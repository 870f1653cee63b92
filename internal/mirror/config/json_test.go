package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o660))
	return path
}

func TestParseJson_OverlaysValues(t *testing.T) {
	path := writeConfigFile(t, `{
		"bucket": "assets",
		"root_dir": "/srv/mirror",
		"remove": true,
		"resync_interval": "5m",
		"task_timeout": "90s",
		"port": 9444,
		"log": "DEBUG"
	}`)
	withArgs(t, "-c", path)

	c := &Config{}
	c.LoadDefaults()
	parseJson(c)

	assert.Equal(t, "assets", c.Bucket)
	assert.Equal(t, "/srv/mirror", c.RootDir)
	assert.True(t, c.Remove)
	assert.Equal(t, 5*time.Minute, c.ResyncInterval)
	assert.Equal(t, 90*time.Second, c.TaskTimeout)
	assert.Equal(t, 9444, c.Port)
	assert.Equal(t, "DEBUG", c.Log)
}

func TestParseJson_AbsentFieldsKeepDefaults(t *testing.T) {
	path := writeConfigFile(t, `{"bucket": "assets"}`)
	withArgs(t, "-config", path)

	c := &Config{}
	c.LoadDefaults()
	parseJson(c)

	assert.Equal(t, "assets", c.Bucket)
	assert.Equal(t, ".tmp", c.TmpSuffix)
	assert.Equal(t, 300, c.MaxConcurrency)
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 60*time.Second, c.TaskTimeout)
}

func TestParseJson_NoFileConfigured(t *testing.T) {
	withArgs(t)

	c := &Config{}
	c.LoadDefaults()
	parseJson(c)

	assert.Equal(t, "", c.Bucket)
	assert.Equal(t, 300, c.MaxConcurrency)
}

func TestParseJson_InvalidFilePanics(t *testing.T) {
	path := writeConfigFile(t, `{broken`)
	withArgs(t, "-c", path)

	c := &Config{}
	c.LoadDefaults()
	assert.Panics(t, func() { parseJson(c) })
}

func TestLoadConfig_FlagsOverrideJson(t *testing.T) {
	path := writeConfigFile(t, `{"bucket": "from-json", "root_dir": "/srv/a"}`)
	withArgs(t, "-c", path, "-bucket", "from-flag")

	c := LoadConfig()

	assert.Equal(t, "from-flag", c.Bucket)
	assert.Equal(t, "/srv/a", c.RootDir)
}
