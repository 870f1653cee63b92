package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/s3mirror/internal/mirror/transform"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, c.TmpSuffix, ".tmp")
	assert.Equal(t, c.MaxConcurrency, 300)
	assert.Equal(t, c.MaxKeys, int32(1000))
	assert.Equal(t, c.TaskTimeout, 60*time.Second)
	assert.Equal(t, c.Host, "0.0.0.0")
	assert.Equal(t, c.ShutdownTimeout, 30*time.Second)
	assert.Equal(t, c.Log, "WARN")
	assert.False(t, c.Remove)
	assert.False(t, c.SkipInitialSync)
	assert.Equal(t, c.ResyncInterval, time.Duration(0))
	assert.Equal(t, c.Port, 0)
}

func validConfig() *Config {
	c := &Config{}
	c.LoadDefaults()
	c.Bucket = "assets"
	c.RootDir = "/srv/mirror"
	return c
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_RequiredOptions(t *testing.T) {
	c := validConfig()
	c.Bucket = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.RootDir = ""
	assert.Error(t, c.Validate())
}

func TestValidate_TopicEndpointInterdependence(t *testing.T) {
	c := validConfig()
	c.TopicARN = "arn:aws:sns:us-east-1:1:topic"
	assert.Error(t, c.Validate(), "topic arn without endpoint")

	c = validConfig()
	c.Endpoint = "http://mirror.example.com/"
	assert.Error(t, c.Validate(), "endpoint without topic arn")

	c = validConfig()
	c.TopicARN = "arn:aws:sns:us-east-1:1:topic"
	c.Endpoint = "http://mirror.example.com/"
	assert.Error(t, c.Validate(), "subscription without ingress port")

	c.Port = 8080
	assert.NoError(t, c.Validate())
}

func TestValidate_TLSInterdependence(t *testing.T) {
	c := validConfig()
	c.HTTPSCertPath = "/etc/cert.pem"
	assert.Error(t, c.Validate())

	c.HTTPSCertKeyPath = "/etc/key.pem"
	assert.NoError(t, c.Validate())
}

func TestValidate_HTTPPath(t *testing.T) {
	c := validConfig()
	c.HTTPPath = "events"
	assert.Error(t, c.Validate())

	c.HTTPPath = "/events"
	assert.NoError(t, c.Validate())
}

func TestValidate_NormalizationForm(t *testing.T) {
	c := validConfig()
	c.NormalizationForm = "NFX"
	assert.Error(t, c.Validate())

	for _, form := range []string{"NFC", "NFD", "NFKC", "NFKD", ""} {
		c.NormalizationForm = form
		assert.NoError(t, c.Validate(), form)
	}
}

func TestValidate_LogLevel(t *testing.T) {
	c := validConfig()
	c.Log = "VERBOSE"
	assert.Error(t, c.Validate())

	for _, lvl := range []string{"NONE", "ERROR", "WARN", "INFO", "DEBUG", "debug"} {
		c.Log = lvl
		assert.NoError(t, c.Validate(), lvl)
	}
}

func TestValidate_Bounds(t *testing.T) {
	c := validConfig()
	c.MaxConcurrency = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.MaxKeys = -1
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Port = 70000
	assert.Error(t, c.Validate())
}

func TestPipeline_FullStack(t *testing.T) {
	c := validConfig()
	c.NormalizationForm = "NFC"
	p := c.Pipeline(transform.PlatformProfile{Separator: '/', Windows: false})

	require.Equal(t, 3, p.Len())
	assert.Equal(t, "dir/ñ.txt", p.Apply("\\dir\\ñ.txt"))
}

func TestPipeline_Opts(t *testing.T) {
	c := validConfig()
	c.IgnoreKeyRootCharReplacement = true
	c.IgnoreKeyPlatformDirCharReplacement = true

	p := c.Pipeline(transform.HostProfile())
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, "/keep\\as-is", p.Apply("/keep\\as-is"))
}
