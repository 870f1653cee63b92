// Package config handles configuration for the mirror daemon, including
// defaults, JSON overlay, command-line flags and start-up validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/s3mirror/internal/mirror/transform"
)

// Config holds the full runtime settings of the mirror.
//
// Fields:
//   - Bucket / RootDir: the remote bucket and the local mirror root (both required).
//   - Region / S3BaseEndpoint / S3AccessKey / S3SecretKey / S3UsePathStyle:
//     transport settings; the base endpoint and static credentials make
//     S3-compatible backends (MinIO) work.
//   - TmpSuffix / TmpDir: staging settings of the atomic writer.
//   - Remove: permit deletions during reconciliation.
//   - Prefix / Suffix: key filters (prefix at list time, suffix client-side).
//   - NormalizationForm: optional Unicode normalization (NFC/NFD/NFKC/NFKD).
//   - IgnoreKeyPlatformDirCharReplacement / IgnoreKeyRootCharReplacement:
//     disable the separator and root-prefix transformers.
//   - MaxConcurrency / MaxKeys / TaskTimeout: queue and listing tuning.
//   - SkipInitialSync / ResyncInterval: start-up sync and the periodic timer.
//   - Host / Port / HTTPSCertPath / HTTPSCertKeyPath / HTTPPath: ingress
//     bind settings; Port 0 disables the ingress.
//   - TopicARN / Endpoint / SNSBaseEndpoint: subscribe at start-up.
//   - IgnoreUnsubscribeOnShutdown / IgnoreMessageValidation: opt-outs.
//   - ShutdownTimeout: drain budget before shutdown escalates.
//   - Log: NONE, ERROR, WARN, INFO or DEBUG.
type Config struct {
	Bucket  string
	RootDir string

	Region         string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	TmpSuffix string
	TmpDir    string

	Remove         bool
	PruneEmptyDirs bool
	Prefix         string
	Suffix         string

	NormalizationForm                   string
	IgnoreKeyPlatformDirCharReplacement bool
	IgnoreKeyRootCharReplacement        bool

	MaxConcurrency int
	MaxKeys        int32
	TaskTimeout    time.Duration

	SkipInitialSync bool
	ResyncInterval  time.Duration

	Host             string
	Port             int
	HTTPSCertPath    string
	HTTPSCertKeyPath string
	HTTPPath         string

	TopicARN        string
	Endpoint        string
	SNSBaseEndpoint string

	IgnoreUnsubscribeOnShutdown bool
	IgnoreMessageValidation     bool

	ShutdownTimeout time.Duration

	Log string
}

// LoadDefaults populates Config with the documented defaults.
func (c *Config) LoadDefaults() {
	c.TmpSuffix = ".tmp"
	c.MaxConcurrency = 300
	c.MaxKeys = 1000
	c.TaskTimeout = 60 * time.Second
	c.Host = "0.0.0.0"
	c.ShutdownTimeout = 30 * time.Second
	c.Log = "WARN"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate enforces the option interdependence rules. Violations are fatal
// at start-up.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.RootDir == "" {
		return errors.New("root dir is required")
	}

	if (c.TopicARN == "") != (c.Endpoint == "") {
		return errors.New("topic arn and endpoint must be set together")
	}
	if c.TopicARN != "" && c.Port == 0 {
		return errors.New("subscribing requires the ingress port")
	}

	if (c.HTTPSCertPath == "") != (c.HTTPSCertKeyPath == "") {
		return errors.New("https cert and key must be set together")
	}
	if c.HTTPPath != "" && !strings.HasPrefix(c.HTTPPath, "/") {
		return fmt.Errorf("http path %q must start with /", c.HTTPPath)
	}

	if c.NormalizationForm != "" {
		if _, ok := transform.ParseForm(c.NormalizationForm); !ok {
			return fmt.Errorf("unknown normalization form %q", c.NormalizationForm)
		}
	}

	if c.MaxConcurrency <= 0 {
		return errors.New("max concurrency must be positive")
	}
	if c.MaxKeys <= 0 {
		return errors.New("max keys must be positive")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	switch strings.ToUpper(c.Log) {
	case "NONE", "ERROR", "WARN", "INFO", "DEBUG":
	default:
		return fmt.Errorf("unknown log level %q", c.Log)
	}

	return nil
}

// Pipeline builds the key transformer sequence the configuration selects:
// root-prefix stripping, separator normalization, then Unicode
// normalization.
func (c *Config) Pipeline(profile transform.PlatformProfile) *transform.Pipeline {
	var transformers []transform.Transformer

	if !c.IgnoreKeyRootCharReplacement {
		transformers = append(transformers, transform.StripRootPrefix())
	}
	if !c.IgnoreKeyPlatformDirCharReplacement {
		transformers = append(transformers, transform.NormalizeSeparators(profile))
	}
	if form, ok := transform.ParseForm(c.NormalizationForm); ok {
		transformers = append(transformers, transform.UnicodeNormalize(form))
	}

	return transform.NewPipeline(transformers...)
}
