package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/s3mirror/internal/flagx"
	"github.com/dmitrijs2005/s3mirror/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "30s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files; after unmarshalling, its fields are copied into the
// runtime Config.
type JsonConfig struct {
	Bucket  string `json:"bucket"`
	RootDir string `json:"root_dir"`

	Region         string `json:"region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3UsePathStyle bool   `json:"s3_use_path_style"`

	TmpSuffix string `json:"tmp_suffix"`
	TmpDir    string `json:"tmp_dir"`

	Remove         bool   `json:"remove"`
	PruneEmptyDirs bool   `json:"prune_empty_dirs"`
	Prefix         string `json:"prefix"`
	Suffix         string `json:"suffix"`

	NormalizationForm                   string `json:"normalization_form"`
	IgnoreKeyPlatformDirCharReplacement bool   `json:"ignore_key_platform_dir_char_replacement"`
	IgnoreKeyRootCharReplacement        bool   `json:"ignore_key_root_char_replacement"`

	MaxConcurrency int            `json:"max_concurrency"`
	MaxKeys        int32          `json:"max_keys"`
	TaskTimeout    timex.Duration `json:"task_timeout"`

	SkipInitialSync bool           `json:"skip_initial_sync"`
	ResyncInterval  timex.Duration `json:"resync_interval"`

	Host             string `json:"host"`
	Port             int    `json:"port"`
	HTTPSCertPath    string `json:"https_cert_path"`
	HTTPSCertKeyPath string `json:"https_cert_key_path"`
	HTTPPath         string `json:"http_path"`

	TopicARN        string `json:"topic_arn"`
	Endpoint        string `json:"endpoint"`
	SNSBaseEndpoint string `json:"sns_base_endpoint"`

	IgnoreUnsubscribeOnShutdown bool `json:"ignore_unsubscribe_on_shutdown"`
	IgnoreMessageValidation     bool `json:"ignore_message_validation"`

	ShutdownTimeout timex.Duration `json:"shutdown_timeout"`

	Log string `json:"log"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; when
// neither is set, no JSON file is loaded. The DTO is seeded with the
// current Config values so absent fields keep their defaults.
//
// If the file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := fromConfig(config)

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.applyTo(config)
}

func fromConfig(config *Config) *JsonConfig {
	return &JsonConfig{
		Bucket:                              config.Bucket,
		RootDir:                             config.RootDir,
		Region:                              config.Region,
		S3BaseEndpoint:                      config.S3BaseEndpoint,
		S3AccessKey:                         config.S3AccessKey,
		S3SecretKey:                         config.S3SecretKey,
		S3UsePathStyle:                      config.S3UsePathStyle,
		TmpSuffix:                           config.TmpSuffix,
		TmpDir:                              config.TmpDir,
		Remove:                              config.Remove,
		PruneEmptyDirs:                      config.PruneEmptyDirs,
		Prefix:                              config.Prefix,
		Suffix:                              config.Suffix,
		NormalizationForm:                   config.NormalizationForm,
		IgnoreKeyPlatformDirCharReplacement: config.IgnoreKeyPlatformDirCharReplacement,
		IgnoreKeyRootCharReplacement:        config.IgnoreKeyRootCharReplacement,
		MaxConcurrency:                      config.MaxConcurrency,
		MaxKeys:                             config.MaxKeys,
		TaskTimeout:                         timex.Duration{Duration: config.TaskTimeout},
		SkipInitialSync:                     config.SkipInitialSync,
		ResyncInterval:                      timex.Duration{Duration: config.ResyncInterval},
		Host:                                config.Host,
		Port:                                config.Port,
		HTTPSCertPath:                       config.HTTPSCertPath,
		HTTPSCertKeyPath:                    config.HTTPSCertKeyPath,
		HTTPPath:                            config.HTTPPath,
		TopicARN:                            config.TopicARN,
		Endpoint:                            config.Endpoint,
		SNSBaseEndpoint:                     config.SNSBaseEndpoint,
		IgnoreUnsubscribeOnShutdown:         config.IgnoreUnsubscribeOnShutdown,
		IgnoreMessageValidation:             config.IgnoreMessageValidation,
		ShutdownTimeout:                     timex.Duration{Duration: config.ShutdownTimeout},
		Log:                                 config.Log,
	}
}

func (c *JsonConfig) applyTo(config *Config) {
	config.Bucket = c.Bucket
	config.RootDir = c.RootDir
	config.Region = c.Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.S3AccessKey = c.S3AccessKey
	config.S3SecretKey = c.S3SecretKey
	config.S3UsePathStyle = c.S3UsePathStyle
	config.TmpSuffix = c.TmpSuffix
	config.TmpDir = c.TmpDir
	config.Remove = c.Remove
	config.PruneEmptyDirs = c.PruneEmptyDirs
	config.Prefix = c.Prefix
	config.Suffix = c.Suffix
	config.NormalizationForm = c.NormalizationForm
	config.IgnoreKeyPlatformDirCharReplacement = c.IgnoreKeyPlatformDirCharReplacement
	config.IgnoreKeyRootCharReplacement = c.IgnoreKeyRootCharReplacement
	config.MaxConcurrency = c.MaxConcurrency
	config.MaxKeys = c.MaxKeys
	config.TaskTimeout = time.Duration(c.TaskTimeout.Duration)
	config.SkipInitialSync = c.SkipInitialSync
	config.ResyncInterval = time.Duration(c.ResyncInterval.Duration)
	config.Host = c.Host
	config.Port = c.Port
	config.HTTPSCertPath = c.HTTPSCertPath
	config.HTTPSCertKeyPath = c.HTTPSCertKeyPath
	config.HTTPPath = c.HTTPPath
	config.TopicARN = c.TopicARN
	config.Endpoint = c.Endpoint
	config.SNSBaseEndpoint = c.SNSBaseEndpoint
	config.IgnoreUnsubscribeOnShutdown = c.IgnoreUnsubscribeOnShutdown
	config.IgnoreMessageValidation = c.IgnoreMessageValidation
	config.ShutdownTimeout = time.Duration(c.ShutdownTimeout.Duration)
	config.Log = c.Log
}
