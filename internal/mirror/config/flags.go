package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/s3mirror/internal/flagx"
)

var mirrorFlags = []string{
	"-bucket", "-root-dir",
	"-region", "-s3-base-endpoint", "-s3-access-key", "-s3-secret-key", "-s3-use-path-style",
	"-tmp-suffix", "-tmp-dir",
	"-remove", "-prune-empty-dirs", "-prefix", "-suffix",
	"-normalization-form",
	"-ignore-key-platform-dir-char-replacement", "-ignore-key-root-char-replacement",
	"-max-concurrency", "-max-keys", "-task-timeout-ms",
	"-skip-initial-sync", "-resync-interval-ms",
	"-host", "-port", "-https-cert-path", "-https-cert-key-path", "-http-path",
	"-topic-arn", "-endpoint", "-sns-base-endpoint",
	"-ignore-unsubscribe-on-shutdown", "-ignore-message-validation",
	"-shutdown-timeout-ms",
	"-log",
}

var mirrorBoolFlags = []string{
	"-s3-use-path-style",
	"-remove", "-prune-empty-dirs",
	"-ignore-key-platform-dir-char-replacement", "-ignore-key-root-char-replacement",
	"-skip-initial-sync",
	"-ignore-unsubscribe-on-shutdown", "-ignore-message-validation",
}

// parseFlags populates Config fields from command-line flags. The args are
// filtered first so flags owned by other components (test binaries in
// particular) do not break parsing. Interval flags are accepted as integer
// milliseconds.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], mirrorFlags, mirrorBoolFlags)

	fs := flag.NewFlagSet("mirror", flag.ContinueOnError)

	fs.StringVar(&config.Bucket, "bucket", config.Bucket, "remote bucket name")
	fs.StringVar(&config.RootDir, "root-dir", config.RootDir, "local mirror root directory")

	fs.StringVar(&config.Region, "region", config.Region, "remote store region")
	fs.StringVar(&config.S3BaseEndpoint, "s3-base-endpoint", config.S3BaseEndpoint, "S3 base endpoint (e.g. http://127.0.0.1:9000/)")
	fs.StringVar(&config.S3AccessKey, "s3-access-key", config.S3AccessKey, "S3 static access key")
	fs.StringVar(&config.S3SecretKey, "s3-secret-key", config.S3SecretKey, "S3 static secret key")
	fs.BoolVar(&config.S3UsePathStyle, "s3-use-path-style", config.S3UsePathStyle, "use path-style bucket addressing")

	fs.StringVar(&config.TmpSuffix, "tmp-suffix", config.TmpSuffix, "staging file suffix")
	fs.StringVar(&config.TmpDir, "tmp-dir", config.TmpDir, "staging directory (defaults to root dir)")

	fs.BoolVar(&config.Remove, "remove", config.Remove, "permit deletions during reconciliation")
	fs.BoolVar(&config.PruneEmptyDirs, "prune-empty-dirs", config.PruneEmptyDirs, "remove a parent directory emptied by an unlink")
	fs.StringVar(&config.Prefix, "prefix", config.Prefix, "key prefix filter, applied at list time")
	fs.StringVar(&config.Suffix, "suffix", config.Suffix, "key suffix filter, applied client-side")

	fs.StringVar(&config.NormalizationForm, "normalization-form", config.NormalizationForm, "unicode normalization form (NFC/NFD/NFKC/NFKD)")
	fs.BoolVar(&config.IgnoreKeyPlatformDirCharReplacement, "ignore-key-platform-dir-char-replacement", config.IgnoreKeyPlatformDirCharReplacement, "disable separator normalization")
	fs.BoolVar(&config.IgnoreKeyRootCharReplacement, "ignore-key-root-char-replacement", config.IgnoreKeyRootCharReplacement, "disable root prefix stripping")

	fs.IntVar(&config.MaxConcurrency, "max-concurrency", config.MaxConcurrency, "queue concurrency cap")
	maxKeys := fs.Int("max-keys", int(config.MaxKeys), "remote list page size")
	taskTimeoutMs := fs.Int("task-timeout-ms", int(config.TaskTimeout.Milliseconds()), "per-task timeout, milliseconds")

	fs.BoolVar(&config.SkipInitialSync, "skip-initial-sync", config.SkipInitialSync, "skip the start-up sync")
	resyncIntervalMs := fs.Int("resync-interval-ms", int(config.ResyncInterval.Milliseconds()), "periodic resync interval, milliseconds (0 disables)")

	fs.StringVar(&config.Host, "host", config.Host, "ingress bind host")
	fs.IntVar(&config.Port, "port", config.Port, "ingress bind port (0 disables the ingress)")
	fs.StringVar(&config.HTTPSCertPath, "https-cert-path", config.HTTPSCertPath, "TLS certificate path")
	fs.StringVar(&config.HTTPSCertKeyPath, "https-cert-key-path", config.HTTPSCertKeyPath, "TLS certificate key path")
	fs.StringVar(&config.HTTPPath, "http-path", config.HTTPPath, "restrict the ingress to one request path")

	fs.StringVar(&config.TopicARN, "topic-arn", config.TopicARN, "notification topic to subscribe to")
	fs.StringVar(&config.Endpoint, "endpoint", config.Endpoint, "public URL of the ingress, used for subscription")
	fs.StringVar(&config.SNSBaseEndpoint, "sns-base-endpoint", config.SNSBaseEndpoint, "SNS base endpoint override")

	fs.BoolVar(&config.IgnoreUnsubscribeOnShutdown, "ignore-unsubscribe-on-shutdown", config.IgnoreUnsubscribeOnShutdown, "keep the subscription on shutdown")
	fs.BoolVar(&config.IgnoreMessageValidation, "ignore-message-validation", config.IgnoreMessageValidation, "skip push message signature validation")

	shutdownTimeoutMs := fs.Int("shutdown-timeout-ms", int(config.ShutdownTimeout.Milliseconds()), "drain budget before shutdown escalates, milliseconds")

	fs.StringVar(&config.Log, "log", config.Log, "log level: NONE, ERROR, WARN, INFO, DEBUG")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.MaxKeys = int32(*maxKeys)
	config.TaskTimeout = time.Duration(*taskTimeoutMs) * time.Millisecond
	config.ResyncInterval = time.Duration(*resyncIntervalMs) * time.Millisecond
	config.ShutdownTimeout = time.Duration(*shutdownTimeoutMs) * time.Millisecond
}
