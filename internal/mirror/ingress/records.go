package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/s3mirror/internal/logging"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/models"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/transform"
)

// ActionSink receives the actions decoded from notification records.
type ActionSink interface {
	WriteObject(obj models.RemoteObject) error
	RemoveFile(relPath string) error
}

// supported event version: major must equal 2, minor at least 1
const (
	supportedEventMajor = 2
	minEventMinor       = 1
)

// notificationMessage is the inner payload of a Notification envelope.
type notificationMessage struct {
	Records []record `json:"Records"`
}

type record struct {
	EventVersion string    `json:"eventVersion"`
	EventName    string    `json:"eventName"`
	EventTime    time.Time `json:"eventTime"`
	S3           struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
			ETag string `json:"eTag"`
		} `json:"object"`
	} `json:"s3"`
}

// Dispatcher turns notification records into queue submissions, applying
// the same filters and key transformation as the full sync path.
type Dispatcher struct {
	sink     ActionSink
	bucket   string
	prefix   string
	suffix   string
	pipeline *transform.Pipeline
	log      logging.Logger
}

func NewDispatcher(sink ActionSink, bucket, prefix, suffix string, pipeline *transform.Pipeline, logger logging.Logger) *Dispatcher {
	if pipeline == nil {
		pipeline = transform.NewPipeline()
	}
	if logger == nil {
		logger = logging.NewForLevel("NONE")
	}
	return &Dispatcher{
		sink:     sink,
		bucket:   bucket,
		prefix:   prefix,
		suffix:   suffix,
		pipeline: pipeline,
		log:      logger.With("module", "ingress"),
	}
}

// DispatchMessage decodes the inner Message of a Notification envelope and
// dispatches every record. Malformed or unsupported records are skipped;
// only an undecodable message is an error.
func (d *Dispatcher) DispatchMessage(ctx context.Context, message string) error {
	var msg notificationMessage
	if err := json.Unmarshal([]byte(message), &msg); err != nil {
		return fmt.Errorf("decode notification message: %w", err)
	}

	for i := range msg.Records {
		d.dispatchRecord(ctx, &msg.Records[i])
	}
	return nil
}

func (d *Dispatcher) dispatchRecord(ctx context.Context, rec *record) {
	if err := checkEventVersion(rec.EventVersion); err != nil {
		d.log.Warn(ctx, "skipping record", "error", err, "event_name", rec.EventName)
		return
	}

	if rec.S3.Bucket.Name != d.bucket {
		d.log.Warn(ctx, "skipping record for foreign bucket", "bucket", rec.S3.Bucket.Name)
		return
	}

	// Object keys arrive URL-encoded with '+' for space.
	key, err := url.QueryUnescape(rec.S3.Object.Key)
	if err != nil {
		d.log.Warn(ctx, "skipping record with undecodable key", "key", rec.S3.Object.Key, "error", err)
		return
	}

	if d.prefix != "" && !strings.HasPrefix(key, d.prefix) {
		return
	}
	if d.suffix != "" && !strings.HasSuffix(key, d.suffix) {
		return
	}

	transformed := d.pipeline.Apply(key)
	if transform.Dropped(transformed) {
		d.log.Warn(ctx, "skipping record with empty transform result", "key", key)
		return
	}

	switch {
	case strings.HasPrefix(rec.EventName, "ObjectCreated:"),
		strings.HasPrefix(rec.EventName, "ObjectRestore:"):
		obj := models.RemoteObject{
			Key:            key,
			TransformedKey: transformed,
			LastModified:   rec.EventTime,
			Size:           rec.S3.Object.Size,
		}
		if err := d.sink.WriteObject(obj); err != nil {
			d.log.Error(ctx, "could not submit write", "key", key, "error", err)
		}

	case strings.HasPrefix(rec.EventName, "ObjectRemoved:"):
		if err := d.sink.RemoveFile(transformed); err != nil {
			d.log.Error(ctx, "could not submit remove", "key", key, "error", err)
		}

	default:
		d.log.Warn(ctx, "skipping record with unsupported event", "event_name", rec.EventName)
	}
}

// checkEventVersion enforces major == 2 and minor >= 1. A bare major
// ("2") counts as minor 0 and is rejected.
func checkEventVersion(version string) error {
	major, minor, found := strings.Cut(version, ".")
	if !found {
		minor = "0"
	}

	mj, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Errorf("unsupported event version %q", version)
	}
	// minor may carry further dots ("2.1.0")
	mn, err := strconv.Atoi(strings.SplitN(minor, ".", 2)[0])
	if err != nil {
		return fmt.Errorf("unsupported event version %q", version)
	}

	if mj != supportedEventMajor || mn < minEventMinor {
		return fmt.Errorf("unsupported event version %q", version)
	}
	return nil
}
