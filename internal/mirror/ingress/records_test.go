package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/s3mirror/internal/mirror/models"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/transform"
)

type captureSink struct {
	writes  []models.RemoteObject
	removes []string
	err     error
}

func (c *captureSink) WriteObject(obj models.RemoteObject) error {
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, obj)
	return nil
}

func (c *captureSink) RemoveFile(rel string) error {
	if c.err != nil {
		return c.err
	}
	c.removes = append(c.removes, rel)
	return nil
}

func recordJSON(eventName, bucket, key string, size int64) map[string]any {
	return map[string]any{
		"eventVersion": "2.1",
		"eventName":    eventName,
		"eventTime":    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
		"s3": map[string]any{
			"bucket": map[string]any{"name": bucket},
			"object": map[string]any{"key": key, "size": size, "eTag": "etag"},
		},
	}
}

func message(t *testing.T, records ...map[string]any) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"Records": records})
	require.NoError(t, err)
	return string(b)
}

func TestDispatchMessage_CreateRestoreRemove(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, "assets", "", "", nil, nil)

	msg := message(t,
		recordJSON("ObjectCreated:Put", "assets", "1.txt", 5),
		recordJSON("ObjectRestore:Completed", "assets", "a.txt", 7),
		recordJSON("ObjectRemoved:Delete", "assets", "z.txt", 0),
	)

	require.NoError(t, d.DispatchMessage(context.Background(), msg))

	require.Len(t, sink.writes, 2)
	assert.Equal(t, "1.txt", sink.writes[0].TransformedKey)
	assert.Equal(t, int64(5), sink.writes[0].Size)
	assert.False(t, sink.writes[0].LastModified.IsZero())
	assert.Equal(t, "a.txt", sink.writes[1].TransformedKey)
	assert.Equal(t, []string{"z.txt"}, sink.removes)
}

func TestDispatchMessage_WrongBucketSkipped(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, "assets", "", "", nil, nil)

	msg := message(t, recordJSON("ObjectCreated:Put", "other", "1.txt", 5))
	require.NoError(t, d.DispatchMessage(context.Background(), msg))
	assert.Empty(t, sink.writes)
}

func TestDispatchMessage_UnsupportedVersionSkipped(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, "assets", "", "", nil, nil)

	for _, version := range []string{"1.0", "2.0", "3.1", "2", "junk"} {
		rec := recordJSON("ObjectCreated:Put", "assets", "1.txt", 5)
		rec["eventVersion"] = version
		require.NoError(t, d.DispatchMessage(context.Background(), message(t, rec)))
	}
	assert.Empty(t, sink.writes)
}

func TestDispatchMessage_SupportedVersionVariants(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, "assets", "", "", nil, nil)

	for _, version := range []string{"2.1", "2.2", "2.10", "2.1.0"} {
		rec := recordJSON("ObjectCreated:Put", "assets", "1.txt", 5)
		rec["eventVersion"] = version
		require.NoError(t, d.DispatchMessage(context.Background(), message(t, rec)))
	}
	assert.Len(t, sink.writes, 4)
}

func TestDispatchMessage_PrefixSuffixFilters(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, "assets", "data/", ".txt", nil, nil)

	msg := message(t,
		recordJSON("ObjectCreated:Put", "assets", "data/in.txt", 1),
		recordJSON("ObjectCreated:Put", "assets", "other/out.txt", 1),
		recordJSON("ObjectCreated:Put", "assets", "data/image.jpg", 1),
	)
	require.NoError(t, d.DispatchMessage(context.Background(), msg))

	require.Len(t, sink.writes, 1)
	assert.Equal(t, "data/in.txt", sink.writes[0].Key)
}

func TestDispatchMessage_URLEncodedKey(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, "assets", "", "", nil, nil)

	msg := message(t, recordJSON("ObjectCreated:Put", "assets", "dir/my+file%C3%B1.txt", 1))
	require.NoError(t, d.DispatchMessage(context.Background(), msg))

	require.Len(t, sink.writes, 1)
	assert.Equal(t, "dir/my fileñ.txt", sink.writes[0].Key)
}

func TestDispatchMessage_AppliesPipeline(t *testing.T) {
	sink := &captureSink{}
	pipeline := transform.NewPipeline(transform.StripRootPrefix())
	d := NewDispatcher(sink, "assets", "", "", pipeline, nil)

	msg := message(t, recordJSON("ObjectCreated:Put", "assets", "%2Fabs.txt", 1))
	require.NoError(t, d.DispatchMessage(context.Background(), msg))

	require.Len(t, sink.writes, 1)
	assert.Equal(t, "abs.txt", sink.writes[0].TransformedKey)
}

func TestDispatchMessage_UnknownEventLoggedAndSkipped(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, "assets", "", "", nil, nil)

	msg := message(t, recordJSON("ReducedRedundancyLostObject", "assets", "1.txt", 5))
	require.NoError(t, d.DispatchMessage(context.Background(), msg))
	assert.Empty(t, sink.writes)
	assert.Empty(t, sink.removes)
}

func TestDispatchMessage_MalformedMessage(t *testing.T) {
	d := NewDispatcher(&captureSink{}, "assets", "", "", nil, nil)
	assert.Error(t, d.DispatchMessage(context.Background(), "{not json"))
}

func TestDispatchMessage_SinkFailureDoesNotAbortOthers(t *testing.T) {
	sink := &captureSink{err: errors.New("queue stopped")}
	d := NewDispatcher(sink, "assets", "", "", nil, nil)

	msg := message(t,
		recordJSON("ObjectCreated:Put", "assets", "1.txt", 5),
		recordJSON("ObjectRemoved:Delete", "assets", "2.txt", 0),
	)
	// submission failures are logged per record, the message succeeds
	assert.NoError(t, d.DispatchMessage(context.Background(), msg))
}
