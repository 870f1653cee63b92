package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/s3mirror/internal/bytex"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/models"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/transform"
)

const DefaultMaxKeys = 1000

// ListOptions configures one full-bucket enumeration.
type ListOptions struct {
	Prefix   string // list-time filter, passed to the provider
	Suffix   string // client-side filter on the original key
	MaxKeys  int32  // page size; 0 selects DefaultMaxKeys
	Pipeline *transform.Pipeline
}

// ListAll enumerates the whole bucket and returns the transformed object
// set, sorted under the UTF-8 byte comparator on the transformed key.
//
// The next page request is issued while the previous page is being
// filtered and transformed, so network and CPU work overlap. Everything is
// materialized before returning: the transformer pipeline may reorder keys
// relative to the provider's listing order, so streaming pages straight
// into the reconciler would break its sorted-input contract.
//
// When several keys collapse onto one transformed key, the last one seen in
// accumulation order wins and the collision is logged.
func (c *Client) ListAll(ctx context.Context, opts ListOptions) ([]models.RemoteObject, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline = transform.NewPipeline()
	}

	g, ctx := errgroup.WithContext(ctx)

	// One page of lookahead: the producer fetches page N+1 while the
	// consumer works through page N.
	pages := make(chan *s3.ListObjectsV2Output, 1)

	g.Go(func() error {
		defer close(pages)

		var token *string
		for {
			in := &s3.ListObjectsV2Input{
				Bucket:            aws.String(c.bucket),
				MaxKeys:           aws.Int32(maxKeys),
				ContinuationToken: token,
			}
			if opts.Prefix != "" {
				in.Prefix = aws.String(opts.Prefix)
			}

			out, err := c.api.ListObjectsV2(ctx, in)
			if err != nil {
				return fmt.Errorf("list objects: %w", classifyAPIError(err))
			}

			select {
			case pages <- out:
			case <-ctx.Done():
				return ctx.Err()
			}

			if out.NextContinuationToken == nil || (out.IsTruncated != nil && !*out.IsTruncated) {
				return nil
			}
			token = out.NextContinuationToken
		}
	})

	byKey := make(map[string]models.RemoteObject)

	g.Go(func() error {
		for page := range pages {
			for _, obj := range page.Contents {
				if obj.Key == nil {
					continue
				}
				key := *obj.Key

				if opts.Suffix != "" && !strings.HasSuffix(key, opts.Suffix) {
					continue
				}

				transformed := pipeline.Apply(key)
				if transform.Dropped(transformed) {
					c.log.Warn(ctx, "dropping key with empty transform result", "key", key)
					continue
				}

				if prev, ok := byKey[transformed]; ok {
					c.log.Warn(ctx, "transformed key collision, overwriting",
						"transformed_key", transformed, "previous_key", prev.Key, "key", key)
				}

				item := models.RemoteObject{Key: key, TransformedKey: transformed}
				if obj.LastModified != nil {
					item.LastModified = *obj.LastModified
				}
				if obj.Size != nil {
					item.Size = *obj.Size
				}
				byKey[transformed] = item
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	objects := make([]models.RemoteObject, 0, len(byKey))
	for _, obj := range byKey {
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool {
		return bytex.Less(objects[i].TransformedKey, objects[j].TransformedKey)
	})

	return objects, nil
}
