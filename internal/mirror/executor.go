// Package mirror wires the mirror's components together: the executor that
// turns reconciler and ingress decisions into queued file-system work, and
// the application lifecycle around it.
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/s3mirror/internal/common"
	"github.com/dmitrijs2005/s3mirror/internal/logging"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/fsops"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/models"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/queue"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/remote"
)

// ObjectFetcher fetches object bodies; satisfied by the remote client.
type ObjectFetcher interface {
	Get(ctx context.Context, key string) (*remote.Object, error)
}

// Submitter enqueues keyed tasks; satisfied by the operation queue.
type Submitter interface {
	Submit(key string, timeout time.Duration, task queue.Task) error
}

// IsAcceptable reports whether a side-effect failure means "the tree is
// already in the desired state": the action becomes a logged no-op.
func IsAcceptable(err error) bool {
	return errors.Is(err, common.ErrNotFound) ||
		errors.Is(err, common.ErrAlreadyExists) ||
		errors.Is(err, common.ErrNotEmpty) ||
		errors.Is(err, common.ErrIsDirectory)
}

// IsHard reports whether a failure requires operator intervention; the
// lifecycle reacts by shutting the process down.
func IsHard(err error) bool {
	return errors.Is(err, common.ErrBucketNotFound) ||
		errors.Is(err, common.ErrAccessDenied)
}

// Executor turns file actions into queue submissions. The partition key is
// always the absolute target path, so a notification-driven action and a
// resync-driven action for the same file serialize behind one another.
type Executor struct {
	queue       Submitter
	ops         *fsops.Ops
	fetcher     ObjectFetcher
	taskTimeout time.Duration
	log         logging.Logger
}

func NewExecutor(q Submitter, ops *fsops.Ops, fetcher ObjectFetcher, taskTimeout time.Duration, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewForLevel("NONE")
	}
	return &Executor{
		queue:       q,
		ops:         ops,
		fetcher:     fetcher,
		taskTimeout: taskTimeout,
		log:         logger.With("module", "executor"),
	}
}

// WriteObject fetches the object body and materializes it atomically.
func (e *Executor) WriteObject(obj models.RemoteObject) error {
	rel := obj.TransformedKey
	return e.queue.Submit(e.ops.TargetPath(rel), e.taskTimeout, func(ctx context.Context) error {
		o, err := e.fetcher.Get(ctx, obj.Key)
		if err != nil {
			if IsAcceptable(err) {
				// The object vanished between listing and fetch; a later
				// notification or resync settles it.
				e.log.Warn(ctx, "object gone before fetch", "key", obj.Key)
				return nil
			}
			return err
		}
		defer o.Body.Close()

		mtime := o.LastModified
		if mtime.IsZero() {
			mtime = obj.LastModified
		}

		if err := e.ops.WriteFile(rel, o.Body, mtime); err != nil {
			if IsAcceptable(err) {
				e.log.Warn(ctx, "write skipped", "path", rel, "error", err)
				return nil
			}
			return err
		}
		return nil
	})
}

// RemoveFile unlinks the target.
func (e *Executor) RemoveFile(rel string) error {
	return e.queue.Submit(e.ops.TargetPath(rel), e.taskTimeout, func(ctx context.Context) error {
		if err := e.ops.RemoveFile(rel); err != nil {
			if IsAcceptable(err) {
				e.log.Warn(ctx, "remove skipped", "path", rel, "error", err)
				return nil
			}
			return err
		}
		return nil
	})
}

// RemoveDirRecursive removes the subtree rooted at rel.
func (e *Executor) RemoveDirRecursive(rel string) error {
	return e.queue.Submit(e.ops.TargetPath(rel), e.taskTimeout, func(ctx context.Context) error {
		if err := e.ops.RemoveDirRecursive(rel); err != nil {
			if IsAcceptable(err) {
				e.log.Warn(ctx, "recursive remove skipped", "path", rel, "error", err)
				return nil
			}
			return err
		}
		return nil
	})
}

// EnsureDir creates the directory for a key ending in a separator.
func (e *Executor) EnsureDir(rel string) error {
	return e.queue.Submit(e.ops.TargetPath(rel), e.taskTimeout, func(ctx context.Context) error {
		if err := e.ops.EnsureDir(rel); err != nil {
			if IsAcceptable(err) {
				return nil
			}
			return err
		}
		return nil
	})
}
