// Package reconcile diff-merges the sorted remote listing against the
// sorted local tree and emits the file actions that converge the two.
package reconcile

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/s3mirror/internal/bytex"
	"github.com/dmitrijs2005/s3mirror/internal/logging"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/models"
)

// ActionSink receives the actions the reconciler decides on. The production
// sink submits each action into the operation queue keyed by the absolute
// target path.
type ActionSink interface {
	WriteObject(obj models.RemoteObject) error
	RemoveFile(relPath string) error
	RemoveDirRecursive(relPath string) error
	EnsureDir(relPath string) error
}

// Stats summarizes one reconciliation pass.
type Stats struct {
	Writes      int
	Mkdirs      int
	FileRemoves int
	DirRemoves  int
}

// Reconciler merges the two streams. Both inputs must be sorted under the
// UTF-8 byte comparator: remote by transformed key, local by relative path
// (directories carrying their trailing separator).
type Reconciler struct {
	sink   ActionSink
	remove bool
	log    logging.Logger
}

func New(sink ActionSink, remove bool, logger logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewForLevel("NONE")
	}
	return &Reconciler{sink: sink, remove: remove, log: logger.With("module", "reconcile")}
}

// Run walks both cursors to exhaustion. The first failed submission aborts
// the pass; queued actions already submitted keep running.
func (rc *Reconciler) Run(ctx context.Context, remote []models.RemoteObject, local []models.LocalEntry) (Stats, error) {
	var stats Stats
	ri, li := 0, 0

	for ri < len(remote) || li < len(local) {
		switch {
		case li >= len(local):
			// Remote tail: everything left is new.
			if err := rc.submitWrite(remote[ri], &stats); err != nil {
				return stats, err
			}
			ri++

		case ri >= len(remote):
			// Local tail: candidates for removal.
			l := local[li]
			if !rc.remove {
				li++
				continue
			}
			if l.IsDir {
				if err := rc.sink.RemoveDirRecursive(l.RelPath); err != nil {
					return stats, err
				}
				stats.DirRemoves++
				li = skipPrefixed(local, li)
				continue
			}
			if err := rc.sink.RemoveFile(l.RelPath); err != nil {
				return stats, err
			}
			stats.FileRemoves++
			li++

		default:
			r, l := remote[ri], local[li]
			switch cmp := bytex.Compare(l.RelPath, r.TransformedKey); {
			case cmp < 0:
				// Local-only entry.
				if !rc.remove {
					li++
					continue
				}
				switch {
				case l.IsDir && !strings.HasPrefix(r.TransformedKey, l.RelPath):
					// Nothing remote lives under this directory: the
					// whole subtree goes, and the local cursor skips
					// every descendant to stay aligned.
					if err := rc.sink.RemoveDirRecursive(l.RelPath); err != nil {
						return stats, err
					}
					stats.DirRemoves++
					li = skipPrefixed(local, li)
				case l.IsDir:
					// The current remote key is nested inside; the
					// directory stays and its descendants are judged
					// individually.
					li++
				default:
					if err := rc.sink.RemoveFile(l.RelPath); err != nil {
						return stats, err
					}
					stats.FileRemoves++
					li++
				}

			case cmp == 0:
				if !l.IsDir && (r.LastModified.After(l.MTime) || r.Size != l.Size) {
					if err := rc.submitWrite(r, &stats); err != nil {
						return stats, err
					}
				}
				ri++
				li++

			default:
				// Remote-only entry.
				if err := rc.submitWrite(r, &stats); err != nil {
					return stats, err
				}
				ri++
			}
		}
	}

	rc.log.Info(ctx, "reconciliation pass complete",
		"writes", stats.Writes, "mkdirs", stats.Mkdirs,
		"file_removes", stats.FileRemoves, "dir_removes", stats.DirRemoves)

	return stats, nil
}

func (rc *Reconciler) submitWrite(r models.RemoteObject, stats *Stats) error {
	if r.IsDir() {
		if err := rc.sink.EnsureDir(r.TransformedKey); err != nil {
			return err
		}
		stats.Mkdirs++
		return nil
	}
	if err := rc.sink.WriteObject(r); err != nil {
		return err
	}
	stats.Writes++
	return nil
}

// skipPrefixed advances past local[li] and every entry nested under it.
func skipPrefixed(local []models.LocalEntry, li int) int {
	prefix := local[li].RelPath
	li++
	for li < len(local) && strings.HasPrefix(local[li].RelPath, prefix) {
		li++
	}
	return li
}
