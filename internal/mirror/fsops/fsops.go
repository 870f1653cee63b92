// Package fsops performs every mutation of the local mirror tree: atomic
// object writes, removals and the recursive listing the reconciler consumes.
// All calls are expected to arrive through the operation queue, keyed by the
// absolute target path, so no two mutations of the same path overlap.
package fsops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/s3mirror/internal/bytex"
	"github.com/dmitrijs2005/s3mirror/internal/common"
	"github.com/dmitrijs2005/s3mirror/internal/filex"
	"github.com/dmitrijs2005/s3mirror/internal/logging"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/models"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/transform"
)

const DefaultTmpSuffix = ".tmp"

// Ops binds the mirror root and staging settings.
type Ops struct {
	root      string
	tmpDir    string
	tmpSuffix string
	prune     bool
	pipeline  *transform.Pipeline
	log       logging.Logger
}

// Options for New. Pipeline is applied to local entry names before sorting
// so the listing compares under the same rules as transformed remote keys.
type Options struct {
	Root           string
	TmpDir         string // empty: stage inside Root
	TmpSuffix      string // empty: DefaultTmpSuffix
	PruneEmptyDirs bool
	Pipeline       *transform.Pipeline
	Logger         logging.Logger
}

func New(opts Options) (*Ops, error) {
	if opts.Root == "" {
		return nil, errors.New("fsops: root dir is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	tmpDir := opts.TmpDir
	if tmpDir == "" {
		tmpDir = root
	} else if tmpDir, err = filepath.Abs(tmpDir); err != nil {
		return nil, fmt.Errorf("resolve tmp dir: %w", err)
	}

	suffix := opts.TmpSuffix
	if suffix == "" {
		suffix = DefaultTmpSuffix
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewForLevel("NONE")
	}
	if opts.Pipeline == nil {
		opts.Pipeline = transform.NewPipeline()
	}

	return &Ops{
		root:      root,
		tmpDir:    tmpDir,
		tmpSuffix: suffix,
		prune:     opts.PruneEmptyDirs,
		pipeline:  opts.Pipeline,
		log:       logger.With("module", "fsops"),
	}, nil
}

// Root returns the absolute mirror root.
func (o *Ops) Root() string { return o.root }

// TargetPath resolves a transformed key to its absolute path under the
// mirror root. This is the queue partition key for every mutation of the
// path.
func (o *Ops) TargetPath(rel string) string {
	return filepath.Join(o.root, filepath.FromSlash(rel))
}

// WriteFile materializes an object body at the transformed key.
//
// The body is written in full to a staging file and promoted by rename, so
// watchers of the tree observe the target either complete or not at all.
// Rename is atomic only within one file system; when TmpDir sits on another
// volume the promotion degrades to copy-then-delete.
func (o *Ops) WriteFile(rel string, body io.Reader, mtime time.Time) (err error) {
	target := o.TargetPath(rel)

	// The random infix keeps two racing attempts for the same key (a
	// notification-driven write against a resync-driven one) from
	// clobbering each other's staging file.
	tmpName := filepath.FromSlash(rel) + "." + uuid.NewString() + o.tmpSuffix
	tmpPath := filepath.Join(o.tmpDir, tmpName)

	if err := filex.EnsureDir(filepath.Dir(target)); err != nil {
		return classify(err)
	}
	if err := filex.EnsureDir(filepath.Dir(tmpPath)); err != nil {
		return classify(err)
	}

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o660)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(f, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}

	if !mtime.IsZero() {
		if err = os.Chtimes(tmpPath, mtime, mtime); err != nil {
			return fmt.Errorf("chtimes %s: %w", tmpPath, err)
		}
	}

	if err = o.promote(tmpPath, target); err != nil {
		return err
	}

	o.log.Debug(context.Background(), "wrote object", "path", target)
	return nil
}

// promote renames the staging file onto the target, falling back to
// copy-then-delete when the staging directory is on a different volume.
func (o *Ops) promote(tmpPath, target string) error {
	err := os.Rename(tmpPath, target)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return classify(fmt.Errorf("rename %s -> %s: %w", tmpPath, target, err))
	}

	src, err := os.Open(tmpPath)
	if err != nil {
		return classify(err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return classify(err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy %s -> %s: %w", tmpPath, target, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	if fi, err := os.Stat(tmpPath); err == nil {
		_ = os.Chtimes(target, fi.ModTime(), fi.ModTime())
	}
	return os.Remove(tmpPath)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}

// EnsureDir creates the directory for a transformed key ending in a
// separator. No object body is involved.
func (o *Ops) EnsureDir(rel string) error {
	return classify(filex.EnsureDir(o.TargetPath(rel)))
}

// RemoveFile unlinks a file. With PruneEmptyDirs set, an emptied parent
// directory (other than the mirror root) is removed as well.
func (o *Ops) RemoveFile(rel string) error {
	target := o.TargetPath(rel)

	if err := os.Remove(target); err != nil {
		return classify(err)
	}
	o.log.Debug(context.Background(), "removed file", "path", target)

	if !o.prune {
		return nil
	}

	parent := filepath.Dir(target)
	if parent == o.root {
		return nil
	}
	empty, err := filex.IsEmptyDir(parent)
	if err != nil || !empty {
		return nil
	}
	if err := os.Remove(parent); err != nil {
		o.log.Warn(context.Background(), "could not prune empty directory", "path", parent, "error", err)
	}
	return nil
}

// RemoveDirRecursive removes a subtree. The mirror root itself and any
// file-system root are never allowed.
func (o *Ops) RemoveDirRecursive(rel string) error {
	cleaned := strings.TrimRight(rel, "/\\")
	if cleaned == "" || cleaned == "." {
		return fmt.Errorf("refusing recursive remove of %q", rel)
	}

	target := o.TargetPath(cleaned)
	if target == o.root || target == filepath.Dir(target) {
		return fmt.Errorf("refusing recursive remove of %q", target)
	}
	if !strings.HasPrefix(target, o.root+string(os.PathSeparator)) {
		return fmt.Errorf("refusing recursive remove outside mirror root: %q", target)
	}

	if err := os.RemoveAll(target); err != nil {
		return classify(err)
	}
	o.log.Debug(context.Background(), "removed directory", "path", target)
	return nil
}

// List walks the mirror tree and returns every entry, directories first as
// "path/" immediately ahead of their descendants, sorted under the UTF-8
// byte comparator. Staging files are not part of the mirror and are
// skipped.
func (o *Ops) List() ([]models.LocalEntry, error) {
	var entries []models.LocalEntry

	err := filepath.WalkDir(o.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A path vanishing mid-walk is routine while the queue is
			// mutating the tree.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if path == o.root {
			return nil
		}

		rel, err := filepath.Rel(o.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !d.IsDir() && strings.HasSuffix(rel, o.tmpSuffix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		name := o.pipeline.Apply(rel)
		if transform.Dropped(name) {
			return nil
		}
		if d.IsDir() {
			name += "/"
		}

		entries = append(entries, models.LocalEntry{
			RelPath: name,
			MTime:   info.ModTime(),
			Size:    info.Size(),
			IsDir:   d.IsDir(),
		})
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytex.Less(entries[i].RelPath, entries[j].RelPath)
	})

	return entries, nil
}

// classify maps OS errors onto the shared sentinels so callers can decide
// acceptability with errors.Is.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", common.ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", common.ErrAlreadyExists, err)
	case errors.Is(err, syscall.ENOTEMPTY):
		return fmt.Errorf("%w: %v", common.ErrNotEmpty, err)
	case errors.Is(err, syscall.EISDIR):
		return fmt.Errorf("%w: %v", common.ErrIsDirectory, err)
	default:
		return err
	}
}
