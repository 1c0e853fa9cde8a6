// Package localdir fetches vendor trees from a plain directory on the
// local filesystem. Revisions are content fingerprints: the directory
// has no history, only a current state.
package localdir

import (
	"context"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/pkg/dlogger"
	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/storage/localfs"
	"github.com/underlay-tools/underlay/pkg/tree"
	"github.com/underlay-tools/underlay/pkg/upstream"
	"github.com/underlay-tools/underlay/pkg/upstream/status"
)

// versionFile names the optional release marker at the source root.
const versionFile = "VERSION"

// Option is a functor to build a fetcher with some options
type Option func(*Fetcher)

// Logger injects a logging facility into the fetcher
func Logger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		f.l = l
	}
}

// WithFs substitutes the filesystem the source directory lives on
func WithFs(fs afero.Fs) Option {
	return func(f *Fetcher) {
		f.fs = fs
	}
}

// Fetcher reads trees from a local directory.
type Fetcher struct {
	dir string
	fs  afero.Fs
	l   *zap.Logger
}

// New builds a fetcher over one directory.
func New(dir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		dir: dir,
		fs:  afero.NewOsFs(),
		l:   dlogger.MustGetLogger(dlogger.LogLevelInfo),
	}
	for _, apply := range opts {
		apply(f)
	}
	return f
}

func (f *Fetcher) String() string {
	return f.dir
}

// Requirements is trivially satisfied, reading a directory needs no tools.
func (f *Fetcher) Requirements(_ context.Context) error {
	return nil
}

// Resolve fingerprints the current directory content. Directories carry
// a single implicit channel, any requested name resolves to it.
func (f *Fetcher) Resolve(ctx context.Context, channel string) (upstream.Revision, error) {
	entries, err := f.entries(ctx)
	if err != nil {
		return upstream.Revision{}, err
	}
	revision := upstream.Revision{
		ID:     tree.FingerprintEntries(entries),
		Branch: channel,
		Tag:    f.versionTag(ctx),
	}
	return revision, nil
}

// Fetch copies the directory content into dst, skipping repository and
// sync engine state.
func (f *Fetcher) Fetch(ctx context.Context, channel string, dst storage.Store) (upstream.Revision, error) {
	src := f.store()
	entries, err := f.entries(ctx)
	if err != nil {
		return upstream.Revision{}, err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return upstream.Revision{}, err
		}
		r, err := src.Get(ctx, entry.Path)
		if err != nil {
			return upstream.Revision{}, status.ErrFetch.Wrap(err)
		}
		err = dst.Put(ctx, entry.Path, r, storage.OverWrite)
		r.Close()
		if err != nil {
			return upstream.Revision{}, err
		}
	}
	revision := upstream.Revision{
		ID:     tree.FingerprintEntries(entries),
		Branch: channel,
		Tag:    f.versionTag(ctx),
	}
	f.l.Info("fetched upstream tree",
		zap.String("source", f.dir),
		zap.String("revision", revision.ID),
		zap.Int("files", len(entries)),
	)
	return revision, nil
}

// IsAncestor always reports false, a directory has no history to walk.
func (f *Fetcher) IsAncestor(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

// LatestTag reads the VERSION marker file when the source carries one.
func (f *Fetcher) LatestTag(ctx context.Context) (string, error) {
	return f.versionTag(ctx), nil
}

func (f *Fetcher) versionTag(ctx context.Context) string {
	buf, err := storage.ReadAll(ctx, f.store(), versionFile)
	if err != nil {
		return ""
	}
	candidate := strings.TrimSpace(string(buf))
	if _, ok := model.VersionFromTag(candidate); !ok {
		return ""
	}
	return candidate
}

func (f *Fetcher) store() storage.Store {
	return localfs.New(afero.NewBasePathFs(f.fs, f.dir))
}

// entries lists the directory as tree entries, leaving out anything the
// sync engine itself maintains.
func (f *Fetcher) entries(ctx context.Context) ([]model.TreeEntry, error) {
	exists, err := afero.DirExists(f.fs, f.dir)
	if err != nil {
		return nil, status.ErrFetch.Wrap(err)
	}
	if !exists {
		return nil, status.ErrFetch.WrapMessage("%s: no such directory", f.dir)
	}
	src := f.store()
	keys, err := src.Keys(ctx)
	if err != nil {
		return nil, status.ErrFetch.Wrap(err)
	}
	entries := make([]model.TreeEntry, 0, len(keys))
	for _, key := range keys {
		if skipKey(key) {
			continue
		}
		fingerprint, size, err := tree.HashKey(ctx, src, key)
		if err != nil {
			return nil, status.ErrFetch.Wrap(err)
		}
		entries = append(entries, model.TreeEntry{Path: key, Fingerprint: fingerprint, Size: size})
	}
	return entries, nil
}

func skipKey(key string) bool {
	for _, prefix := range []string{".git", model.StateDir} {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			return true
		}
	}
	return key == model.LedgerFile
}

var _ upstream.Fetcher = &Fetcher{}
