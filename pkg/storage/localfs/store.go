// Copyright © 2018 One Concern

// Package localfs implements the Store interface over an afero
// filesystem rooted at the store directory.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/storage/status"

	"github.com/spf13/afero"
)

// tempPrefix marks in-flight writes so interrupted Puts never surface as keys.
const tempPrefix = ".underlay-tmp-"

// New creates a local file system backed storage store.
//
// The keyspace maps to paths below the root of fs: callers scope the store
// with afero.NewBasePathFs. A nil fs defaults to the process working
// directory, which is only ever useful in throwaway tooling.
func New(fs afero.Fs) storage.Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &localFS{fs: fs}
}

type localFS struct {
	fs afero.Fs
}

func (l *localFS) String() string {
	const localfs = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfs
		}
		return localfs + "@" + pp
	default:
		return localfs
	}
}

func (l *localFS) Has(ctx context.Context, key string) (bool, error) {
	if err := storage.CheckKey(key); err != nil {
		return false, err
	}
	fi, err := l.fs.Stat(filepath.FromSlash(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, status.ErrStorageAPI.Wrap(err)
	}
	return !fi.IsDir(), nil
}

type localReader struct {
	objectReader io.ReadCloser
}

func (r localReader) WriteTo(writer io.Writer) (n int64, err error) {
	return storage.PipeIO(writer, r.objectReader)
}

func (r localReader) Close() error {
	return r.objectReader.Close()
}

func (r localReader) Read(p []byte) (n int, err error) {
	return r.objectReader.Read(p)
}

func (l *localFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	has, err := l.Has(ctx, key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, status.ErrNotExists.WrapMessage("%s", key)
	}
	t, err := l.fs.Open(filepath.FromSlash(key))
	if err != nil {
		return nil, status.ErrStorageAPI.Wrap(err)
	}
	return localReader{objectReader: t}, nil
}

// Put writes the object to a temp file in the target directory, then renames
// it over the key. A crash mid-write leaves only a prefixed temp file behind,
// never a torn object.
func (l *localFS) Put(ctx context.Context, key string, source io.Reader, exclusive bool) error {
	if err := storage.CheckKey(key); err != nil {
		return err
	}
	target := filepath.FromSlash(key)
	if exclusive {
		has, err := l.Has(ctx, key)
		if err != nil {
			return err
		}
		if has {
			return status.ErrExists.WrapMessage("%s", key)
		}
	}
	dir := filepath.Dir(target)
	if dir != "" && dir != "." {
		if err := l.fs.MkdirAll(dir, 0755); err != nil {
			return status.ErrStorageAPI.Wrap(err)
		}
	}
	tmp, err := afero.TempFile(l.fs, dir, tempPrefix+"*")
	if err != nil {
		return status.ErrStorageAPI.Wrap(err)
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		if !published {
			_ = l.fs.Remove(tmpName)
		}
	}()
	if _, err = storage.PipeIO(tmp, source); err != nil {
		_ = tmp.Close()
		return status.ErrStorageAPI.Wrap(err)
	}
	if err = tmp.Close(); err != nil {
		return status.ErrStorageAPI.Wrap(err)
	}
	if err = l.fs.Rename(tmpName, target); err != nil {
		return status.ErrStorageAPI.Wrap(err)
	}
	published = true
	return nil
}

func (l *localFS) Delete(ctx context.Context, key string) error {
	has, err := l.Has(ctx, key)
	if err != nil {
		return err
	}
	if !has {
		return status.ErrNotExists.WrapMessage("%s", key)
	}
	if err := l.fs.Remove(filepath.FromSlash(key)); err != nil {
		return status.ErrStorageAPI.Wrap(err)
	}
	return nil
}

func (l *localFS) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, 16)
	err := afero.Walk(l.fs, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), tempPrefix) {
			return nil
		}
		keys = append(keys, filepath.ToSlash(path))
		return nil
	})
	if err != nil {
		return nil, status.ErrStorageAPI.Wrap(err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *localFS) Clear(ctx context.Context) error {
	entries, err := afero.ReadDir(l.fs, ".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return status.ErrStorageAPI.Wrap(err)
	}
	for _, entry := range entries {
		if err := l.fs.RemoveAll(entry.Name()); err != nil {
			return status.ErrStorageAPI.Wrap(err)
		}
	}
	return nil
}
