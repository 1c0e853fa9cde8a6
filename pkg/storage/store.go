// Copyright © 2018 One Concern

// Package storage provides the file-tree abstraction the sync engine
// reads and writes.
//
// A Store is a flat keyspace of slash-separated relative paths. The
// vendor snapshot, the overlay, the merged output and every backup are
// all plain Stores, so the engine logic never touches the OS filesystem
// directly and tests run against in-memory trees.
package storage

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/underlay-tools/underlay/pkg/errors"
	"github.com/underlay-tools/underlay/pkg/storage/status"
)

const (
	// OverWrite lets Put replace an existing object
	OverWrite = false

	// NoOverWrite makes Put fail with ErrExists on an existing object
	NoOverWrite = true
)

// Store implementations know how to read and write the entries of a file tree.
//
// Keys are clean, slash-separated paths relative to the store root
// (e.g. "templates/INSTRUCTIONS.md"). Implementations are assumed to be
// fairly simple; anything transactional is built above this interface.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	// Put writes an object under key. Implementations must publish the
	// object atomically: a reader never observes a partially written entry.
	Put(ctx context.Context, key string, source io.Reader, exclusive bool) error
	Delete(context.Context, string) error
	// Keys returns every object key in the store, sorted.
	Keys(context.Context) ([]string, error)
	Clear(context.Context) error
}

// IsNotExists tells whether err denotes a missing object
func IsNotExists(err error) bool {
	return errors.Is(err, status.ErrNotExists)
}

// CheckKey validates a storage key: relative, clean, no traversal.
func CheckKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return status.ErrInvalidResource.WrapMessage("%s", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return status.ErrInvalidResource.WrapMessage("%s", key)
		}
	}
	return nil
}

// ReadAll fetches an object and slurps it fully into memory.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	reader, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// ReadTee reads from a source store and duplicates the object to a destination store
func ReadTee(ctx context.Context, sStore Store, source string, dStore Store, destination string) ([]byte, error) {
	object, err := ReadAll(ctx, sStore, source)
	if err != nil {
		return nil, err
	}
	err = dStore.Put(ctx, destination, bytes.NewReader(object), OverWrite)
	if err != nil {
		return nil, err
	}
	return object, nil
}

// PipeIO copies a reader out to a writer with a fixed-size buffer
func PipeIO(writer io.Writer, reader io.Reader) (n int64, err error) {
	buf := make([]byte, 32*1024)
	return io.CopyBuffer(writer, reader, buf)
}
