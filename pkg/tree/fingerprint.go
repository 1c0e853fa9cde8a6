// Package tree implements whole-tree operations over stores: content
// fingerprinting, copying, wholesale replacement and diffing.
//
// Fingerprints are blake2b digests prefixed with "blake2b:". A tree
// fingerprint covers both paths and contents, so any rename, edit,
// addition or deletion changes it.
package tree

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	blake2b "github.com/minio/blake2b-simd"

	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
)

const fingerprintScheme = "blake2b:"

// HashReader consumes a reader and returns the fingerprint and size of
// its content.
func HashReader(r io.Reader) (string, int64, error) {
	h := blake2b.New512()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return fingerprintScheme + hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes returns the fingerprint of a byte slice.
func HashBytes(b []byte) string {
	digest := blake2b.Sum512(b)
	return fingerprintScheme + hex.EncodeToString(digest[:])
}

// HashKey returns the fingerprint and size of one object in a store.
func HashKey(ctx context.Context, store storage.Store, key string) (string, int64, error) {
	r, err := store.Get(ctx, key)
	if err != nil {
		return "", 0, err
	}
	defer r.Close()
	return HashReader(r)
}

// List enumerates a store as tree entries, ordered by path.
func List(ctx context.Context, store storage.Store) ([]model.TreeEntry, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]model.TreeEntry, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fingerprint, size, err := HashKey(ctx, store, key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.TreeEntry{Path: key, Fingerprint: fingerprint, Size: size})
	}
	return entries, nil
}

// Fingerprint derives a single digest over a whole tree. Identical trees
// yield identical fingerprints regardless of how or when they were written.
func Fingerprint(ctx context.Context, store storage.Store) (string, error) {
	entries, err := List(ctx, store)
	if err != nil {
		return "", err
	}
	return FingerprintEntries(entries), nil
}

// FingerprintEntries folds an ordered entry list into a tree fingerprint.
func FingerprintEntries(entries []model.TreeEntry) string {
	h := blake2b.New512()
	for _, e := range entries {
		fmt.Fprintf(h, "%s\x00%s\n", e.Path, e.Fingerprint)
	}
	return fingerprintScheme + hex.EncodeToString(h.Sum(nil))
}
