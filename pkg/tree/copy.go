package tree

import (
	"context"
	"io"

	"github.com/underlay-tools/underlay/pkg/storage"
)

// Copy streams every object from src into dst, overwriting what exists.
// It returns the number of files and bytes written.
func Copy(ctx context.Context, src, dst storage.Store) (int, int64, error) {
	keys, err := src.Keys(ctx)
	if err != nil {
		return 0, 0, err
	}
	var written int64
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return i, written, err
		}
		n, err := copyKey(ctx, src, dst, key)
		if err != nil {
			return i, written, err
		}
		written += n
	}
	return len(keys), written, nil
}

func copyKey(ctx context.Context, src, dst storage.Store, key string) (int64, error) {
	r, err := src.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	counted := &countingReader{r: r}
	if err := dst.Put(ctx, key, counted, storage.OverWrite); err != nil {
		return counted.n, err
	}
	return counted.n, nil
}

// Replace makes dst an exact copy of src, removing anything that was
// there before. Callers are expected to hold a backup of dst.
func Replace(ctx context.Context, src, dst storage.Store) (int, int64, error) {
	if err := dst.Clear(ctx); err != nil {
		return 0, 0, err
	}
	return Copy(ctx, src, dst)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
