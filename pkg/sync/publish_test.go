package sync

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/underlay-tools/underlay/pkg/errors"
	"github.com/underlay-tools/underlay/pkg/storage/localfs"
	"github.com/underlay-tools/underlay/pkg/sync/status"
)

func TestPublishReplacesTargetPrefix(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	withTemplates := baseTree()
	withTemplates["templates/OLD.md"] = "superseded\n"
	w.up.advance("main", "abc1234", "v1.0.0", withTemplates)

	_, err := w.ctrl.Init(ctx, InitOptions{SelfHosted: true})
	require.NoError(t, err)

	source := localfs.New(afero.NewMemMapFs())
	putFile(t, source, "PLAN.md", "plan v2\n")
	putFile(t, source, "REVIEW.md", "review v2\n")
	w.subtrees["templates"] = source

	result, err := w.ctrl.Publish(ctx, PublishOptions{
		Pairs: []PublishPair{{From: "templates", To: "templates"}},
	})
	require.NoError(t, err)

	has, err := w.vendor.Has(ctx, "templates/OLD.md")
	require.NoError(t, err)
	assert.False(t, has, "the target prefix is replaced wholesale")
	assert.Equal(t, "plan v2\n", readFile(t, w.vendor, "templates/PLAN.md"))
	assert.Equal(t, "review v2\n", readFile(t, w.vendor, "templates/REVIEW.md"))

	added, deleted, modified := result.Diff.Summary()
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 0, modified)
	assert.NotEmpty(t, result.BackupID)

	// the rewritten tree must not read as drift afterwards
	assert.Equal(t, w.vendorFingerprint(t), w.ledgerOnDisk(t).VendorFingerprint)
}

func TestPublishRequiresSelfHosted(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{})
	require.NoError(t, err)

	_, err = w.ctrl.Publish(ctx, PublishOptions{
		Pairs: []PublishPair{{From: "templates", To: "templates"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotSelfHosted))
}

func TestPublishEmptySourceRollsBack(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{SelfHosted: true})
	require.NoError(t, err)
	before := w.vendorFingerprint(t)

	_, err = w.ctrl.Publish(ctx, PublishOptions{
		Pairs: []PublishPair{{From: "missing", To: "templates"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrRolledBack))
	assert.Contains(t, err.Error(), "missing")
	assert.Equal(t, before, w.vendorFingerprint(t))
}

func TestPublishRequiresPairs(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{SelfHosted: true})
	require.NoError(t, err)

	_, err = w.ctrl.Publish(ctx, PublishOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no publish pairs")
}

func TestPublishRequiresInit(t *testing.T) {
	w := newWorld(t)

	_, err := w.ctrl.Publish(context.Background(), PublishOptions{
		Pairs: []PublishPair{{From: "templates", To: "templates"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotInitialized))
}
