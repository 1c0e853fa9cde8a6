package sync

import (
	"context"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/pkg/errors"
	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/sync/status"
	"github.com/underlay-tools/underlay/pkg/tree"
)

// PublishPair maps one project directory onto a vendor tree prefix.
type PublishPair struct {
	// From is a directory below the project root
	From string
	// To is the target prefix inside the vendor tree, empty for its root
	To string

	_ struct{}
}

// PublishOptions configures a publish run.
type PublishOptions struct {
	// Pairs are processed in order, each wholesale replacing its target
	// prefix
	Pairs []PublishPair

	_ struct{}
}

// PublishResult reports what a publish run changed.
type PublishResult struct {
	// Diff lists the vendor tree changes
	Diff model.TreeDiff
	// BackupID identifies the snapshot taken before mutating
	BackupID string

	_ struct{}
}

// Publish mirrors designated project directories into the vendor tree,
// the maintainer path of a project hosting its own base layer. Each
// configured pair wholesale replaces its target prefix, the ledger
// fingerprint is refreshed so the rewritten tree does not read as
// drift, and a failure restores the pre-publish snapshot.
func (c *Controller) Publish(ctx context.Context, opts PublishOptions) (*PublishResult, error) {
	ledger, err := c.readLedger(ctx)
	if err != nil {
		return nil, StageLedger.fail(err)
	}
	if !ledger.SelfHosted {
		return nil, StagePublish.fail(
			status.ErrNotSelfHosted.WrapMessage("publishing requires self_hosted in %s", c.ledgerKey))
	}
	if len(opts.Pairs) == 0 {
		return nil, StagePublish.fail(errors.New("no publish pairs configured"))
	}
	if c.subtree == nil {
		return nil, StagePublish.fail(errors.New("no project subtree access configured"))
	}

	before, err := tree.List(ctx, c.vendor)
	if err != nil {
		return nil, StagePublish.fail(err)
	}

	bkp, err := c.backups.Snapshot(ctx, "publish", c.clock())
	if err != nil {
		return nil, StageBackup.fail(err)
	}

	for _, pair := range opts.Pairs {
		if err := c.publishPair(ctx, pair); err != nil {
			return nil, c.rollback(ctx, bkp.ID, StagePublish.fail(err))
		}
	}

	ledger.VendorFingerprint, err = tree.Fingerprint(ctx, c.vendor)
	if err != nil {
		return nil, c.rollback(ctx, bkp.ID, StageCommit.fail(err))
	}
	ledger.UpdatedAt = c.clock().UTC()
	if err := c.writeLedger(ctx, ledger); err != nil {
		return nil, c.rollback(ctx, bkp.ID, StageCommit.fail(err))
	}

	after, err := tree.List(ctx, c.vendor)
	if err != nil {
		return nil, StageCommit.fail(err)
	}
	diff := tree.DiffEntries(before, after)

	c.finishBackup(ctx, bkp.ID)
	added, deleted, modified := diff.Summary()
	c.l.Info("published into vendor tree",
		zap.Int("pairs", len(opts.Pairs)),
		zap.Int("added", added),
		zap.Int("deleted", deleted),
		zap.Int("modified", modified),
	)
	return &PublishResult{Diff: diff, BackupID: bkp.ID}, nil
}

// publishPair wholesale replaces one vendor prefix with the content of
// one project directory.
func (c *Controller) publishPair(ctx context.Context, pair PublishPair) error {
	from := strings.Trim(pair.From, "/")
	to := strings.Trim(pair.To, "/")
	if from == "" {
		return errors.New("publish pair needs a source directory")
	}

	src := c.subtree(from)
	srcKeys, err := src.Keys(ctx)
	if err != nil {
		return err
	}
	if len(srcKeys) == 0 {
		return errors.New("publish source is empty or missing").WrapMessage("%s", from)
	}

	vendorKeys, err := c.vendor.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range vendorKeys {
		if to != "" && !strings.HasPrefix(key, to+"/") {
			continue
		}
		if err := c.vendor.Delete(ctx, key); err != nil && !storage.IsNotExists(err) {
			return err
		}
	}
	for _, key := range srcKeys {
		target := key
		if to != "" {
			target = path.Join(to, key)
		}
		if _, err := storage.ReadTee(ctx, src, key, c.vendor, target); err != nil {
			return err
		}
	}
	return nil
}
