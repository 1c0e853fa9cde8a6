package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/sync/status"
	"github.com/underlay-tools/underlay/pkg/tree"
	"github.com/underlay-tools/underlay/pkg/upstream"
)

// UpdateOptions tunes one update run.
type UpdateOptions struct {
	// DryRun reports what would change without mutating anything
	DryRun bool
	// Force proceeds over local modifications of the vendor tree
	Force bool
	// Channel overrides the ledger channel for this run only
	Channel string

	_ struct{}
}

// UpdateResult reports the outcome of an update run.
type UpdateResult struct {
	State CheckState
	// Ledger is the ledger after the run: advanced on success, the
	// current one when there was nothing to do
	Ledger *model.Ledger
	Remote upstream.Revision
	// Diff lists the vendor tree changes applied, or about to be applied
	// for dry runs
	Diff model.TreeDiff
	// Preview holds unified diffs of the output changes a dry run would
	// publish
	Preview string
	// BackupID identifies the snapshot taken before mutating, empty when
	// no mutation happened
	BackupID string
	DryRun   bool

	_ struct{}
}

// Update advances the vendor tree to the upstream head and republishes
// the merged output.
//
// The run is staged: requirements, ledger, compare, drift, backup,
// fetch, apply, merge, publish, commit. Nothing is written before the
// backup stage, and any failure from the apply stage on restores the
// backup, leaving vendor, ledger and output exactly as they were.
func (c *Controller) Update(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	if err := c.requireUpstream(ctx); err != nil {
		return nil, StageRequirements.fail(err)
	}
	ledger, err := c.readLedger(ctx)
	if err != nil {
		return nil, StageLedger.fail(err)
	}
	channel := opts.Channel
	if channel == "" {
		channel = ledger.Channel
	}

	remote, err := c.fetcher.Resolve(ctx, channel)
	if err != nil {
		return nil, StageCompare.fail(err)
	}
	state, err := c.compare(ctx, ledger, remote)
	if err != nil {
		return nil, StageCompare.fail(err)
	}
	result := &UpdateResult{State: state, Ledger: ledger, Remote: remote, DryRun: opts.DryRun}

	switch state {
	case StateDiverged:
		return nil, StageCompare.fail(status.ErrDiverged.WrapMessage(
			"applied revision %s is not an ancestor of %s on channel %q",
			ledger.UpstreamRevision, remote.ID, channel))
	case StateUpToDate:
		c.l.Info("already up to date",
			zap.String("channel", channel),
			zap.String("revision", ledger.UpstreamRevision),
		)
		return result, nil
	}

	if !opts.DryRun && !opts.Force {
		if err := c.checkDrift(ctx, ledger); err != nil {
			return nil, StageDrift.fail(err)
		}
	}

	var backupID string
	if !opts.DryRun {
		bkp, err := c.backups.Snapshot(ctx, "update", c.clock())
		if err != nil {
			return nil, StageBackup.fail(err)
		}
		backupID = bkp.ID
		result.BackupID = backupID
	}

	staging, cleanup, err := c.stage(ctx)
	if err != nil {
		if backupID != "" {
			c.abandonBackup(ctx, backupID)
		}
		return nil, StageFetch.fail(err)
	}
	defer func() {
		if err := cleanup(); err != nil {
			c.l.Warn("could not clean staging slot", zap.Error(err))
		}
	}()
	fetched, err := c.fetcher.Fetch(ctx, channel, staging)
	if err != nil {
		if backupID != "" {
			c.abandonBackup(ctx, backupID)
		}
		return nil, StageFetch.fail(err)
	}
	if fetched.ID != remote.ID {
		// the head moved between resolve and fetch, continue with the
		// tree actually transferred
		c.l.Warn("channel head moved during update",
			zap.String("resolved", remote.ID),
			zap.String("fetched", fetched.ID),
		)
		result.Remote = fetched
	}

	result.Diff, err = tree.Diff(ctx, c.vendor, staging)
	if err != nil {
		if backupID != "" {
			c.abandonBackup(ctx, backupID)
		}
		return nil, StageCompare.fail(err)
	}

	if opts.DryRun {
		plan, err := c.engine.Plan(ctx, staging, c.overlay)
		if err != nil {
			return nil, StageMerge.fail(err)
		}
		previous, err := c.readManifest(ctx)
		if err != nil {
			return nil, StageMerge.fail(err)
		}
		result.Preview, err = c.engine.Preview(ctx, plan, c.output, previous)
		if err != nil {
			return nil, StageMerge.fail(err)
		}
		added, deleted, modified := result.Diff.Summary()
		c.l.Info("dry run, no changes made",
			zap.String("revision", fetched.ID),
			zap.Int("added", added),
			zap.Int("deleted", deleted),
			zap.Int("modified", modified),
		)
		return result, nil
	}

	if _, _, err := tree.Replace(ctx, staging, c.vendor); err != nil {
		return nil, c.rollback(ctx, backupID, StageApply.fail(err))
	}

	if _, err := c.regenerate(ctx); err != nil {
		return nil, c.rollback(ctx, backupID, err)
	}

	next, err := ledger.Bump(fetched.ID, c.clock())
	if err != nil {
		return nil, c.rollback(ctx, backupID, StageCommit.fail(err))
	}
	next.VendorFingerprint, err = tree.Fingerprint(ctx, c.vendor)
	if err != nil {
		return nil, c.rollback(ctx, backupID, StageCommit.fail(err))
	}
	if err := c.writeLedger(ctx, next); err != nil {
		return nil, c.rollback(ctx, backupID, StageCommit.fail(err))
	}
	result.Ledger = next

	c.finishBackup(ctx, backupID)
	added, deleted, modified := result.Diff.Summary()
	c.l.Info("updated",
		zap.String("channel", channel),
		zap.String("from_version", ledger.Version),
		zap.String("to_version", next.Version),
		zap.String("revision", next.UpstreamRevision),
		zap.Int("added", added),
		zap.Int("deleted", deleted),
		zap.Int("modified", modified),
	)
	return result, nil
}

// checkDrift compares the vendor tree against the fingerprint the
// ledger recorded when it was last written. Ledgers from before
// fingerprinting pass.
func (c *Controller) checkDrift(ctx context.Context, ledger *model.Ledger) error {
	if ledger.VendorFingerprint == "" {
		return nil
	}
	current, err := tree.Fingerprint(ctx, c.vendor)
	if err != nil {
		return err
	}
	if current != ledger.VendorFingerprint {
		return status.ErrVendorDrift.WrapMessage(
			"%s was modified since version %s was applied, use force to overwrite",
			c.layout.VendorDir, ledger.Version)
	}
	return nil
}
