package sync

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/sync/status"
	"github.com/underlay-tools/underlay/pkg/tree"
)

// InitOptions drives the first vendor pull of a project.
type InitOptions struct {
	// Channel is the upstream channel to track, DefaultChannel when empty
	Channel string
	// Force replaces an existing ledger or non-empty vendor tree
	Force bool
	// SelfHosted marks the project as the canonical source of its own
	// base layer, which changes how updates compare against upstream
	SelfHosted bool

	_ struct{}
}

// Conventional overlay files seeded at init so a build works
// immediately. Never written over existing overlay content.
var overlayScaffold = []struct {
	key     string
	content string
}{
	{
		key: "settings.json",
		content: `{
  "_comment": "project settings, deep merged over the base layer"
}
`,
	},
	{
		key: "INSTRUCTIONS.md",
		content: `<!-- underlay:begin PROJECT -->
Describe this project here.
<!-- underlay:end PROJECT -->
`,
	},
}

// Init performs the first vendor pull: fetch the channel head, populate
// the vendor tree, seed the overlay, merge once and write the initial
// ledger. A project that is already initialized is only replaced with
// Force, and any failure once writing has begun restores the
// pre-existing state.
func (c *Controller) Init(ctx context.Context, opts InitOptions) (*model.Ledger, error) {
	if err := c.requireUpstream(ctx); err != nil {
		return nil, StageRequirements.fail(err)
	}
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	hasLedger, err := c.hasLedger(ctx)
	if err != nil {
		return nil, StageLedger.fail(err)
	}
	vendorKeys, err := c.vendor.Keys(ctx)
	if err != nil {
		return nil, StageLedger.fail(err)
	}
	if !opts.Force {
		if hasLedger {
			return nil, StageLedger.fail(
				status.ErrAlreadyInitialized.WrapMessage("found %s, use force to reinitialize", c.ledgerKey))
		}
		if len(vendorKeys) > 0 {
			return nil, StageLedger.fail(
				status.ErrAlreadyInitialized.WrapMessage("vendor tree %s is not empty, use force to replace it", c.layout.VendorDir))
		}
	}

	bkp, err := c.backups.Snapshot(ctx, "init", c.clock())
	if err != nil {
		return nil, StageBackup.fail(err)
	}

	staging, cleanup, err := c.stage(ctx)
	if err != nil {
		c.abandonBackup(ctx, bkp.ID)
		return nil, StageFetch.fail(err)
	}
	defer func() {
		if err := cleanup(); err != nil {
			c.l.Warn("could not clean staging slot", zap.Error(err))
		}
	}()
	revision, err := c.fetcher.Fetch(ctx, channel, staging)
	if err != nil {
		c.abandonBackup(ctx, bkp.ID)
		return nil, StageFetch.fail(err)
	}

	files, written, err := tree.Replace(ctx, staging, c.vendor)
	if err != nil {
		return nil, c.rollback(ctx, bkp.ID, StageApply.fail(err))
	}
	if err := c.scaffoldOverlay(ctx); err != nil {
		return nil, c.rollback(ctx, bkp.ID, StageApply.fail(err))
	}

	if _, err := c.regenerate(ctx); err != nil {
		return nil, c.rollback(ctx, bkp.ID, err)
	}

	version := ""
	if v, ok := model.VersionFromTag(revision.Tag); ok {
		version = v
	}
	ledger := model.NewLedger(c.fetcher.String(), channel, revision.ID, version, opts.SelfHosted, c.clock())
	fingerprint, err := tree.Fingerprint(ctx, c.vendor)
	if err != nil {
		return nil, c.rollback(ctx, bkp.ID, StageCommit.fail(err))
	}
	ledger.VendorFingerprint = fingerprint
	if err := c.writeLedger(ctx, ledger); err != nil {
		return nil, c.rollback(ctx, bkp.ID, StageCommit.fail(err))
	}

	c.finishBackup(ctx, bkp.ID)
	c.l.Info("project initialized",
		zap.String("source", ledger.SourceLocation),
		zap.String("channel", channel),
		zap.String("version", ledger.Version),
		zap.String("revision", ledger.UpstreamRevision),
		zap.Int("vendor_files", files),
		zap.Int64("vendor_bytes", written),
	)
	return ledger, nil
}

// scaffoldOverlay seeds the conventional overlay files when absent.
func (c *Controller) scaffoldOverlay(ctx context.Context) error {
	for _, stub := range overlayScaffold {
		has, err := c.overlay.Has(ctx, stub.key)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if err := c.overlay.Put(ctx, stub.key, strings.NewReader(stub.content), storage.NoOverWrite); err != nil {
			return err
		}
	}
	return nil
}
