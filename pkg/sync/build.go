package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/pkg/model"
)

// Build regenerates the merged output from the current vendor and
// overlay trees. It never contacts the upstream and never writes the
// ledger or the vendor tree, so it is always safe to re-run. With
// unchanged inputs the published output is byte identical.
func (c *Controller) Build(ctx context.Context) (*model.OutputManifest, error) {
	if _, err := c.readLedger(ctx); err != nil {
		return nil, StageLedger.fail(err)
	}
	manifest, err := c.regenerate(ctx)
	if err != nil {
		return nil, err
	}
	c.l.Info("output rebuilt",
		zap.Int("files", len(manifest.Files)),
		zap.String("fingerprint", manifest.MergeFingerprint),
	)
	return manifest, nil
}
