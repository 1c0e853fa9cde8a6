package sync

import (
	"context"

	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/upstream"
)

const (
	// StateUpToDate means the applied revision is the upstream head
	StateUpToDate = iota
	// StateBehind means the upstream head supersedes the applied revision
	StateBehind
	// StateDiverged means local and upstream histories cannot be linearly
	// reconciled. Only reported for self-hosted projects.
	StateDiverged
)

// CheckState classifies a project against its upstream channel
type CheckState uint

func (s CheckState) String() string {
	checkStateStrings := map[CheckState]string{
		StateUpToDate: "up to date",
		StateBehind:   "behind",
		StateDiverged: "diverged",
	}
	return checkStateStrings[s]
}

// CheckResult reports where a project stands relative to its upstream.
type CheckResult struct {
	State  CheckState
	Ledger *model.Ledger
	Remote upstream.Revision

	_ struct{}
}

// Check resolves the upstream head of the tracked channel and compares
// it against the ledger. Check never mutates anything.
func (c *Controller) Check(ctx context.Context) (*CheckResult, error) {
	if err := c.requireUpstream(ctx); err != nil {
		return nil, StageRequirements.fail(err)
	}
	ledger, err := c.readLedger(ctx)
	if err != nil {
		return nil, StageLedger.fail(err)
	}
	remote, err := c.fetcher.Resolve(ctx, ledger.Channel)
	if err != nil {
		return nil, StageCompare.fail(err)
	}
	state, err := c.compare(ctx, ledger, remote)
	if err != nil {
		return nil, StageCompare.fail(err)
	}
	return &CheckResult{State: state, Ledger: ledger, Remote: remote}, nil
}

// compare classifies the applied revision against a resolved remote
// head. Projects hosting their own base layer may legitimately be ahead
// of upstream, so equality alone does not settle it there: a local
// revision the remote head descends from is merely behind, anything
// else has diverged.
func (c *Controller) compare(ctx context.Context, ledger *model.Ledger, remote upstream.Revision) (CheckState, error) {
	if ledger.UpstreamRevision == remote.ID {
		return StateUpToDate, nil
	}
	if !ledger.SelfHosted {
		return StateBehind, nil
	}
	behind, err := c.fetcher.IsAncestor(ctx, ledger.UpstreamRevision, remote.ID)
	if err != nil {
		return StateDiverged, err
	}
	if behind {
		return StateBehind, nil
	}
	return StateDiverged, nil
}
