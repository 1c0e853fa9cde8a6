package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/underlay-tools/underlay/pkg/errors"
	mergestatus "github.com/underlay-tools/underlay/pkg/merge/status"
	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/sync/status"
	upstreamstatus "github.com/underlay-tools/underlay/pkg/upstream/status"
)

const projectSection = "<!-- underlay:begin PROJECT -->\n" +
	"Project X ships widgets.\n" +
	"<!-- underlay:end PROJECT -->\n"

// secondRelease is the upstream tree at def5678: new boilerplate text,
// a new template, one script dropped.
func secondRelease() map[string]string {
	return map[string]string{
		"CLAUDE.md": "<!-- underlay:begin BOILERPLATE -->\n" +
			"Follow the updated house rules.\n" +
			"<!-- underlay:end BOILERPLATE -->\n" +
			"<!-- underlay:begin PROJECT -->\n" +
			"Describe the project here.\n" +
			"<!-- underlay:end PROJECT -->\n",
		"settings.json":     "{\n  \"level\": \"info\",\n  \"tools\": [\"fmt\"]\n}\n",
		"templates/PLAN.md": "# Plan\n",
	}
}

func TestUpdateEndToEnd(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	ledger, err := w.ctrl.Init(ctx, InitOptions{Channel: "main"})
	require.NoError(t, err)
	require.Equal(t, "1.0.0", ledger.Version)
	require.Equal(t, "abc1234", ledger.UpstreamRevision)

	putFile(t, w.overlay, "CLAUDE.md", projectSection)
	_, err = w.ctrl.Build(ctx)
	require.NoError(t, err)

	w.up.advance("main", "def5678", "v1.0.0", secondRelease())
	result, err := w.ctrl.Update(ctx, UpdateOptions{})
	require.NoError(t, err)

	assert.Equal(t, CheckState(StateBehind), result.State)
	assert.Equal(t, "1.0.1", result.Ledger.Version)
	assert.Equal(t, "def5678", result.Ledger.UpstreamRevision)
	assert.Equal(t, "abc1234", result.Ledger.PreviousRevision)
	assert.NotEmpty(t, result.BackupID)

	added, deleted, modified := result.Diff.Summary()
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, modified)

	// updated boilerplate with the project's own section spliced in
	assert.Equal(t, "<!-- underlay:begin BOILERPLATE -->\n"+
		"Follow the updated house rules.\n"+
		"<!-- underlay:end BOILERPLATE -->\n"+
		projectSection,
		readFile(t, w.output, "CLAUDE.md"))
	assert.Equal(t, "# Plan\n", readFile(t, w.output, "templates/PLAN.md"))

	// the dropped script is gone from vendor and output alike
	has, err := w.vendor.Has(ctx, "scripts/check.sh")
	require.NoError(t, err)
	assert.False(t, has)
	has, err = w.output.Has(ctx, "scripts/check.sh")
	require.NoError(t, err)
	assert.False(t, has)

	assert.Equal(t, w.vendorFingerprint(t), result.Ledger.VendorFingerprint)
	assert.Equal(t, "1.0.1", w.ledgerOnDisk(t).Version)

	// next release carries unbalanced markers, the update must fail and
	// leave no trace of itself
	ledgerBefore := readFile(t, w.project, model.LedgerFile)
	vendorBefore := w.vendorFingerprint(t)
	outputBefore := dumpStore(t, w.output)

	broken := secondRelease()
	broken["CLAUDE.md"] = "<!-- underlay:begin BOILERPLATE -->\nBroken release.\n"
	w.up.advance("main", "bad9999", "", broken)

	_, err = w.ctrl.Update(ctx, UpdateOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, mergestatus.ErrMalformedMarkers))
	assert.True(t, errors.Is(err, status.ErrRolledBack))
	assert.Contains(t, err.Error(), "CLAUDE.md")
	assert.Contains(t, err.Error(), `stage "merge"`)
	assert.Contains(t, err.Error(), "backup 20250301T")

	assert.Equal(t, ledgerBefore, readFile(t, w.project, model.LedgerFile))
	assert.Equal(t, vendorBefore, w.vendorFingerprint(t))
	assert.Equal(t, outputBefore, dumpStore(t, w.output))
}

func TestUpdateUpToDate(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{})
	require.NoError(t, err)
	backupsBefore := w.backupIDs(t)

	result, err := w.ctrl.Update(ctx, UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, CheckState(StateUpToDate), result.State)
	assert.Empty(t, result.BackupID)
	assert.Equal(t, "1.0.0", result.Ledger.Version)
	assert.Equal(t, backupsBefore, w.backupIDs(t))
}

func TestUpdateDryRunMutatesNothing(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{})
	require.NoError(t, err)
	ledgerBefore := readFile(t, w.project, model.LedgerFile)
	vendorBefore := w.vendorFingerprint(t)
	outputBefore := dumpStore(t, w.output)
	backupsBefore := w.backupIDs(t)

	w.up.advance("main", "def5678", "v1.0.0", secondRelease())
	result, err := w.ctrl.Update(ctx, UpdateOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Empty(t, result.BackupID)
	assert.False(t, result.Diff.IsEmpty())
	assert.Contains(t, result.Preview, "CLAUDE.md (planned)")
	assert.Contains(t, result.Preview, "updated house rules")

	assert.Equal(t, ledgerBefore, readFile(t, w.project, model.LedgerFile))
	assert.Equal(t, vendorBefore, w.vendorFingerprint(t))
	assert.Equal(t, outputBefore, dumpStore(t, w.output))
	assert.Equal(t, backupsBefore, w.backupIDs(t))
}

func TestUpdateRefusesVendorDrift(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{})
	require.NoError(t, err)
	putFile(t, w.vendor, "CLAUDE.md", "hand edited\n")

	w.up.advance("main", "def5678", "v1.0.0", secondRelease())
	_, err = w.ctrl.Update(ctx, UpdateOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrVendorDrift))
	assert.Contains(t, err.Error(), `stage "drift"`)
	assert.Contains(t, err.Error(), "force")
	assert.Equal(t, "1.0.0", w.ledgerOnDisk(t).Version)

	// force overwrites the local edits with the fetched tree
	result, err := w.ctrl.Update(ctx, UpdateOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", result.Ledger.Version)
	assert.Equal(t, secondRelease()["CLAUDE.md"], readFile(t, w.vendor, "CLAUDE.md"))
}

func TestUpdateFetchFailureDoesNotRollback(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{})
	require.NoError(t, err)
	backupsBefore := w.backupIDs(t)
	ledgerBefore := readFile(t, w.project, model.LedgerFile)

	w.up.advance("main", "def5678", "v1.0.0", secondRelease())
	w.up.fetchErr = errors.New("connection reset")

	_, err = w.ctrl.Update(ctx, UpdateOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, upstreamstatus.ErrFetch))
	assert.Contains(t, err.Error(), `stage "fetch"`)
	assert.False(t, errors.Is(err, status.ErrRolledBack))

	assert.Equal(t, ledgerBefore, readFile(t, w.project, model.LedgerFile))
	assert.Equal(t, backupsBefore, w.backupIDs(t), "the unused snapshot must not linger")
}

func TestUpdateChannelOverrideIsForOneRunOnly(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{})
	require.NoError(t, err)

	weekly := baseTree()
	weekly["WEEKLY.md"] = "fresher\n"
	w.up.advance("weekly", "wk11111", "", weekly)

	result, err := w.ctrl.Update(ctx, UpdateOptions{Channel: "weekly"})
	require.NoError(t, err)
	assert.Equal(t, "wk11111", result.Ledger.UpstreamRevision)
	assert.Equal(t, "main", result.Ledger.Channel)
	assert.Equal(t, "main", w.ledgerOnDisk(t).Channel)
}

func TestUpdateUnknownChannel(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{})
	require.NoError(t, err)

	_, err = w.ctrl.Update(ctx, UpdateOptions{Channel: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, upstreamstatus.ErrNoSuchChannel))
	assert.Contains(t, err.Error(), `stage "compare"`)
}

func TestUpdateDivergedAborts(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.ctrl.Init(ctx, InitOptions{SelfHosted: true})
	require.NoError(t, err)
	ledgerBefore := readFile(t, w.project, model.LedgerFile)

	w.up.advance("main", "fork0001", "", baseTree())
	_, err = w.ctrl.Update(ctx, UpdateOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrDiverged))
	assert.Contains(t, err.Error(), "fork0001")
	assert.Equal(t, ledgerBefore, readFile(t, w.project, model.LedgerFile))
}

func TestUpdateRequiresInit(t *testing.T) {
	w := newWorld(t)

	_, err := w.ctrl.Update(context.Background(), UpdateOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotInitialized))
	assert.Contains(t, err.Error(), `stage "ledger"`)
}
