package backup

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/underlay-tools/underlay/pkg/backup/status"
	"github.com/underlay-tools/underlay/pkg/dlogger"
	"github.com/underlay-tools/underlay/pkg/errors"
	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/storage/localfs"
	"github.com/underlay-tools/underlay/pkg/tree"
)

type fixture struct {
	backups storage.Store
	vendor  storage.Store
	output  storage.Store
	project storage.Store
	manager *Manager
}

func put(t *testing.T, store storage.Store, key, content string) {
	t.Helper()
	require.NoError(t,
		store.Put(context.Background(), key, bytes.NewBufferString(content), storage.OverWrite))
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backups: localfs.New(afero.NewMemMapFs()),
		vendor:  localfs.New(afero.NewMemMapFs()),
		output:  localfs.New(afero.NewMemMapFs()),
		project: localfs.New(afero.NewMemMapFs()),
	}
	f.manager = New(f.backups, f.vendor, f.output, f.project,
		Logger(dlogger.MustGetLogger(dlogger.LogLevelNone)))
	return f
}

func seedProject(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	put(t, f.vendor, "CLAUDE.md", "# base guide\n")
	put(t, f.vendor, "config/settings.json", `{"a": 1}`)
	put(t, f.output, "CLAUDE.md", "# merged guide\n")

	manifest, err := model.MarshalManifest(
		model.NewOutputManifest([]string{"CLAUDE.md"}, "blake2b:feed", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NoError(t, f.project.Put(ctx, model.DefaultLayout().ManifestFile, bytes.NewReader(manifest), storage.OverWrite))

	ledger, err := model.MarshalLedger(
		model.NewLedger("https://example.com/base.git", "main", "abc1234", "", false,
			time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NoError(t, f.project.Put(ctx, model.LedgerFile, bytes.NewReader(ledger), storage.OverWrite))
}

func TestSnapshotCapturesEverything(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	seedProject(t, f)

	descriptor, err := f.manager.Snapshot(ctx, "update", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "20250301T100000.000000000", descriptor.ID)
	assert.Equal(t, "update", descriptor.Reason)
	assert.Equal(t, "1.0.0", descriptor.BaseVersion)
	assert.Len(t, descriptor.Entries, 5)

	has, err := f.backups.Has(ctx, descriptor.ID+"/"+model.DescriptorFile)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, f.manager.Verify(ctx, descriptor))
}

func TestRestoreIsBitExact(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	seedProject(t, f)

	vendorBefore, err := tree.Fingerprint(ctx, f.vendor)
	require.NoError(t, err)
	ledgerBefore, err := storage.ReadAll(ctx, f.project, model.LedgerFile)
	require.NoError(t, err)
	outputBefore, err := storage.ReadAll(ctx, f.output, "CLAUDE.md")
	require.NoError(t, err)

	descriptor, err := f.manager.Snapshot(ctx, "update", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// a failed update mangles everything it owns
	put(t, f.vendor, "CLAUDE.md", "# replaced\n")
	require.NoError(t, f.vendor.Delete(ctx, "config/settings.json"))
	put(t, f.vendor, "config/new.json", `{"b": 2}`)
	put(t, f.output, "CLAUDE.md", "# half written\n")
	put(t, f.output, "extra.md", "partial output\n")
	manifest, err := model.MarshalManifest(
		model.NewOutputManifest([]string{"CLAUDE.md", "extra.md"}, "blake2b:bad", time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NoError(t, f.project.Put(ctx, model.DefaultLayout().ManifestFile, bytes.NewReader(manifest), storage.OverWrite))
	put(t, f.project, model.LedgerFile, `{"version": "9.9.9"}`)

	require.NoError(t, f.manager.Restore(ctx, descriptor.ID))

	vendorAfter, err := tree.Fingerprint(ctx, f.vendor)
	require.NoError(t, err)
	assert.Equal(t, vendorBefore, vendorAfter, "vendor tree must be restored bit for bit")

	ledgerAfter, err := storage.ReadAll(ctx, f.project, model.LedgerFile)
	require.NoError(t, err)
	assert.Equal(t, string(ledgerBefore), string(ledgerAfter))

	outputAfter, err := storage.ReadAll(ctx, f.output, "CLAUDE.md")
	require.NoError(t, err)
	assert.Equal(t, string(outputBefore), string(outputAfter))

	has, err := f.output.Has(ctx, "extra.md")
	require.NoError(t, err)
	assert.False(t, has, "outputs of the failed run must be removed")
}

func TestRestoreRefusesDamagedBackup(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	seedProject(t, f)

	descriptor, err := f.manager.Snapshot(ctx, "update", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// damage one captured file and lose another
	put(t, f.backups, descriptor.ID+"/vendor/CLAUDE.md", "tampered\n")
	require.NoError(t, f.backups.Delete(ctx, descriptor.ID+"/vendor/config/settings.json"))

	put(t, f.vendor, "CLAUDE.md", "# live state\n")

	err = f.manager.Restore(ctx, descriptor.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrIncomplete))
	assert.Contains(t, err.Error(), "CLAUDE.md")
	assert.Contains(t, err.Error(), "config/settings.json")

	live, err := storage.ReadAll(ctx, f.vendor, "CLAUDE.md")
	require.NoError(t, err)
	assert.Equal(t, "# live state\n", string(live), "a failing restore must leave live state alone")
}

func TestSnapshotWithoutLedgerRestoresToUninitialized(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	put(t, f.vendor, "CLAUDE.md", "# base\n")

	descriptor, err := f.manager.Snapshot(ctx, "init", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// the failed init wrote a ledger before dying
	put(t, f.project, model.LedgerFile, `{"version": "1.0.0"}`)

	require.NoError(t, f.manager.Restore(ctx, descriptor.ID))
	has, err := f.project.Has(ctx, model.LedgerFile)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestListAndGet(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	seedProject(t, f)

	first, err := f.manager.Snapshot(ctx, "update", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	second, err := f.manager.Snapshot(ctx, "update", time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// an interrupted snapshot leaves files but no descriptor
	put(t, f.backups, "20250303T100000.000000000/vendor/partial.md", "partial\n")

	descriptors, err := f.manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, first.ID, descriptors[0].ID)
	assert.Equal(t, second.ID, descriptors[1].ID)

	got, err := f.manager.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = f.manager.Get(ctx, "20990101T000000.000000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNoSuchBackup))
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	seedProject(t, f)

	var ids []string
	for day := 1; day <= 3; day++ {
		d, err := f.manager.Snapshot(ctx, "update", time.Date(2025, 3, day, 10, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}
	put(t, f.backups, "20250204T100000.000000000/vendor/partial.md", "orphan\n")

	removed, err := f.manager.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"20250204T100000.000000000", ids[0]}, removed)

	descriptors, err := f.manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, ids[1], descriptors[0].ID)
	assert.Equal(t, ids[2], descriptors[1].ID)
}

func TestPruneKeepsAtLeastOne(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	seedProject(t, f)

	d, err := f.manager.Snapshot(ctx, "update", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	removed, err := f.manager.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)

	got, err := f.manager.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	seedProject(t, f)

	d, err := f.manager.Snapshot(ctx, "update", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, f.manager.Discard(ctx, d.ID))

	keys, err := f.backups.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	err = f.manager.Discard(ctx, d.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNoSuchBackup))
}
