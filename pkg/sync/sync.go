// Package sync orchestrates the synchronization protocol between an
// upstream base layer and a consuming project.
//
// The controller owns the lifecycle of the four project trees (vendor,
// overlay, output, project root) and drives fetchers, the merge engine
// and the backup manager through the init, check, update, build and
// publish operations. It holds no ambient state: every collaborator is
// injected, every operation is explicit about what it mutates.
//
// Mutating operations follow a fixed stage order and snapshot project
// state before the first write. A failure once mutation has begun
// restores the snapshot, so an operation either commits fully or leaves
// the project as it found it.
package sync

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/pkg/backup"
	"github.com/underlay-tools/underlay/pkg/dlogger"
	"github.com/underlay-tools/underlay/pkg/errors"
	"github.com/underlay-tools/underlay/pkg/merge"
	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/sync/status"
	"github.com/underlay-tools/underlay/pkg/upstream"
	upstreamstatus "github.com/underlay-tools/underlay/pkg/upstream/status"
)

const (
	// DefaultChannel is the upstream channel used when none is configured
	DefaultChannel = "main"

	// DefaultKeepBackups is how many backups survive pruning after a
	// successful mutation
	DefaultKeepBackups = 5
)

// Stage names one step of the synchronization protocol. Errors surfaced
// by the controller are labeled with the stage they interrupted.
type Stage string

const (
	// StageRequirements checks external tooling before anything else runs
	StageRequirements Stage = "requirements"
	// StageLedger reads or refuses to overwrite the version ledger
	StageLedger Stage = "ledger"
	// StageCompare resolves the upstream head and classifies the project
	StageCompare Stage = "compare"
	// StageDrift verifies the vendor tree is unmodified
	StageDrift Stage = "drift"
	// StageBackup snapshots state before the first mutation
	StageBackup Stage = "backup"
	// StageFetch materializes the upstream tree into staging
	StageFetch Stage = "fetch"
	// StageApply swaps the fetched tree into the vendor root
	StageApply Stage = "apply"
	// StageMerge plans the merged output
	StageMerge Stage = "merge"
	// StagePublish writes merged output and its manifest
	StagePublish Stage = "publish"
	// StageCommit persists the advanced ledger
	StageCommit Stage = "commit"
)

func (s Stage) fail(err error) error {
	return errors.New(fmt.Sprintf("stage %q", string(s))).Wrap(err)
}

// CleanupFunc tears down a staging slot and everything in it.
type CleanupFunc func() error

// StagingFactory allocates an empty scratch store for one fetch.
type StagingFactory func(slot string) (storage.Store, CleanupFunc, error)

// Option is a functor to build a controller with some options
type Option func(*Controller)

// Logger injects a logging facility into the controller
func Logger(l *zap.Logger) Option {
	return func(c *Controller) {
		c.l = l
	}
}

// Clock overrides the time source, mostly for tests
func Clock(now func() time.Time) Option {
	return func(c *Controller) {
		c.clock = now
	}
}

// ProjectStore sets the store holding the ledger and the manifest
func ProjectStore(s storage.Store) Option {
	return func(c *Controller) {
		c.project = s
	}
}

// VendorStore sets the store holding the vendored base tree
func VendorStore(s storage.Store) Option {
	return func(c *Controller) {
		c.vendor = s
	}
}

// OverlayStore sets the store holding project customizations
func OverlayStore(s storage.Store) Option {
	return func(c *Controller) {
		c.overlay = s
	}
}

// OutputStore sets the store merged results are published to
func OutputStore(s storage.Store) Option {
	return func(c *Controller) {
		c.output = s
	}
}

// Upstream sets the fetcher snapshots are pulled from
func Upstream(f upstream.Fetcher) Option {
	return func(c *Controller) {
		c.fetcher = f
	}
}

// Backups sets the manager used to snapshot and restore project state
func Backups(m *backup.Manager) Option {
	return func(c *Controller) {
		c.backups = m
	}
}

// Engine overrides the merge engine
func Engine(e *merge.Engine) Option {
	return func(c *Controller) {
		c.engine = e
	}
}

// Staging sets the factory allocating scratch stores for fetches
func Staging(f StagingFactory) Option {
	return func(c *Controller) {
		c.staging = f
	}
}

// Subtree provides scoped read access into the project tree. Publish
// uses it to open its configured source directories.
func Subtree(f func(dir string) storage.Store) Option {
	return func(c *Controller) {
		c.subtree = f
	}
}

// Layout sets the project layout, used to point operators at paths
func Layout(l model.Layout) Option {
	return func(c *Controller) {
		c.layout = l
	}
}

// LedgerPath overrides where the ledger lives in the project store
func LedgerPath(key string) Option {
	return func(c *Controller) {
		c.ledgerKey = key
	}
}

// ManifestPath overrides where the output manifest lives in the project store
func ManifestPath(key string) Option {
	return func(c *Controller) {
		c.manifestKey = key
	}
}

// RetainBackups keeps the pre-operation backup after a successful
// mutation instead of discarding it
func RetainBackups(retain bool) Option {
	return func(c *Controller) {
		c.retain = retain
	}
}

// KeepBackups bounds how many retained backups survive pruning
func KeepBackups(keep int) Option {
	return func(c *Controller) {
		c.keep = keep
	}
}

// Controller drives the synchronization protocol over injected stores
// and collaborators.
type Controller struct {
	layout  model.Layout
	project storage.Store
	vendor  storage.Store
	overlay storage.Store
	output  storage.Store

	fetcher upstream.Fetcher
	backups *backup.Manager
	engine  *merge.Engine
	staging StagingFactory
	subtree func(dir string) storage.Store

	ledgerKey   string
	manifestKey string
	retain      bool
	keep        int
	clock       func() time.Time
	l           *zap.Logger
}

// New builds a controller. Stores and collaborators are wired through
// options, operations report what they are missing when invoked.
func New(opts ...Option) *Controller {
	c := &Controller{
		layout:      model.DefaultLayout(),
		ledgerKey:   model.LedgerFile,
		manifestKey: model.DefaultLayout().ManifestFile,
		retain:      true,
		keep:        DefaultKeepBackups,
		clock:       time.Now,
		l:           dlogger.MustGetLogger(dlogger.LogLevelInfo),
	}
	for _, apply := range opts {
		apply(c)
	}
	if c.engine == nil {
		c.engine = merge.New(merge.Logger(c.l))
	}
	return c
}

// requireUpstream guards operations that cannot run without a fetcher.
func (c *Controller) requireUpstream(ctx context.Context) error {
	if c.fetcher == nil {
		return upstreamstatus.ErrRequirementMissing.WrapMessage("no upstream source configured")
	}
	return c.fetcher.Requirements(ctx)
}

func (c *Controller) hasLedger(ctx context.Context) (bool, error) {
	return c.project.Has(ctx, c.ledgerKey)
}

func (c *Controller) readLedger(ctx context.Context) (*model.Ledger, error) {
	buf, err := storage.ReadAll(ctx, c.project, c.ledgerKey)
	if err != nil {
		if storage.IsNotExists(err) {
			return nil, status.ErrNotInitialized.WrapMessage("no %s found", c.ledgerKey)
		}
		return nil, err
	}
	return model.UnmarshalLedger(buf)
}

func (c *Controller) writeLedger(ctx context.Context, l *model.Ledger) error {
	buf, err := model.MarshalLedger(l)
	if err != nil {
		return err
	}
	return c.project.Put(ctx, c.ledgerKey, bytes.NewReader(buf), storage.OverWrite)
}

// readManifest returns nil when no merge has published yet.
func (c *Controller) readManifest(ctx context.Context) (*model.OutputManifest, error) {
	buf, err := storage.ReadAll(ctx, c.project, c.manifestKey)
	if err != nil {
		if storage.IsNotExists(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.UnmarshalManifest(buf)
}

func (c *Controller) writeManifest(ctx context.Context, m *model.OutputManifest) error {
	buf, err := model.MarshalManifest(m)
	if err != nil {
		return err
	}
	return c.project.Put(ctx, c.manifestKey, bytes.NewReader(buf), storage.OverWrite)
}

// regenerate plans and publishes the merged output, then records the
// manifest. Errors come back stage labeled.
func (c *Controller) regenerate(ctx context.Context) (*model.OutputManifest, error) {
	plan, err := c.engine.Plan(ctx, c.vendor, c.overlay)
	if err != nil {
		return nil, StageMerge.fail(err)
	}
	previous, err := c.readManifest(ctx)
	if err != nil {
		return nil, StagePublish.fail(err)
	}
	manifest, err := c.engine.Apply(ctx, plan, c.output, previous, c.clock())
	if err != nil {
		return nil, StagePublish.fail(err)
	}
	if err := c.writeManifest(ctx, manifest); err != nil {
		return nil, StagePublish.fail(err)
	}
	return manifest, nil
}

// stage allocates a scratch store for one fetch.
func (c *Controller) stage(ctx context.Context) (storage.Store, CleanupFunc, error) {
	if c.staging == nil {
		return nil, nil, errors.New("no staging area configured")
	}
	return c.staging(ksuid.New().String())
}

// rollback restores the pre-operation snapshot after a failed mutation.
// The returned error carries the cause, whether the restore worked, and
// which backup was involved.
func (c *Controller) rollback(ctx context.Context, id string, cause error) error {
	if err := c.backups.Restore(ctx, id); err != nil {
		c.l.Error("rollback failed, state must be inspected by hand",
			zap.String("backup", id),
			zap.String("backup_dir", c.layout.BackupDir(id)),
			zap.Error(err),
		)
		return multierr.Append(cause, status.ErrRollbackFailed.Wrap(err))
	}
	c.l.Warn("state restored from backup",
		zap.String("backup", id),
		zap.String("backup_dir", c.layout.BackupDir(id)),
		zap.Error(cause),
	)
	return status.ErrRolledBack.Wrap(fmt.Errorf("backup %s: %w", id, cause))
}

// abandonBackup discards a snapshot nothing was mutated after.
func (c *Controller) abandonBackup(ctx context.Context, id string) {
	if err := c.backups.Discard(ctx, id); err != nil {
		c.l.Warn("could not discard unused backup", zap.String("backup", id), zap.Error(err))
	}
}

// finishBackup applies the retention policy after a successful mutation.
func (c *Controller) finishBackup(ctx context.Context, id string) {
	if !c.retain {
		c.abandonBackup(ctx, id)
		return
	}
	if _, err := c.backups.Prune(ctx, c.keep); err != nil {
		c.l.Warn("could not prune backups", zap.Error(err))
	}
}
