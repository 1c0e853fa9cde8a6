package underlay

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/internal/lock"
	"github.com/underlay-tools/underlay/pkg/backup"
	"github.com/underlay-tools/underlay/pkg/dlogger"
	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/storage/localfs"
	"github.com/underlay-tools/underlay/pkg/sync"
	syncstatus "github.com/underlay-tools/underlay/pkg/sync/status"
	"github.com/underlay-tools/underlay/pkg/tree"
	"github.com/underlay-tools/underlay/pkg/upstream"
	"github.com/underlay-tools/underlay/pkg/upstream/gitcli"
	"github.com/underlay-tools/underlay/pkg/upstream/localdir"
)

// Option is a functor to build a project runtime with some options
type Option func(*Project)

// Source sets the upstream location snapshots are pulled from. When no
// source is given the location recorded in the ledger is used.
func Source(location string) Option {
	return func(p *Project) {
		p.source = location
	}
}

// Output overrides where merged results are published, relative to the
// project root. Defaults to the dist directory under the state dir.
func Output(dir string) Option {
	return func(p *Project) {
		p.outputDir = dir
	}
}

// LogLevel sets the verbosity of the default logger
func LogLevel(level string) Option {
	return func(p *Project) {
		p.level = level
	}
}

// Logger injects a logging facility, overriding LogLevel
func Logger(l *zap.Logger) Option {
	return func(p *Project) {
		p.l = l
	}
}

// Fs overrides the filesystem the project lives on, mostly for tests
func Fs(fs afero.Fs) Option {
	return func(p *Project) {
		p.fs = fs
	}
}

// Upstream overrides the fetcher instead of deriving one from the
// source location
func Upstream(f upstream.Fetcher) Option {
	return func(p *Project) {
		p.fetcher = f
	}
}

// RetainBackups keeps pre-operation backups after successful runs
func RetainBackups(retain bool) Option {
	return func(p *Project) {
		p.retain = retain
	}
}

// KeepBackups bounds how many retained backups survive pruning
func KeepBackups(keep int) Option {
	return func(p *Project) {
		p.keep = keep
	}
}

// Clock overrides the time source, mostly for tests
func Clock(now func() time.Time) Option {
	return func(p *Project) {
		p.clock = now
	}
}

// Project is a single synchronized project rooted at a directory on
// disk. It composes the stores, fetcher, backup manager and controller
// the operations run on.
type Project struct {
	root      string
	layout    model.Layout
	fs        afero.Fs
	level     string
	source    string
	outputDir string
	retain    bool
	keep      int
	clock     func() time.Time
	l         *zap.Logger

	fetcher upstream.Fetcher
	project storage.Store
	vendor  storage.Store
	ctrl    *sync.Controller
	backups *backup.Manager
}

// New initializes a project runtime rooted at dir. The directory does
// not need to be initialized yet, operations that require a ledger
// report it themselves.
func New(dir string, opts ...Option) (*Project, error) {
	p := &Project{
		root:   dir,
		layout: model.DefaultLayout(),
		fs:     afero.NewOsFs(),
		level:  dlogger.LogLevelInfo,
		retain: true,
		keep:   sync.DefaultKeepBackups,
		clock:  time.Now,
	}
	for _, apply := range opts {
		apply(p)
	}
	if p.root == "" {
		p.root = "."
	}
	if !filepath.IsAbs(p.root) {
		abs, err := filepath.Abs(p.root)
		if err != nil {
			return nil, err
		}
		p.root = abs
	}
	if p.l == nil {
		p.l = dlogger.MustGetLogger(p.level)
	}
	p.layout = p.layout.WithOutput(p.outputDir)
	if err := p.layout.Validate(); err != nil {
		return nil, err
	}

	p.project = localfs.New(afero.NewBasePathFs(p.fs, p.root))
	p.vendor = localfs.New(p.dir(p.layout.VendorDir))
	overlay := localfs.New(p.dir(p.layout.OverlayDir))
	output := localfs.New(p.dir(p.layout.OutputDir))
	backups := localfs.New(p.dir(p.layout.BackupsDir))

	p.backups = backup.New(backups, p.vendor, output, p.project,
		backup.Logger(p.l),
		backup.ManifestKey(p.layout.ManifestFile),
	)

	if p.fetcher == nil {
		if p.source == "" {
			p.source = p.recordedSource()
		}
		if p.source != "" {
			p.fetcher = p.newFetcher(p.source)
		}
	}

	p.ctrl = sync.New(
		sync.Logger(p.l),
		sync.Clock(p.clock),
		sync.Layout(p.layout),
		sync.ProjectStore(p.project),
		sync.VendorStore(p.vendor),
		sync.OverlayStore(overlay),
		sync.OutputStore(output),
		sync.Upstream(p.fetcher),
		sync.Backups(p.backups),
		sync.Staging(p.stagingFactory()),
		sync.Subtree(p.subtree),
		sync.ManifestPath(p.layout.ManifestFile),
		sync.RetainBackups(p.retain),
		sync.KeepBackups(p.keep),
	)
	return p, nil
}

// Root returns the absolute project root directory.
func (p *Project) Root() string {
	return p.root
}

// Layout returns the directory layout the project runs on.
func (p *Project) Layout() model.Layout {
	return p.layout
}

// AbsPath resolves a slash separated project relative path against the
// project root.
func (p *Project) AbsPath(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

// Init vendors the upstream base layer and produces the first merged
// output.
func (p *Project) Init(ctx context.Context, opts sync.InitOptions) (*model.Ledger, error) {
	held, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release(held)
	return p.ctrl.Init(ctx, opts)
}

// Check reports where the project stands relative to its upstream
// without mutating anything.
func (p *Project) Check(ctx context.Context) (*sync.CheckResult, error) {
	return p.ctrl.Check(ctx)
}

// Update advances the vendor tree to the upstream head and republishes
// the merged output. Dry runs hold the lock too, they write staging
// state below the state dir.
func (p *Project) Update(ctx context.Context, opts sync.UpdateOptions) (*sync.UpdateResult, error) {
	held, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release(held)
	return p.ctrl.Update(ctx, opts)
}

// Build regenerates the merged output from the local vendor and overlay
// trees.
func (p *Project) Build(ctx context.Context) (*model.OutputManifest, error) {
	held, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release(held)
	return p.ctrl.Build(ctx)
}

// Publish mirrors configured project directories into the vendor tree.
func (p *Project) Publish(ctx context.Context, opts sync.PublishOptions) (*sync.PublishResult, error) {
	held, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release(held)
	return p.ctrl.Publish(ctx, opts)
}

// Ledger reads the project ledger without contacting the upstream.
func (p *Project) Ledger(ctx context.Context) (*model.Ledger, error) {
	buf, err := storage.ReadAll(ctx, p.project, model.LedgerFile)
	if err != nil {
		if storage.IsNotExists(err) {
			return nil, syncstatus.ErrNotInitialized.WrapMessage("no %s found", model.LedgerFile)
		}
		return nil, err
	}
	return model.UnmarshalLedger(buf)
}

// Backups lists available snapshots, oldest first.
func (p *Project) Backups(ctx context.Context) ([]model.BackupDescriptor, error) {
	return p.backups.List(ctx)
}

// RestoreBackup rolls project state back to a snapshot.
func (p *Project) RestoreBackup(ctx context.Context, id string) error {
	held, err := p.acquire()
	if err != nil {
		return err
	}
	defer p.release(held)
	return p.backups.Restore(ctx, id)
}

// PruneBackups removes all but the keep most recent complete backups
// and reports what it removed.
func (p *Project) PruneBackups(ctx context.Context, keep int) ([]string, error) {
	held, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release(held)
	return p.backups.Prune(ctx, keep)
}

// Info reports locally recorded project state without contacting the
// upstream.
type Info struct {
	Ledger   *model.Ledger
	Manifest *model.OutputManifest
	// VendorFiles and VendorBytes size the vendored base tree
	VendorFiles int
	VendorBytes int64
	Backups     []model.BackupDescriptor

	_ struct{}
}

// Info collects the ledger, output manifest, vendor tree size and backup
// inventory of an initialized project.
func (p *Project) Info(ctx context.Context) (*Info, error) {
	ledger, err := p.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{Ledger: ledger}

	entries, err := tree.List(ctx, p.vendor)
	if err != nil {
		return nil, err
	}
	info.VendorFiles = len(entries)
	for _, entry := range entries {
		info.VendorBytes += entry.Size
	}

	buf, err := storage.ReadAll(ctx, p.project, p.layout.ManifestFile)
	switch {
	case err == nil:
		manifest, merr := model.UnmarshalManifest(buf)
		if merr != nil {
			return nil, merr
		}
		info.Manifest = manifest
	case !storage.IsNotExists(err):
		return nil, err
	}

	info.Backups, err = p.backups.List(ctx)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// dir scopes the project filesystem to one directory below the root.
func (p *Project) dir(rel string) afero.Fs {
	return afero.NewBasePathFs(p.fs, filepath.Join(p.root, filepath.FromSlash(rel)))
}

// subtree gives publish read access to one directory below the project
// root. The path is confined so pair configuration cannot escape it.
func (p *Project) subtree(dir string) storage.Store {
	clean := path.Clean("/" + dir)[1:]
	return localfs.New(p.dir(clean))
}

// stagingFactory allocates scratch directories below the state dir and
// tears them down when a fetch is done with them.
func (p *Project) stagingFactory() sync.StagingFactory {
	return func(slot string) (storage.Store, sync.CleanupFunc, error) {
		dir := p.AbsPath(p.layout.StagingSlot(slot))
		if err := p.fs.MkdirAll(dir, 0700); err != nil {
			return nil, nil, err
		}
		cleanup := func() error {
			return p.fs.RemoveAll(dir)
		}
		return localfs.New(afero.NewBasePathFs(p.fs, dir)), cleanup, nil
	}
}

// recordedSource reads the upstream location an earlier init wrote to
// the ledger. Uninitialized or unreadable projects have none.
func (p *Project) recordedSource() string {
	buf, err := storage.ReadAll(context.Background(), p.project, model.LedgerFile)
	if err != nil {
		return ""
	}
	ledger, err := model.UnmarshalLedger(buf)
	if err != nil {
		return ""
	}
	return ledger.SourceLocation
}

// newFetcher picks the fetcher implementation matching the source shape.
func (p *Project) newFetcher(location string) upstream.Fetcher {
	if gitSource(location) {
		return gitcli.New(location, gitcli.Logger(p.l))
	}
	return localdir.New(location, localdir.Logger(p.l), localdir.WithFs(p.fs))
}

// gitSource reports whether location names a git remote rather than a
// plain directory tree.
func gitSource(location string) bool {
	for _, scheme := range []string{"http://", "https://", "ssh://", "git://", "file://"} {
		if strings.HasPrefix(location, scheme) {
			return true
		}
	}
	if strings.HasPrefix(location, "git@") {
		return true
	}
	return strings.HasSuffix(strings.TrimSuffix(location, "/"), ".git")
}

func (p *Project) acquire() (*lock.Lock, error) {
	return lock.Acquire(p.fs, p.AbsPath(p.layout.LockFile))
}

func (p *Project) release(held *lock.Lock) {
	if err := held.Release(); err != nil {
		p.l.Warn("could not release project lock",
			zap.String("path", held.Path()),
			zap.Error(err),
		)
	}
}
