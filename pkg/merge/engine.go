package merge

import (
	"bytes"
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/pkg/dlogger"
	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/tree"
)

const (
	// OriginBase marks output taken from the vendor tree untouched
	OriginBase = iota
	// OriginOverlay marks output taken from the overlay untouched
	OriginOverlay
	// OriginMerged marks output computed from both inputs
	OriginMerged
)

// Origin qualifies where the content of a planned file came from
type Origin uint

func (o Origin) String() string {
	originStrings := map[Origin]string{
		OriginBase:    "base",
		OriginOverlay: "overlay",
		OriginMerged:  "merged",
	}
	return originStrings[o]
}

// PlannedFile is one output file the engine intends to publish.
type PlannedFile struct {
	Path     string
	Strategy Strategy
	Origin   Origin
	Content  []byte
}

// Plan is the full set of outputs computed from a (vendor, overlay)
// input pair. Planning never touches any store.
type Plan struct {
	// Files is ordered by path
	Files []PlannedFile
	// Fingerprint identifies the input pair the plan was computed from
	Fingerprint string
}

// Paths lists the planned output paths in order.
func (p *Plan) Paths() []string {
	paths := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// File looks up a planned file by path.
func (p *Plan) File(path string) (PlannedFile, bool) {
	i := sort.Search(len(p.Files), func(i int) bool { return p.Files[i].Path >= path })
	if i < len(p.Files) && p.Files[i].Path == path {
		return p.Files[i], true
	}
	return PlannedFile{}, false
}

// EngineOption is a functor to build an engine with some options
type EngineOption func(*Engine)

// Logger injects a logging facility into the engine
func Logger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.l = l
	}
}

// Engine merges vendor and overlay trees into output plans.
type Engine struct {
	l *zap.Logger
}

// New builds a merge engine.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		l: dlogger.MustGetLogger(dlogger.LogLevelInfo),
	}
	for _, apply := range opts {
		apply(e)
	}
	return e
}

// Plan computes the merged output set for a vendor tree and an overlay
// tree. Overlay files replace, deep merge or splice into their vendor
// counterparts depending on strategy, files present on one side only
// pass through.
func (e *Engine) Plan(ctx context.Context, vendor, overlay storage.Store) (*Plan, error) {
	vendorEntries, err := tree.List(ctx, vendor)
	if err != nil {
		return nil, err
	}
	overlayEntries, err := tree.List(ctx, overlay)
	if err != nil {
		return nil, err
	}
	overlayByPath := make(map[string]model.TreeEntry, len(overlayEntries))
	for _, entry := range overlayEntries {
		overlayByPath[entry.Path] = entry
	}
	vendorByPath := make(map[string]model.TreeEntry, len(vendorEntries))
	for _, entry := range vendorEntries {
		vendorByPath[entry.Path] = entry
	}

	paths := make([]string, 0, len(vendorEntries)+len(overlayEntries))
	for _, entry := range vendorEntries {
		paths = append(paths, entry.Path)
	}
	for _, entry := range overlayEntries {
		if _, both := vendorByPath[entry.Path]; !both {
			paths = append(paths, entry.Path)
		}
	}
	sort.Strings(paths)

	plan := &Plan{
		Files: make([]PlannedFile, 0, len(paths)),
		Fingerprint: tree.HashBytes([]byte(
			tree.FingerprintEntries(vendorEntries) + "\n" + tree.FingerprintEntries(overlayEntries))),
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		planned, err := e.planFile(ctx, p, vendor, overlay, vendorByPath, overlayByPath)
		if err != nil {
			return nil, err
		}
		e.l.Debug("planned output",
			zap.String("path", planned.Path),
			zap.String("strategy", planned.Strategy.String()),
			zap.String("origin", planned.Origin.String()),
		)
		plan.Files = append(plan.Files, planned)
	}
	e.l.Info("merge planned",
		zap.Int("vendor_files", len(vendorEntries)),
		zap.Int("overlay_files", len(overlayEntries)),
		zap.Int("outputs", len(plan.Files)),
	)
	return plan, nil
}

func (e *Engine) planFile(
	ctx context.Context,
	p string,
	vendor, overlay storage.Store,
	vendorByPath, overlayByPath map[string]model.TreeEntry,
) (PlannedFile, error) {
	_, inVendor := vendorByPath[p]
	_, inOverlay := overlayByPath[p]
	strategy := ForPath(p)

	switch {
	case inVendor && !inOverlay:
		content, err := storage.ReadAll(ctx, vendor, p)
		if err != nil {
			return PlannedFile{}, err
		}
		return PlannedFile{Path: p, Strategy: strategy, Origin: OriginBase, Content: content}, nil

	case !inVendor && inOverlay:
		content, err := storage.ReadAll(ctx, overlay, p)
		if err != nil {
			return PlannedFile{}, err
		}
		return PlannedFile{Path: p, Strategy: strategy, Origin: OriginOverlay, Content: content}, nil
	}

	base, err := storage.ReadAll(ctx, vendor, p)
	if err != nil {
		return PlannedFile{}, err
	}
	over, err := storage.ReadAll(ctx, overlay, p)
	if err != nil {
		return PlannedFile{}, err
	}

	switch strategy {
	case StrategyStructured:
		content, err := mergeStructured(p, base, over, formatForPath(p))
		if err != nil {
			return PlannedFile{}, err
		}
		return PlannedFile{Path: p, Strategy: strategy, Origin: OriginMerged, Content: content}, nil
	case StrategySections:
		content, err := spliceSections(p, base, over)
		if err != nil {
			return PlannedFile{}, err
		}
		origin := Origin(OriginMerged)
		if bytes.Equal(content, over) {
			origin = OriginOverlay
		}
		return PlannedFile{Path: p, Strategy: strategy, Origin: origin, Content: content}, nil
	default:
		return PlannedFile{Path: p, Strategy: strategy, Origin: OriginOverlay, Content: over}, nil
	}
}

// Apply publishes a plan to the output store and removes files the
// previous manifest listed that the plan no longer produces. Each file
// is written atomically, files outside the manifest are never touched.
func (e *Engine) Apply(
	ctx context.Context,
	plan *Plan,
	output storage.Store,
	previous *model.OutputManifest,
	now time.Time,
) (*model.OutputManifest, error) {
	for _, f := range plan.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := output.Put(ctx, f.Path, bytes.NewReader(f.Content), storage.OverWrite); err != nil {
			return nil, err
		}
	}
	next := model.NewOutputManifest(plan.Paths(), plan.Fingerprint, now)
	if previous != nil {
		for _, stale := range previous.Files {
			if next.Has(stale) {
				continue
			}
			if err := output.Delete(ctx, stale); err != nil && !storage.IsNotExists(err) {
				return nil, err
			}
			e.l.Debug("removed stale output", zap.String("path", stale))
		}
	}
	e.l.Info("merge published",
		zap.Int("outputs", len(plan.Files)),
		zap.String("fingerprint", plan.Fingerprint),
	)
	return next, nil
}
