package model

import (
	"path"
	"strings"
)

// Well known locations inside a project, relative to the project root.
// All paths are slash separated regardless of platform.
const (
	// StateDir holds every piece of managed state except the ledger
	StateDir = ".underlay"
	// LedgerFile sits at the project root so it is visible in review diffs
	LedgerFile = ".underlay-version"
)

// Layout names the directories a synchronized project is built from.
// The zero value is not usable, construct one with DefaultLayout.
type Layout struct {
	// VendorDir holds the pristine upstream tree. Never hand edited.
	VendorDir string
	// OverlayDir holds project-owned customizations layered over vendor
	OverlayDir string
	// OutputDir receives merged results. May be the project root itself.
	OutputDir string
	// BackupsDir holds state snapshots taken before mutations
	BackupsDir string
	// StagingDir holds partially fetched trees before they are swapped in
	StagingDir string
	// ManifestFile records which output files the last merge produced
	ManifestFile string
	// LockFile guards the state dir against concurrent runs
	LockFile string

	_ struct{}
}

// DefaultLayout returns the standard project layout.
func DefaultLayout() Layout {
	return Layout{
		VendorDir:    path.Join(StateDir, "vendor"),
		OverlayDir:   path.Join(StateDir, "overlay"),
		OutputDir:    path.Join(StateDir, "dist"),
		BackupsDir:   path.Join(StateDir, "backups"),
		StagingDir:   path.Join(StateDir, "staging"),
		ManifestFile: path.Join(StateDir, "manifest.yaml"),
		LockFile:     path.Join(StateDir, "lock"),
	}
}

// WithOutput returns a copy of the layout publishing merged files to dir.
// An empty dir keeps the current output directory.
func (l Layout) WithOutput(dir string) Layout {
	if dir == "" {
		return l
	}
	l.OutputDir = path.Clean(strings.TrimSuffix(dir, "/"))
	return l
}

// Validate rejects layouts whose output directory would collide with
// managed state. Publishing into vendor, overlay, backups or staging would
// let a merge overwrite its own inputs.
func (l Layout) Validate() error {
	if l.VendorDir == "" || l.OverlayDir == "" || l.OutputDir == "" {
		return ErrInvalidLayout.WrapMessage("vendor, overlay and output directories must all be set")
	}
	for _, managed := range []string{l.VendorDir, l.OverlayDir, l.BackupsDir, l.StagingDir} {
		if managed == "" {
			continue
		}
		if l.OutputDir == managed || strings.HasPrefix(l.OutputDir+"/", managed+"/") {
			return ErrInvalidLayout.WrapMessage("output directory %q is inside managed tree %q", l.OutputDir, managed)
		}
	}
	return nil
}

// BackupDir returns the directory of a single backup, relative to the
// project root.
func (l Layout) BackupDir(id string) string {
	return path.Join(l.BackupsDir, id)
}

// StagingSlot returns the directory of a single staging area, relative to
// the project root.
func (l Layout) StagingSlot(id string) string {
	return path.Join(l.StagingDir, id)
}
