// Package backup snapshots project state before mutations and restores
// it when they fail.
//
// A backup captures the vendor tree, the published outputs, the ledger
// and the output manifest. The descriptor inventorying a backup is
// written last, so a backup directory without one is by definition
// incomplete and never used for restores. Restores verify every
// captured file against its recorded fingerprint before touching any
// live state.
package backup

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/pkg/backup/status"
	"github.com/underlay-tools/underlay/pkg/dlogger"
	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/tree"
)

// Option is a functor to build a manager with some options
type Option func(*Manager)

// Logger injects a logging facility into the manager
func Logger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.l = l
	}
}

// LedgerKey overrides where the ledger lives in the project store
func LedgerKey(key string) Option {
	return func(m *Manager) {
		m.ledgerKey = key
	}
}

// ManifestKey overrides where the output manifest lives in the project store
func ManifestKey(key string) Option {
	return func(m *Manager) {
		m.manifestKey = key
	}
}

// Manager snapshots and restores project state.
type Manager struct {
	backups storage.Store
	vendor  storage.Store
	output  storage.Store
	project storage.Store

	ledgerKey   string
	manifestKey string
	l           *zap.Logger
}

// New builds a backup manager over the four state stores: the backup
// area itself, the vendor tree, the output tree and the project root
// holding ledger and manifest.
func New(backups, vendor, output, project storage.Store, opts ...Option) *Manager {
	m := &Manager{
		backups:     backups,
		vendor:      vendor,
		output:      output,
		project:     project,
		ledgerKey:   model.LedgerFile,
		manifestKey: model.DefaultLayout().ManifestFile,
		l:           dlogger.MustGetLogger(dlogger.LogLevelInfo),
	}
	for _, apply := range opts {
		apply(m)
	}
	return m
}

// Snapshot captures the current project state under a fresh backup id.
// Outputs are captured through the manifest: files the engine never
// published are not backed up and never restored over.
//
// A snapshot that cannot be completed reports ErrPartialSnapshot.
// Whatever it managed to write carries no descriptor and is swept by Prune.
func (m *Manager) Snapshot(ctx context.Context, reason string, now time.Time) (*model.BackupDescriptor, error) {
	descriptor, err := m.snapshot(ctx, reason, now)
	if err != nil {
		return nil, status.ErrPartialSnapshot.Wrap(err)
	}
	return descriptor, nil
}

func (m *Manager) snapshot(ctx context.Context, reason string, now time.Time) (*model.BackupDescriptor, error) {
	descriptor := &model.BackupDescriptor{
		ID:        model.NewBackupID(now),
		CreatedAt: now.UTC(),
		Reason:    reason,
	}

	vendorKeys, err := m.vendor.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range vendorKeys {
		entry, err := m.capture(ctx, descriptor.ID, m.vendor, key, model.SectionVendor, key)
		if err != nil {
			return nil, err
		}
		descriptor.Entries = append(descriptor.Entries, entry)
	}

	if buf, err := storage.ReadAll(ctx, m.project, m.manifestKey); err == nil {
		manifest, err := model.UnmarshalManifest(buf)
		if err != nil {
			return nil, err
		}
		for _, file := range manifest.Files {
			has, err := m.output.Has(ctx, file)
			if err != nil {
				return nil, err
			}
			if !has {
				continue
			}
			entry, err := m.capture(ctx, descriptor.ID, m.output, file, model.SectionOutput, file)
			if err != nil {
				return nil, err
			}
			descriptor.Entries = append(descriptor.Entries, entry)
		}
		entry, err := m.captureBytes(ctx, descriptor.ID, buf, model.SectionManifest, "")
		if err != nil {
			return nil, err
		}
		descriptor.Entries = append(descriptor.Entries, entry)
	} else if !storage.IsNotExists(err) {
		return nil, err
	}

	if buf, err := storage.ReadAll(ctx, m.project, m.ledgerKey); err == nil {
		if ledger, err := model.UnmarshalLedger(buf); err == nil {
			descriptor.BaseVersion = ledger.Version
		}
		entry, err := m.captureBytes(ctx, descriptor.ID, buf, model.SectionLedger, "")
		if err != nil {
			return nil, err
		}
		descriptor.Entries = append(descriptor.Entries, entry)
	} else if !storage.IsNotExists(err) {
		return nil, err
	}

	// the descriptor lands last: its presence marks the backup complete
	buf, err := model.MarshalBackupDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	key := descriptor.ID + "/" + model.DescriptorFile
	if err := m.backups.Put(ctx, key, bytes.NewReader(buf), storage.NoOverWrite); err != nil {
		return nil, err
	}

	m.l.Info("snapshot taken",
		zap.String("backup", descriptor.ID),
		zap.String("reason", reason),
		zap.Int("entries", len(descriptor.Entries)),
	)
	return descriptor, nil
}

// Get loads and validates one backup descriptor.
func (m *Manager) Get(ctx context.Context, id string) (*model.BackupDescriptor, error) {
	buf, err := storage.ReadAll(ctx, m.backups, id+"/"+model.DescriptorFile)
	if err != nil {
		if storage.IsNotExists(err) {
			return nil, status.ErrNoSuchBackup.WrapMessage("%s", id)
		}
		return nil, err
	}
	return model.UnmarshalBackupDescriptor(buf)
}

// List enumerates complete backups, oldest first.
func (m *Manager) List(ctx context.Context) ([]model.BackupDescriptor, error) {
	keys, err := m.backups.Keys(ctx)
	if err != nil {
		return nil, err
	}
	descriptors := make([]model.BackupDescriptor, 0)
	for _, key := range keys {
		if !strings.HasSuffix(key, "/"+model.DescriptorFile) {
			continue
		}
		buf, err := storage.ReadAll(ctx, m.backups, key)
		if err != nil {
			return nil, err
		}
		descriptor, err := model.UnmarshalBackupDescriptor(buf)
		if err != nil {
			m.l.Warn("skipping unreadable backup descriptor", zap.String("key", key), zap.Error(err))
			continue
		}
		descriptors = append(descriptors, *descriptor)
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].ID < descriptors[j].ID })
	return descriptors, nil
}

// Verify checks that every file a descriptor inventories is present and
// unaltered. All problems are reported at once.
func (m *Manager) Verify(ctx context.Context, descriptor *model.BackupDescriptor) error {
	var verr error
	for _, entry := range descriptor.Entries {
		key := descriptor.ID + "/" + entry.Key()
		fingerprint, size, err := tree.HashKey(ctx, m.backups, key)
		if err != nil {
			if storage.IsNotExists(err) {
				verr = multierr.Append(verr, status.ErrIncomplete.WrapMessage("%s: missing", entry.Key()))
				continue
			}
			return err
		}
		if fingerprint != entry.Fingerprint || size != entry.Size {
			verr = multierr.Append(verr, status.ErrIncomplete.WrapMessage("%s: content mismatch", entry.Key()))
		}
	}
	return verr
}

// Restore puts the project back into the exact state a backup captured.
// Verification happens first, a backup that cannot be fully restored
// leaves live state untouched.
func (m *Manager) Restore(ctx context.Context, id string) error {
	descriptor, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.Verify(ctx, descriptor); err != nil {
		return err
	}

	if err := m.vendor.Clear(ctx); err != nil {
		return err
	}
	if err := m.clearManagedOutputs(ctx); err != nil {
		return err
	}

	hasLedger, hasManifest := false, false
	for _, entry := range descriptor.Entries {
		key := descriptor.ID + "/" + entry.Key()
		r, err := m.backups.Get(ctx, key)
		if err != nil {
			return err
		}
		switch entry.Section {
		case model.SectionVendor:
			err = m.vendor.Put(ctx, entry.Path, r, storage.OverWrite)
		case model.SectionOutput:
			err = m.output.Put(ctx, entry.Path, r, storage.OverWrite)
		case model.SectionLedger:
			hasLedger = true
			err = m.project.Put(ctx, m.ledgerKey, r, storage.OverWrite)
		case model.SectionManifest:
			hasManifest = true
			err = m.project.Put(ctx, m.manifestKey, r, storage.OverWrite)
		}
		r.Close()
		if err != nil {
			return err
		}
	}

	// singletons absent from the backup were absent from the captured
	// state, remove what the failed run may have written
	if !hasLedger {
		if err := m.project.Delete(ctx, m.ledgerKey); err != nil && !storage.IsNotExists(err) {
			return err
		}
	}
	if !hasManifest {
		if err := m.project.Delete(ctx, m.manifestKey); err != nil && !storage.IsNotExists(err) {
			return err
		}
	}

	m.l.Info("restored from backup",
		zap.String("backup", id),
		zap.Int("entries", len(descriptor.Entries)),
	)
	return nil
}

// Discard removes one backup, complete or not.
func (m *Manager) Discard(ctx context.Context, id string) error {
	keys, err := m.backups.Keys(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, key := range keys {
		if !strings.HasPrefix(key, id+"/") {
			continue
		}
		found = true
		if err := m.backups.Delete(ctx, key); err != nil && !storage.IsNotExists(err) {
			return err
		}
	}
	if !found {
		return status.ErrNoSuchBackup.WrapMessage("%s", id)
	}
	return nil
}

// Prune retains the newest keep backups and removes the rest, sweeping
// leftovers of interrupted snapshots along the way.
func (m *Manager) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep == 0 {
		keep = 1
	}
	descriptors, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	complete := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		complete[d.ID] = struct{}{}
	}

	removed := make([]string, 0)

	// interrupted snapshots left no descriptor and serve no restore
	keys, err := m.backups.Keys(ctx)
	if err != nil {
		return nil, err
	}
	orphans := map[string]struct{}{}
	for _, key := range keys {
		id, _, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		if _, isComplete := complete[id]; !isComplete {
			orphans[id] = struct{}{}
		}
	}
	for id := range orphans {
		if err := m.Discard(ctx, id); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}

	if len(descriptors) >= keep+1 {
		for _, d := range descriptors[:len(descriptors)-keep] {
			if err := m.Discard(ctx, d.ID); err != nil {
				return removed, err
			}
			removed = append(removed, d.ID)
		}
	}

	sort.Strings(removed)
	if len(removed) > 0 {
		m.l.Info("pruned backups", zap.Strings("removed", removed), zap.Int("keep", keep))
	}
	return removed, nil
}

// capture copies one live file into a backup directory and returns its
// inventory entry.
func (m *Manager) capture(ctx context.Context, id string, src storage.Store, key, section, path string) (model.BackupEntry, error) {
	buf, err := storage.ReadAll(ctx, src, key)
	if err != nil {
		return model.BackupEntry{}, err
	}
	return m.captureBytes(ctx, id, buf, section, path)
}

func (m *Manager) captureBytes(ctx context.Context, id string, buf []byte, section, path string) (model.BackupEntry, error) {
	entry := model.BackupEntry{
		Section:     section,
		Path:        path,
		Fingerprint: tree.HashBytes(buf),
		Size:        int64(len(buf)),
	}
	key := id + "/" + entry.Key()
	if err := m.backups.Put(ctx, key, bytes.NewReader(buf), storage.NoOverWrite); err != nil {
		return model.BackupEntry{}, err
	}
	return entry, nil
}

// clearManagedOutputs removes the outputs the live manifest lists,
// leaving user files in the output directory alone.
func (m *Manager) clearManagedOutputs(ctx context.Context) error {
	buf, err := storage.ReadAll(ctx, m.project, m.manifestKey)
	if err != nil {
		if storage.IsNotExists(err) {
			return nil
		}
		return err
	}
	manifest, err := model.UnmarshalManifest(buf)
	if err != nil {
		// a manifest the failed run corrupted must not block the restore
		m.l.Warn("ignoring unreadable manifest during restore", zap.Error(err))
		return nil
	}
	for _, file := range manifest.Files {
		if err := m.output.Delete(ctx, file); err != nil && !storage.IsNotExists(err) {
			return err
		}
	}
	return nil
}
