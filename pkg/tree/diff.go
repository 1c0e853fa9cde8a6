package tree

import (
	"context"

	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
)

// Diff compares two stores and reports additions, deletions and
// modifications from the perspective of the new tree.
func Diff(ctx context.Context, existing, additional storage.Store) (model.TreeDiff, error) {
	existingEntries, err := List(ctx, existing)
	if err != nil {
		return model.TreeDiff{}, err
	}
	additionalEntries, err := List(ctx, additional)
	if err != nil {
		return model.TreeDiff{}, err
	}
	return DiffEntries(existingEntries, additionalEntries), nil
}

// DiffEntries compares two entry listings.
func DiffEntries(existing, additional []model.TreeEntry) model.TreeDiff {
	diffEntries := make([]model.DiffEntry, 0)
	existingByPath := make(map[string]model.TreeEntry, len(existing))
	for _, entry := range existing {
		existingByPath[entry.Path] = entry
	}
	additionalByPath := make(map[string]model.TreeEntry, len(additional))
	for _, entry := range additional {
		additionalByPath[entry.Path] = entry
	}

	for path, entryExisting := range existingByPath {
		entryAdditional, ok := additionalByPath[path]
		if ok {
			if entryAdditional.Fingerprint != entryExisting.Fingerprint {
				diffEntries = append(diffEntries, model.DiffEntry{
					Type:       model.DiffEntryTypeMod,
					Path:       path,
					Existing:   entryExisting,
					Additional: entryAdditional,
				})
			}
		} else {
			diffEntries = append(diffEntries, model.DiffEntry{
				Type:     model.DiffEntryTypeDel,
				Path:     path,
				Existing: entryExisting,
			})
		}
	}
	for path, entryAdditional := range additionalByPath {
		if _, ok := existingByPath[path]; !ok {
			diffEntries = append(diffEntries, model.DiffEntry{
				Type:       model.DiffEntryTypeAdd,
				Path:       path,
				Additional: entryAdditional,
			})
		}
	}

	diff := model.TreeDiff{Entries: diffEntries}
	diff.Sort()
	return diff
}
