package model

import "sort"

const (
	// DiffEntryTypeAdd indicates the new tree exhibits an extra entry
	DiffEntryTypeAdd = iota
	// DiffEntryTypeDel indicates the new tree exhibits a missing entry
	DiffEntryTypeDel
	// DiffEntryTypeMod indicates the trees exhibit different content for an entry
	DiffEntryTypeMod
)

// DiffEntryType qualifies the type of difference between two trees
type DiffEntryType uint

func (det DiffEntryType) String() string {
	diffEntryStrings := map[DiffEntryType]string{
		DiffEntryTypeAdd: "A",
		DiffEntryTypeDel: "D",
		DiffEntryTypeMod: "M",
	}
	return diffEntryStrings[det]
}

// TreeEntry identifies one file in a tree by path and content.
type TreeEntry struct {
	Path        string `yaml:"path" json:"path"`
	Fingerprint string `yaml:"fingerprint" json:"fingerprint"`
	Size        int64  `yaml:"size" json:"size"`

	_ struct{}
}

// DiffEntry describes a single point of difference between two trees
type DiffEntry struct {
	Type DiffEntryType
	Path string
	// Existing is the entry in the old tree, zero for additions
	Existing TreeEntry
	// Additional is the entry in the new tree, zero for deletions
	Additional TreeEntry
}

// TreeDiff describes all differences between two trees, ordered by path.
type TreeDiff struct {
	Entries []DiffEntry
}

// Sort orders entries by path so reports and logs are stable.
func (d *TreeDiff) Sort() {
	sort.Slice(d.Entries, func(i, j int) bool {
		return d.Entries[i].Path < d.Entries[j].Path
	})
}

// IsEmpty reports whether the trees were identical.
func (d TreeDiff) IsEmpty() bool {
	return len(d.Entries) == 0
}

// Summary counts entries per difference type.
func (d TreeDiff) Summary() (added, deleted, modified int) {
	for _, e := range d.Entries {
		switch e.Type {
		case DiffEntryTypeAdd:
			added++
		case DiffEntryTypeDel:
			deleted++
		case DiffEntryTypeMod:
			modified++
		}
	}
	return
}
