package model

import (
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

// backupIDLayout is a fixed width UTC timestamp, so identifiers sort
// chronologically as plain strings.
const backupIDLayout = "20060102T150405.000000000"

// DescriptorFile is the name of the descriptor inside a backup directory.
// It is written last: a backup without a descriptor is incomplete and is
// never restored from.
const DescriptorFile = "backup.yaml"

// Sections of project state a backup entry may belong to.
const (
	SectionVendor   = "vendor"
	SectionOutput   = "output"
	SectionLedger   = "ledger"
	SectionManifest = "manifest"
)

// NewBackupID derives a backup identifier from a point in time.
func NewBackupID(t time.Time) string {
	return t.UTC().Format(backupIDLayout)
}

// ParseBackupID recovers the creation time encoded in a backup identifier.
func ParseBackupID(id string) (time.Time, error) {
	t, err := time.Parse(backupIDLayout, id)
	if err != nil {
		return time.Time{}, ErrMalformedBackupDescriptor.WrapMessage("invalid backup id %q", id)
	}
	return t, nil
}

// BackupEntry describes one file captured in a backup.
type BackupEntry struct {
	// Section names the part of project state the file belongs to
	Section string `yaml:"section" json:"section"`
	// Path locates the file within its section. Empty for singleton
	// sections such as the ledger.
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
	Fingerprint string `yaml:"fingerprint" json:"fingerprint"`
	Size        int64  `yaml:"size" json:"size"`

	_ struct{}
}

// Key returns the storage key of the entry inside the backup directory.
func (e BackupEntry) Key() string {
	switch e.Section {
	case SectionLedger:
		return "ledger"
	case SectionManifest:
		return "manifest.yaml"
	default:
		return path.Join(e.Section, e.Path)
	}
}

// BackupDescriptor inventories one backup. Its presence marks the backup
// complete, and its fingerprints let a restore verify every captured file
// before any live state is touched.
type BackupDescriptor struct {
	ID        string    `yaml:"id" json:"id"`
	CreatedAt time.Time `yaml:"createdAt" json:"createdAt"`
	// Reason is the operation that took the snapshot
	Reason string `yaml:"reason" json:"reason"`
	// BaseVersion is the ledger version that was current at snapshot time
	BaseVersion string        `yaml:"baseVersion,omitempty" json:"baseVersion,omitempty"`
	Entries     []BackupEntry `yaml:"entries" json:"entries"`

	_ struct{}
}

// Validate asserts the invariants of a trustworthy descriptor.
func (d *BackupDescriptor) Validate() error {
	if _, err := ParseBackupID(d.ID); err != nil {
		return err
	}
	for _, e := range d.Entries {
		if e.Fingerprint == "" {
			return ErrMalformedBackupDescriptor.WrapMessage("entry %q has no fingerprint", e.Key())
		}
		switch e.Section {
		case SectionVendor, SectionOutput, SectionLedger, SectionManifest:
		default:
			return ErrMalformedBackupDescriptor.WrapMessage("entry %q has unknown section %q", e.Path, e.Section)
		}
	}
	return nil
}

// MarshalBackupDescriptor serializes a descriptor to yaml.
func MarshalBackupDescriptor(d *BackupDescriptor) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return yaml.Marshal(d)
}

// UnmarshalBackupDescriptor parses and validates a descriptor.
func UnmarshalBackupDescriptor(b []byte) (*BackupDescriptor, error) {
	var d BackupDescriptor
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, ErrMalformedBackupDescriptor.Wrap(err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
