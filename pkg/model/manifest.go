package model

import (
	"sort"
	"time"

	"gopkg.in/yaml.v2"
)

// OutputManifest records the files the last merge published. It is the
// authority on which output paths are managed: publish removes stale
// entries against it, backup snapshots outputs through it, and anything
// not listed is left alone.
type OutputManifest struct {
	GeneratedAt time.Time `yaml:"generatedAt" json:"generatedAt"`
	// MergeFingerprint identifies the (vendor, overlay) input pair the
	// outputs were computed from
	MergeFingerprint string   `yaml:"mergeFingerprint,omitempty" json:"mergeFingerprint,omitempty"`
	Files            []string `yaml:"files" json:"files"`

	_ struct{}
}

// NewOutputManifest builds a manifest over a set of published paths.
func NewOutputManifest(files []string, fingerprint string, now time.Time) *OutputManifest {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)
	return &OutputManifest{
		GeneratedAt:      now.UTC(),
		MergeFingerprint: fingerprint,
		Files:            sorted,
	}
}

// Has reports whether the manifest lists the given output path.
func (m *OutputManifest) Has(file string) bool {
	i := sort.SearchStrings(m.Files, file)
	return i < len(m.Files) && m.Files[i] == file
}

// MarshalManifest serializes an output manifest to yaml.
func MarshalManifest(m *OutputManifest) ([]byte, error) {
	sort.Strings(m.Files)
	return yaml.Marshal(m)
}

// UnmarshalManifest parses an output manifest.
func UnmarshalManifest(b []byte) (*OutputManifest, error) {
	var m OutputManifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, ErrMalformedManifest.Wrap(err)
	}
	sort.Strings(m.Files)
	return &m, nil
}
