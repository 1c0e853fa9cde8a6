// Package model describes the persisted artifacts of a synchronized project:
// the version ledger, the output manifest, backup descriptors, and the
// on-disk layout that ties them together.
//
// Ledger and descriptor files are the durable interface between runs and
// between tools. Everything here round-trips: fields this version of the
// tool does not understand are preserved verbatim so older and newer
// releases can share a project.
package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/blang/semver/v4"
	"github.com/mitchellh/mapstructure"
)

// InitialVersion is the ledger version recorded when a project is first
// initialized from an upstream that carries no release tag.
const InitialVersion = "1.0.0"

// Ledger records where a project's vendored base layer came from and which
// snapshot of it is currently applied. It lives at the project root and is
// rewritten atomically on every state transition.
type Ledger struct {
	// Version is the semantic version of the applied base layer
	Version string `json:"version" yaml:"version" mapstructure:"version"`
	// UpstreamRevision is the upstream commit the vendor tree was taken from
	UpstreamRevision string `json:"upstream_revision" yaml:"upstream_revision" mapstructure:"upstream_revision"`
	// PreviousRevision is the revision that was applied before the last update
	PreviousRevision string `json:"previous_revision,omitempty" yaml:"previous_revision,omitempty" mapstructure:"previous_revision"`
	// Channel is the upstream branch or channel updates are tracked from
	Channel string `json:"channel" yaml:"channel" mapstructure:"channel"`
	// SourceLocation is the upstream location (git URL or local path)
	SourceLocation string `json:"source_location" yaml:"source_location" mapstructure:"source_location"`
	// SelfHosted marks a project that maintains its own fork of the base layer
	SelfHosted bool `json:"self_hosted,omitempty" yaml:"self_hosted,omitempty" mapstructure:"self_hosted"`
	// VendorFingerprint is the content fingerprint of the vendor tree as last written
	VendorFingerprint string `json:"vendor_fingerprint,omitempty" yaml:"vendor_fingerprint,omitempty" mapstructure:"vendor_fingerprint"`

	InitializedAt time.Time `json:"initialized_at,omitempty" yaml:"initialized_at,omitempty" mapstructure:"initialized_at"`
	UpdatedAt     time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty" mapstructure:"updated_at"`

	// Extra holds fields written by other versions of the tool. They are
	// carried through read-modify-write cycles untouched.
	Extra map[string]interface{} `json:"-" yaml:"-" mapstructure:",remain"`
}

var knownLedgerFields = map[string]struct{}{
	"version":            {},
	"upstream_revision":  {},
	"previous_revision":  {},
	"channel":            {},
	"source_location":    {},
	"self_hosted":        {},
	"vendor_fingerprint": {},
	"initialized_at":     {},
	"updated_at":         {},
}

// NewLedger builds the ledger for a freshly initialized project.
func NewLedger(source, channel, revision, version string, selfHosted bool, now time.Time) *Ledger {
	if version == "" {
		version = InitialVersion
	}
	return &Ledger{
		Version:          version,
		UpstreamRevision: revision,
		Channel:          channel,
		SourceLocation:   source,
		SelfHosted:       selfHosted,
		InitializedAt:    now.UTC(),
		UpdatedAt:        now.UTC(),
	}
}

// Bump returns a copy of the ledger advanced to a newly applied revision.
// The patch component of the version is incremented and the previously
// applied revision is retained for auditing.
func (l *Ledger) Bump(revision string, now time.Time) (*Ledger, error) {
	version, err := NextVersion(l.Version)
	if err != nil {
		return nil, err
	}
	next := *l
	next.Version = version
	next.PreviousRevision = l.UpstreamRevision
	next.UpstreamRevision = revision
	next.UpdatedAt = now.UTC()
	if l.Extra != nil {
		next.Extra = make(map[string]interface{}, len(l.Extra))
		for k, v := range l.Extra {
			next.Extra[k] = v
		}
	}
	return &next, nil
}

// Validate asserts the invariants a usable ledger must hold.
func (l *Ledger) Validate() error {
	if l.Version == "" {
		return ErrMalformedLedger.WrapMessage("missing version")
	}
	if _, err := semver.ParseTolerant(l.Version); err != nil {
		return ErrMalformedLedger.WrapMessage("version %q is not a semantic version", l.Version)
	}
	if l.UpstreamRevision == "" {
		return ErrMalformedLedger.WrapMessage("missing upstream_revision")
	}
	if l.SourceLocation == "" {
		return ErrMalformedLedger.WrapMessage("missing source_location")
	}
	if l.Channel == "" {
		return ErrMalformedLedger.WrapMessage("missing channel")
	}
	return nil
}

// MarshalLedger serializes a ledger to its canonical on-disk form:
// two space indented JSON with sorted keys and a trailing newline.
// Unknown fields carried in Extra are written back alongside known ones.
func MarshalLedger(l *Ledger) ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	doc := make(map[string]interface{}, len(knownLedgerFields)+len(l.Extra))
	for k, v := range l.Extra {
		if _, known := knownLedgerFields[k]; known {
			continue
		}
		doc[k] = v
	}
	doc["version"] = l.Version
	doc["upstream_revision"] = l.UpstreamRevision
	doc["channel"] = l.Channel
	doc["source_location"] = l.SourceLocation
	if l.PreviousRevision != "" {
		doc["previous_revision"] = l.PreviousRevision
	}
	if l.SelfHosted {
		doc["self_hosted"] = true
	}
	if l.VendorFingerprint != "" {
		doc["vendor_fingerprint"] = l.VendorFingerprint
	}
	if !l.InitializedAt.IsZero() {
		doc["initialized_at"] = l.InitializedAt.UTC().Format(time.RFC3339)
	}
	if !l.UpdatedAt.IsZero() {
		doc["updated_at"] = l.UpdatedAt.UTC().Format(time.RFC3339)
	}
	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}

// UnmarshalLedger parses a ledger file. Fields it does not recognize are
// collected into Extra rather than dropped.
func UnmarshalLedger(b []byte) (*Ledger, error) {
	raw := map[string]interface{}{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, ErrMalformedLedger.Wrap(err)
	}
	var l Ledger
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
		Result:     &l,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, ErrMalformedLedger.Wrap(err)
	}
	if len(l.Extra) == 0 {
		l.Extra = nil
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// NextVersion increments the patch component of a semantic version.
func NextVersion(version string) (string, error) {
	v, err := semver.ParseTolerant(version)
	if err != nil {
		return "", ErrMalformedLedger.WrapMessage("version %q is not a semantic version", version)
	}
	if err := v.IncrementPatch(); err != nil {
		return "", ErrMalformedLedger.Wrap(err)
	}
	return v.String(), nil
}

// VersionFromTag extracts a semantic version from an upstream release tag
// such as "v1.2.3". It reports false when the tag carries no usable version.
func VersionFromTag(tag string) (string, bool) {
	if tag == "" {
		return "", false
	}
	v, err := semver.ParseTolerant(tag)
	if err != nil {
		return "", false
	}
	return v.String(), true
}
