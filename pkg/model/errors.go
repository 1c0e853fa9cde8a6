package model

import "github.com/underlay-tools/underlay/pkg/errors"

var (
	// ErrMalformedLedger indicates the persisted version ledger cannot be parsed.
	// This is always fatal: a broken ledger is reported, never silently defaulted.
	ErrMalformedLedger = errors.New("malformed version ledger")

	// ErrMalformedManifest indicates the output manifest cannot be parsed
	ErrMalformedManifest = errors.New("malformed output manifest")

	// ErrMalformedBackupDescriptor indicates a backup descriptor cannot be parsed
	ErrMalformedBackupDescriptor = errors.New("malformed backup descriptor")

	// ErrInvalidLayout indicates the project layout configuration is unusable
	ErrInvalidLayout = errors.New("invalid project layout")
)
