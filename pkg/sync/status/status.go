// Package status declares the error values returned by the sync
// controller.
package status

import (
	"github.com/underlay-tools/underlay/pkg/errors"
)

var (
	// ErrNotInitialized indicates no ledger exists yet. Operators are
	// expected to run init first.
	ErrNotInitialized = errors.New("project is not initialized")

	// ErrAlreadyInitialized indicates init would overwrite live state
	ErrAlreadyInitialized = errors.New("project is already initialized")

	// ErrDiverged indicates the local revision cannot be linearly
	// reconciled with the upstream head. Never resolved automatically.
	ErrDiverged = errors.New("local and upstream histories have diverged")

	// ErrVendorDrift indicates the vendor tree was modified outside an
	// update since the ledger last recorded its fingerprint
	ErrVendorDrift = errors.New("vendor tree has local modifications")

	// ErrNotSelfHosted indicates a maintainer operation was attempted on
	// a project that does not host the base layer itself
	ErrNotSelfHosted = errors.New("project does not host its own base layer")

	// ErrRolledBack indicates a mutation failed and the pre-operation
	// snapshot was restored. The cause is wrapped inside.
	ErrRolledBack = errors.New("state restored from pre-operation backup")

	// ErrRollbackFailed indicates both a mutation and the subsequent
	// restore failed. State must be inspected by hand.
	ErrRollbackFailed = errors.New("restoring the pre-operation backup failed")
)
