// Package status declares error constants returned by the backup manager.
package status

import (
	"github.com/underlay-tools/underlay/pkg/errors"
)

var (
	// ErrNoSuchBackup indicates the requested backup does not exist
	ErrNoSuchBackup = errors.New("no such backup")

	// ErrIncomplete indicates a backup fails verification and cannot be
	// restored from. Live state is never touched when this is reported.
	ErrIncomplete = errors.New("backup is incomplete or damaged")

	// ErrPartialSnapshot indicates a snapshot could not be fully taken.
	// Callers must not mutate the state they meant to protect.
	ErrPartialSnapshot = errors.New("snapshot could not be completed")
)
