// Package status declares error constants returned by the merge engine.
package status

import (
	"github.com/underlay-tools/underlay/pkg/errors"
)

var (
	// ErrMalformedMarkers indicates section markers in a document are
	// unbalanced, misnested or otherwise unusable. The wrapped message
	// names the offending file and section.
	ErrMalformedMarkers = errors.New("malformed section markers")

	// ErrInvalidDocument indicates a structured document could not be
	// parsed in its declared format
	ErrInvalidDocument = errors.New("invalid structured document")

	// ErrDuplicateSection indicates a document declares the same section
	// name more than once
	ErrDuplicateSection = errors.New("duplicate section name")
)
