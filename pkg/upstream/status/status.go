// Package status declares error constants returned by upstream fetchers.
package status

import (
	"github.com/underlay-tools/underlay/pkg/errors"
)

var (
	// ErrFetch indicates the upstream could not be reached or read
	ErrFetch = errors.New("cannot fetch from upstream")

	// ErrNoSuchChannel indicates the requested channel does not exist
	// on the upstream
	ErrNoSuchChannel = errors.New("no such channel on upstream")

	// ErrRequirementMissing indicates a tool this fetcher depends on is
	// not available on the host
	ErrRequirementMissing = errors.New("required tool not available")
)
