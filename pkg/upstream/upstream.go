// Package upstream abstracts where vendor snapshots come from.
//
// A Fetcher resolves channels to revisions and materializes revision
// trees into stores. Implementations exist for git remotes driven
// through the git executable and for plain local directories.
package upstream

import (
	"context"

	"github.com/underlay-tools/underlay/pkg/storage"
)

// Revision identifies one state of an upstream source.
type Revision struct {
	// ID is a commit hash for git upstreams, a content fingerprint
	// for directory upstreams
	ID string
	// Tag is the release tag matching this revision, when one exists
	Tag string
	// Branch is the channel the revision was resolved from
	Branch string
}

// Fetcher retrieves vendor trees from an upstream source.
type Fetcher interface {
	// String names the upstream location
	String() string

	// Requirements verifies the tools this fetcher needs are available
	Requirements(ctx context.Context) error

	// Resolve returns the current head revision of a channel without
	// transferring any tree
	Resolve(ctx context.Context, channel string) (Revision, error)

	// Fetch materializes the head of a channel into dst and reports
	// the revision it wrote
	Fetch(ctx context.Context, channel string, dst storage.Store) (Revision, error)

	// IsAncestor reports whether ancestor is reachable from descendant
	// in the upstream history. Sources without history always report
	// false.
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)

	// LatestTag returns the highest release tag the upstream carries,
	// empty when it has none
	LatestTag(ctx context.Context) (string, error)
}
