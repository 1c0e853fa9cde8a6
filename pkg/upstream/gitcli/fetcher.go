// Package gitcli fetches vendor trees from git remotes by driving the
// git executable. Nothing here links a git library: the host's git
// handles transports, credentials and proxies exactly as the user
// configured them.
package gitcli

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/underlay-tools/underlay/pkg/dlogger"
	"github.com/underlay-tools/underlay/pkg/storage"
	"github.com/underlay-tools/underlay/pkg/storage/localfs"
	"github.com/underlay-tools/underlay/pkg/upstream"
	"github.com/underlay-tools/underlay/pkg/upstream/status"
)

// Option is a functor to build a fetcher with some options
type Option func(*Fetcher)

// Logger injects a logging facility into the fetcher
func Logger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		f.l = l
	}
}

// WithRunner substitutes the git command runner
func WithRunner(r Runner) Option {
	return func(f *Fetcher) {
		f.runner = r
	}
}

// BackOffPolicy substitutes the retry policy for remote operations
func BackOffPolicy(factory func() backoff.BackOff) Option {
	return func(f *Fetcher) {
		f.boff = factory
	}
}

// Fetcher retrieves trees from a git remote.
type Fetcher struct {
	source string
	runner Runner
	boff   func() backoff.BackOff
	l      *zap.Logger
}

// New builds a fetcher for one git remote. The source is anything git
// accepts as a repository URL, including local paths.
func New(source string, opts ...Option) *Fetcher {
	f := &Fetcher{
		source: source,
		runner: execRunner{},
		boff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
		},
		l: dlogger.MustGetLogger(dlogger.LogLevelInfo),
	}
	for _, apply := range opts {
		apply(f)
	}
	return f
}

func (f *Fetcher) String() string {
	return f.source
}

// Requirements verifies the git executable is reachable.
func (f *Fetcher) Requirements(_ context.Context) error {
	if _, err := lookPath("git"); err != nil {
		return status.ErrRequirementMissing.WrapMessage("git executable not found in PATH")
	}
	return nil
}

// Resolve returns the head commit of a channel via ls-remote.
func (f *Fetcher) Resolve(ctx context.Context, channel string) (upstream.Revision, error) {
	var revision upstream.Revision
	operation := func() error {
		res, err := f.git(ctx, "", "ls-remote", "--heads", f.source, channel)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return status.ErrFetch.WrapMessage("ls-remote %s: %s", f.source, strings.TrimSpace(res.Stderr))
		}
		sha, found := headFor(res.Stdout, channel)
		if !found {
			return backoff.Permanent(
				status.ErrNoSuchChannel.WrapMessage("%s has no channel %q", f.source, channel))
		}
		revision = upstream.Revision{ID: sha, Branch: channel}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(f.boff(), ctx)); err != nil {
		return upstream.Revision{}, err
	}
	return revision, nil
}

// Fetch shallow clones the head of a channel and copies its tree into
// dst, leaving git metadata behind.
func (f *Fetcher) Fetch(ctx context.Context, channel string, dst storage.Store) (upstream.Revision, error) {
	if _, err := f.Resolve(ctx, channel); err != nil {
		return upstream.Revision{}, err
	}

	dir, err := os.MkdirTemp("", "underlay-clone-")
	if err != nil {
		return upstream.Revision{}, status.ErrFetch.Wrap(err)
	}
	defer os.RemoveAll(dir)

	res, err := f.git(ctx, "", "clone", "--quiet", "--depth=1", "--single-branch", "--branch", channel, f.source, dir)
	if err != nil {
		return upstream.Revision{}, err
	}
	if res.ExitCode != 0 {
		return upstream.Revision{}, status.ErrFetch.WrapMessage("clone %s: %s", f.source, strings.TrimSpace(res.Stderr))
	}

	res, err = f.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return upstream.Revision{}, err
	}
	if res.ExitCode != 0 {
		return upstream.Revision{}, status.ErrFetch.WrapMessage("rev-parse: %s", strings.TrimSpace(res.Stderr))
	}
	revision := upstream.Revision{ID: strings.TrimSpace(res.Stdout), Branch: channel}
	revision.Tag = f.tagAt(ctx, revision.ID)

	files, err := f.exportTree(ctx, dir, dst)
	if err != nil {
		return upstream.Revision{}, err
	}
	f.l.Info("fetched upstream tree",
		zap.String("source", f.source),
		zap.String("channel", channel),
		zap.String("revision", revision.ID),
		zap.Int("files", files),
	)
	return revision, nil
}

// IsAncestor reports reachability between two commits, using a bare
// clone so the full history is available.
func (f *Fetcher) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	dir, err := os.MkdirTemp("", "underlay-history-")
	if err != nil {
		return false, status.ErrFetch.Wrap(err)
	}
	defer os.RemoveAll(dir)

	res, err := f.git(ctx, "", "clone", "--quiet", "--bare", f.source, dir)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, status.ErrFetch.WrapMessage("clone %s: %s", f.source, strings.TrimSpace(res.Stderr))
	}

	res, err = f.git(ctx, dir, "merge-base", "--is-ancestor", ancestor, descendant)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, status.ErrFetch.WrapMessage("merge-base: %s", strings.TrimSpace(res.Stderr))
	}
}

// LatestTag returns the highest semantic version tag on the remote.
func (f *Fetcher) LatestTag(ctx context.Context) (string, error) {
	tags, err := f.remoteTags(ctx)
	if err != nil {
		return "", err
	}
	best := ""
	var bestVersion semver.Version
	for tag := range tags {
		v, err := semver.ParseTolerant(tag)
		if err != nil {
			continue
		}
		if best == "" || v.GT(bestVersion) {
			best, bestVersion = tag, v
		}
	}
	return best, nil
}

// tagAt resolves the tag pointing at a commit, empty when there is none.
func (f *Fetcher) tagAt(ctx context.Context, revision string) string {
	tags, err := f.remoteTags(ctx)
	if err != nil {
		f.l.Debug("tag lookup failed", zap.Error(err))
		return ""
	}
	names := make([]string, 0, len(tags))
	for tag := range tags {
		names = append(names, tag)
	}
	sort.Strings(names)
	for _, tag := range names {
		if tags[tag] == revision {
			return tag
		}
	}
	return ""
}

// remoteTags lists remote tags with annotated tags peeled to commits.
func (f *Fetcher) remoteTags(ctx context.Context) (map[string]string, error) {
	var out string
	operation := func() error {
		res, err := f.git(ctx, "", "ls-remote", "--tags", f.source)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return status.ErrFetch.WrapMessage("ls-remote --tags %s: %s", f.source, strings.TrimSpace(res.Stderr))
		}
		out = res.Stdout
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(f.boff(), ctx)); err != nil {
		return nil, err
	}

	tags := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || !strings.HasPrefix(fields[1], "refs/tags/") {
			continue
		}
		name := strings.TrimPrefix(fields[1], "refs/tags/")
		if peeled := strings.TrimSuffix(name, "^{}"); peeled != name {
			// the peeled entry is the commit an annotated tag points at
			tags[peeled] = fields[0]
			continue
		}
		if _, seen := tags[name]; !seen {
			tags[name] = fields[0]
		}
	}
	return tags, nil
}

// exportTree copies a checked out work tree into a store, skipping git
// metadata.
func (f *Fetcher) exportTree(ctx context.Context, dir string, dst storage.Store) (int, error) {
	src := localfs.New(afero.NewBasePathFs(afero.NewOsFs(), dir))
	keys, err := src.Keys(ctx)
	if err != nil {
		return 0, status.ErrFetch.Wrap(err)
	}
	files := 0
	for _, key := range keys {
		if key == ".git" || strings.HasPrefix(key, ".git/") {
			continue
		}
		r, err := src.Get(ctx, key)
		if err != nil {
			return files, status.ErrFetch.Wrap(err)
		}
		err = dst.Put(ctx, key, r, storage.OverWrite)
		r.Close()
		if err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func (f *Fetcher) git(ctx context.Context, dir string, args ...string) (Result, error) {
	f.l.Debug("git", zap.Strings("args", args), zap.String("dir", dir))
	res, err := f.runner.Run(ctx, dir, args...)
	if err != nil {
		return Result{}, status.ErrFetch.WrapMessage("git %s: %v", strings.Join(args, " "), err)
	}
	return res, nil
}

func headFor(out, channel string) (string, bool) {
	want := "refs/heads/" + channel
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == want {
			return fields[0], true
		}
	}
	return "", false
}

var _ upstream.Fetcher = &Fetcher{}
