package localdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/underlay-tools/underlay/pkg/dlogger"
	"github.com/underlay-tools/underlay/pkg/errors"
	"github.com/underlay-tools/underlay/pkg/storage/localfs"
	"github.com/underlay-tools/underlay/pkg/upstream/status"
)

func setupSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"VERSION":              "1.2.3\n",
		"CLAUDE.md":            "# guide\n",
		"config/settings.json": `{"a": 1}`,
		".git/config":          "[core]\n",
		".underlay/vendor/x":   "engine state\n",
		".underlay-version":    `{"version": "9.9.9"}`,
	}
	for p, content := range files {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.Dir(p)), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, p), []byte(content), 0644))
	}
	return dir
}

func testFetcher(dir string) *Fetcher {
	return New(dir, Logger(dlogger.MustGetLogger(dlogger.LogLevelNone)))
}

func TestResolveFingerprintsContent(t *testing.T) {
	ctx := context.Background()
	dir := setupSource(t)
	fetcher := testFetcher(dir)

	first, err := fetcher.Resolve(ctx, "main")
	require.NoError(t, err)
	assert.Contains(t, first.ID, "blake2b:")
	assert.Equal(t, "1.2.3", first.Tag)

	again, err := fetcher.Resolve(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "an unchanged directory resolves to the same revision")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("# changed\n"), 0644))
	changed, err := fetcher.Resolve(ctx, "main")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, changed.ID)
}

func TestResolveIgnoresEngineState(t *testing.T) {
	ctx := context.Background()
	dir := setupSource(t)
	fetcher := testFetcher(dir)

	first, err := fetcher.Resolve(ctx, "main")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".underlay", "vendor", "x"), []byte("mutated\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".underlay-version"), []byte(`{"version": "0.0.1"}`), 0644))
	again, err := fetcher.Resolve(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "engine state must not affect the upstream revision")
}

func TestFetchSkipsRepositoryAndEngineState(t *testing.T) {
	ctx := context.Background()
	dir := setupSource(t)
	fetcher := testFetcher(dir)
	dst := localfs.New(afero.NewMemMapFs())

	revision, err := fetcher.Fetch(ctx, "main", dst)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", revision.Tag)

	keys, err := dst.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"CLAUDE.md", "VERSION", "config/settings.json"}, keys)

	resolved, err := fetcher.Resolve(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, resolved.ID, revision.ID)
}

func TestNoHistoryOperations(t *testing.T) {
	ctx := context.Background()
	fetcher := testFetcher(setupSource(t))

	ok, err := fetcher.IsAncestor(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	tag, err := fetcher.LatestTag(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", tag)

	require.NoError(t, fetcher.Requirements(ctx))
}

func TestMissingSourceDirectory(t *testing.T) {
	fetcher := testFetcher(filepath.Join(t.TempDir(), "does-not-exist"))

	_, err := fetcher.Resolve(context.Background(), "main")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrFetch))
}

func TestVersionTagIgnoredWhenNotSemver(t *testing.T) {
	ctx := context.Background()
	dir := setupSource(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("not a version\n"), 0644))

	revision, err := testFetcher(dir).Resolve(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, revision.Tag)
}
