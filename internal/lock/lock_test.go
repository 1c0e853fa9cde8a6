package lock

import (
	"fmt"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/underlay-tools/underlay/pkg/errors"
)

func TestAcquireRelease(t *testing.T) {
	fs := afero.NewMemMapFs()

	held, err := Acquire(fs, ".underlay/lock")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, ".underlay/lock", held.Path())

	buf, err := afero.ReadFile(fs, ".underlay/lock")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(buf))

	require.NoError(t, held.Release())

	exists, err := afero.Exists(fs, ".underlay/lock")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAcquireContended(t *testing.T) {
	fs := afero.NewMemMapFs()

	held, err := Acquire(fs, ".underlay/lock")
	require.NoError(t, err)

	_, err = Acquire(fs, ".underlay/lock")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), fmt.Sprintf("pid %d", os.Getpid()))
	assert.Contains(t, err.Error(), ".underlay/lock")

	require.NoError(t, held.Release())

	reheld, err := Acquire(fs, ".underlay/lock")
	require.NoError(t, err)
	require.NoError(t, reheld.Release())
}

func TestAcquireStaleFileNamesHolder(t *testing.T) {
	fs := afero.NewMemMapFs()

	// a crashed run left a lock file without a readable pid
	require.NoError(t, afero.WriteFile(fs, ".underlay/lock", []byte("garbage"), 0600))

	_, err := Acquire(fs, ".underlay/lock")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), "remove it")
}

func TestReleaseTwice(t *testing.T) {
	fs := afero.NewMemMapFs()

	held, err := Acquire(fs, "lock")
	require.NoError(t, err)
	require.NoError(t, held.Release())
	require.Error(t, held.Release())
}
