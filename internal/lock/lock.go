// Package lock provides a file based advisory lock so two runs do not
// mutate the same project state concurrently.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/underlay-tools/underlay/pkg/errors"
)

// ErrLocked indicates another run holds the project lock.
var ErrLocked = errors.New("project is locked by another run")

// Lock is a held advisory lock backed by a file.
type Lock struct {
	fs   afero.Fs
	path string
}

// Acquire takes the advisory lock at path, recording the holder pid in
// the lock file. It fails with ErrLocked while another holder has it.
//
// A crashed run leaves the file behind. The error names the file and
// the recorded pid so an operator can check the holder and remove it.
func Acquire(fs afero.Fs, path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := fs.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if pid := holderPid(fs, path); pid != 0 {
			return nil, ErrLocked.WrapMessage("pid %d holds %s", pid, path)
		}
		return nil, ErrLocked.WrapMessage("%s exists, remove it if its holder is gone", path)
	}
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fs.Remove(path)
		return nil, err
	}
	return &Lock{fs: fs, path: path}, nil
}

// Release drops the lock. Releasing a lock that is no longer held is an
// error.
func (l *Lock) Release() error {
	return l.fs.Remove(l.path)
}

// Path returns the location of the lock file.
func (l *Lock) Path() string {
	return l.path
}

func holderPid(fs afero.Fs, path string) int {
	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf)))
	if err != nil {
		return 0
	}
	return pid
}
