package cmd

import (
	"fmt"
	"log"
	"os"

	backupstatus "github.com/underlay-tools/underlay/pkg/backup/status"
	"github.com/underlay-tools/underlay/pkg/errors"
	mergestatus "github.com/underlay-tools/underlay/pkg/merge/status"
	syncstatus "github.com/underlay-tools/underlay/pkg/sync/status"
	upstreamstatus "github.com/underlay-tools/underlay/pkg/upstream/status"
)

var (
	// globals used to patch over calls to os.Exit() during test

	logFatalln = log.Fatalln
	logFatalf  = log.Fatalf
	osExit     = os.Exit

	// infoLogger wraps informative messages to os.Stdout without cluttering expected output in tests.
	// To be used instead on fmt.Printf(os.Stdout, ...)
	infoLogger = log.New(os.Stdout, "", 0)
	logStdOut  = fmt.Printf
)

// Exit codes by error class, so scripts driving the CLI can react
// without parsing messages.
const (
	exitGeneric            = 1
	exitRequirementMissing = 2
	exitNotInitialized     = 3
	exitAlreadyInitialized = 4
	exitFetchFailed        = 5
	exitDiverged           = 6
	exitMergeConflict      = 7
	exitBackupDamaged      = 8
)

func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
	} else {
		logFatalf("%v", fmt.Errorf(msg+": %w", err))
	}
}

func wrapFatalWithCodef(code int, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	osExit(code)
}

// exitCodeFor classifies err by the sentinel in its chain. A damaged or
// unrestorable backup outranks the failure that triggered the rollback,
// the operator has state to repair first. A clean rollback keeps the
// code of its cause.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, upstreamstatus.ErrRequirementMissing):
		return exitRequirementMissing
	case errors.Is(err, syncstatus.ErrNotInitialized):
		return exitNotInitialized
	case errors.Is(err, syncstatus.ErrAlreadyInitialized):
		return exitAlreadyInitialized
	case errors.Is(err, upstreamstatus.ErrNoSuchChannel),
		errors.Is(err, upstreamstatus.ErrFetch):
		return exitFetchFailed
	case errors.Is(err, syncstatus.ErrDiverged):
		return exitDiverged
	case errors.Is(err, syncstatus.ErrRollbackFailed),
		errors.Is(err, backupstatus.ErrIncomplete),
		errors.Is(err, backupstatus.ErrPartialSnapshot):
		return exitBackupDamaged
	case errors.Is(err, mergestatus.ErrMalformedMarkers),
		errors.Is(err, mergestatus.ErrDuplicateSection),
		errors.Is(err, mergestatus.ErrInvalidDocument):
		return exitMergeConflict
	default:
		return exitGeneric
	}
}

// fatalWith reports err on stderr and exits with the code its class
// maps to.
func fatalWith(msg string, err error) {
	wrapFatalWithCodef(exitCodeFor(err), "%s: %v", msg, err)
}
