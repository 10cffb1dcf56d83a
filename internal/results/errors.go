package results

// ============================================================================
// Result Sink Error Definitions
// ============================================================================

import "errors"

var (
	// ErrSinkLocked indicates another process owns the output file
	ErrSinkLocked = errors.New("results: output file is locked by another run")

	// ErrSinkClosed indicates the writer is closed, cannot append
	ErrSinkClosed = errors.New("results: writer already closed")

	// ErrForeignFile indicates an existing file does not carry the expected header
	ErrForeignFile = errors.New("results: existing file is not a results file")

	// ErrSyncFailed indicates fsync failed; rows after the last sync may be lost
	ErrSyncFailed = errors.New("results: sync to disk failed")
)
