// ============================================================================
// Result Publication
// ============================================================================
//
// Package: internal/publish
// File: publish.go
// Purpose: Upload the finished results file after a batch
//
// Publication runs once, after the last row is flushed. Its failure is an
// infrastructure failure of the run: it never changes any row's status and
// never touches the local results file.
//
// Publishers:
//   - GCS: object store, gs://<bucket>/<prefix>/<basename>
//   - Dir: atomic copy into a local directory plus a JSON manifest
//   - Nop: publication disabled
//
// ============================================================================

package publish

import (
	"context"
	"errors"

	"github.com/ChuLiYu/rcpsp-batch/internal/logging"
)

var log = logging.Component("publish")

// ErrPublish wraps every publication failure.
var ErrPublish = errors.New("publish: upload failed")

// Publisher uploads a local file and returns where it went.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// Nop discards publication.
type Nop struct{}

// Publish does nothing and returns an empty destination.
func (Nop) Publish(context.Context, string) (string, error) {
	return "", nil
}
