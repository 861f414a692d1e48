// Package uploader delivers staged artifacts to the collection endpoint, either one by one or
// through the archive and linked device paths chosen by the Router.
package uploader

import (
	"context"
	"path"
	"path/filepath"
)

// Backend is where uploads end up. The metadata envelope is stored next to the object.
type Backend interface {
	Upload(ctx context.Context, local, remote string, envelope []byte) error
}

// EnvelopeKey is the object key the metadata envelope of remote is stored under
func EnvelopeKey(remote string) string {
	return remote + ".json"
}

// ObjectKey is the remote key for a staged file
func ObjectKey(debugTag, local string) string {
	return path.Join(debugTag, filepath.Base(local))
}
