// Package storeclient defines the contract the engine uses to talk to one
// configuration store replica (spec §6), plus a default HTTP
// implementation grounded on the teacher's API client idiom. Tests and
// internal/storetest's fake server only need to satisfy StoreClient; the
// engine and failover executor never depend on the HTTP implementation
// directly.
package storeclient

import (
	"context"

	"github.com/remoteconf/provider/internal/model"
)

// StoreClient is everything the engine needs from one store replica.
type StoreClient interface {
	// GetSettings lists the settings matching selector. When pageETag is
	// non-empty, the store may reply "not modified" (notModified=true,
	// zero Page) instead of re-sending the page.
	GetSettings(ctx context.Context, selector model.Selector, pageETag string) (page model.Page, notModified bool, err error)

	// GetSnapshot fetches a named snapshot's metadata.
	GetSnapshot(ctx context.Context, name string) (model.Snapshot, error)

	// GetSnapshotSettings lists the settings captured by a snapshot.
	GetSnapshotSettings(ctx context.Context, name string) (model.Page, error)

	// CheckSentinel polls a single watched key/label pair's current ETag,
	// used by watched-sentinel mode change detection (spec §4.9). changed
	// is true when etag differs from knownETag; a missing key counts as a
	// change only when knownETag is non-empty.
	CheckSentinel(ctx context.Context, key, label, knownETag string) (changed bool, etag string, err error)
}
