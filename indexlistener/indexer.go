package indexlistener

import (
	"context"

	"github.com/Lupando/Kalix.Leo/queue"
)

// Indexer applies one StoreDataDetails event to whatever secondary index
// it maintains.
type Indexer interface {
	Index(ctx context.Context, d queue.StoreDataDetails) error
}

// ReindexingIndexer is the optional reindex capability: an indexer that
// wants a distinct code path for ReIndexAll-originated events (e.g. a
// full rebuild rather than an incremental upsert) implements this;
// dispatch falls back to Index when it doesn't.
type ReindexingIndexer interface {
	Indexer
	Reindex(ctx context.Context, d queue.StoreDataDetails) error
}

// Factory builds an Indexer instance. It is called once per dispatched
// group, not once per message, so an Indexer may assume exclusive use for
// the lifetime of one call.
type Factory func() Indexer
