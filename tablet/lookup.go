package tablet

import (
	"context"
	"time"
)

// LookupCallback receives the result of an async tablet lookup: either a
// resolved Tablet, or an error (not-found, timeout, stale partition list).
type LookupCallback func(*Tablet, error)

// MetaCache resolves partition keys to the tablet that currently owns them.
// The batcher never blocks waiting on a MetaCache call; LookupTabletByKey is
// expected to invoke cb asynchronously (possibly on the calling goroutine,
// possibly later on another one — the batcher tolerates both).
type MetaCache interface {
	LookupTabletByKey(ctx context.Context, table Table, partitionKey []byte, deadline time.Time, cb LookupCallback)
	// InvalidateTableCache is a best-effort hint that table's cached
	// partition list is stale and should be refreshed. The batcher never
	// waits on this call or inspects its outcome.
	InvalidateTableCache(table Table)
}
