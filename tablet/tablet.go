// Package tablet describes the shard-routing collaborators the batcher
// depends on: a Tablet is the replica group owning a contiguous partition
// key range, a Table exposes the partitioning scheme and staleness hints
// for one relation, and a MetaCache resolves partition keys to tablets.
//
// The meta-cache implementation itself — the thing that actually talks to
// the master and caches results — is out of scope here; the batcher only
// consumes the MetaCache contract.
package tablet

import "bytes"

// Tablet is a shard: an owning replica group for a contiguous range of
// partition keys, as of some partition-list version.
type Tablet struct {
	ID                   string
	PartitionListVersion int64
	PartitionStart       []byte
	PartitionEnd         []byte
}

// ContainsPartitionKey reports whether key falls within [PartitionStart,
// PartitionEnd). An empty PartitionStart means "no lower bound"; an empty
// PartitionEnd means "no upper bound".
func (t *Tablet) ContainsPartitionKey(key []byte) bool {
	if len(t.PartitionStart) > 0 && bytes.Compare(key, t.PartitionStart) < 0 {
		return false
	}
	if len(t.PartitionEnd) > 0 && bytes.Compare(key, t.PartitionEnd) >= 0 {
		return false
	}
	return true
}

// PartitionSchema describes how a table's rows are mapped to partition
// keys: either by hashing a prefix of columns, or by raw range partitioning.
type PartitionSchema struct {
	HashPartitioned bool
	HashColumnCount int
}

// Table is the per-relation collaborator the batcher consults during
// ingress: it knows its own partitioning scheme and whether its cached
// tablet list might be stale.
type Table interface {
	Name() string
	PartitionSchema() PartitionSchema
	// PartitionListIsStale reports whether this table's cached partition
	// list is known to be out of date (e.g. a prior operation observed a
	// split). The batcher uses this only to decide whether to hint the
	// meta-cache to refresh; it never blocks on the refresh.
	PartitionListIsStale() bool
}
