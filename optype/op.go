// Package optype defines the operation taxonomy the batcher groups and
// dispatches by, and the Operation contract the batcher's caller must
// satisfy for each row-level read or write it hands to Add.
package optype

import "github.com/chronosdb/chronosdb/tablet"

// Kind tags which protocol produced an operation. The batcher itself is
// protocol-agnostic; Kind only matters to the RPC factory, which may build
// a different wire request per protocol even though the batcher's grouping
// and dispatch logic is identical across all of them.
type Kind int

const (
	QLRead Kind = iota
	QLWrite
	PGSQLRead
	PGSQLWrite
	RedisRead
	RedisWrite
)

func (k Kind) String() string {
	switch k {
	case QLRead:
		return "QLRead"
	case QLWrite:
		return "QLWrite"
	case PGSQLRead:
		return "PGSQLRead"
	case PGSQLWrite:
		return "PGSQLWrite"
	case RedisRead:
		return "RedisRead"
	case RedisWrite:
		return "RedisWrite"
	default:
		return "Unknown"
	}
}

// IsWrite reports whether this kind is a write variant.
func (k Kind) IsWrite() bool {
	switch k {
	case QLWrite, PGSQLWrite, RedisWrite:
		return true
	default:
		return false
	}
}

// Class is what the batcher actually groups and dispatches by: it
// determines which of the three RPC shapes (write, strong read,
// consistent-prefix read) a group is sent as.
type Class int

const (
	Write Class = iota
	LeaderRead
	ConsistentPrefixRead
)

func (c Class) String() string {
	switch c {
	case Write:
		return "Write"
	case LeaderRead:
		return "LeaderRead"
	case ConsistentPrefixRead:
		return "ConsistentPrefixRead"
	default:
		return "Unknown"
	}
}

// Operation is the per-row read or write the caller hands to the batcher.
// The batcher treats it as a shared, read-mostly handle: it only ever
// invokes SetHashCode and TagForPartitionRefresh on it, both during ingress
// or error handling, never during dispatch itself.
type Operation interface {
	Kind() Kind
	// Class is the operation's dispatch class. For writes this is always
	// Write; for reads it depends on the caller-chosen consistency level.
	Class() Class
	Table() tablet.Table
	// PartitionKey computes this row's partition key. It is pure and cheap;
	// the batcher calls it once, synchronously, during Add.
	PartitionKey() ([]byte, error)
	// SetHashCode stamps the decoded hash-partition bucket back onto the
	// operation, for hash-partitioned tables only.
	SetHashCode(code uint16)
	// HasHashColumns reports whether this operation carries hash column
	// values at all — reads without a key (e.g. full scans) do not.
	HasHashColumns() bool
	// PreselectedTablet lets a caller short-circuit the lookup when it
	// already knows (or wants to force) the destination tablet.
	PreselectedTablet() *tablet.Tablet
	// RecordedPartitionListVersion is the partition-list version the
	// caller last observed for this row's table, if any. The batcher
	// aborts the whole batch if this disagrees with the tablet resolved
	// by the lookup.
	RecordedPartitionListVersion() (version int64, ok bool)
	// TagForPartitionRefresh marks the operation so the owning session
	// knows to force a partition-list refresh before retrying it.
	TagForPartitionRefresh()
	// Description is a short human-readable label used in combined error
	// messages and logging.
	Description() string
}
