package tablet

import "encoding/binary"

// DecodeMultiColumnHashValue extracts the 16-bit hash code that a
// hash-partitioned table's partition key encoder prepends to the key. The
// batcher stamps this back onto the user operation during ingress so the
// caller's op carries the same hash code the server will compute, which is
// useful for tracing and for ops that want to report their target hash
// bucket without waiting for a response.
func DecodeMultiColumnHashValue(schema PartitionSchema, partitionKey []byte) (uint16, bool) {
	if !schema.HashPartitioned || len(partitionKey) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(partitionKey[:2]), true
}
