package log

import (
	"encoding/hex"

	"go.uber.org/zap"
)

// HexField renders data as a hex string; used for opaque partition keys and
// tablet/transaction identifiers that are not meaningful as raw bytes in a
// log line.
func HexField(key string, data []byte) zap.Field {
	return zap.String(key, hex.EncodeToString(data))
}

// SequenceField tags a log line with an in-flight op's sequence number.
func SequenceField(seq int64) zap.Field {
	return zap.Int64("sequence", seq)
}

// TabletField tags a log line with a tablet id.
func TabletField(id string) zap.Field {
	return zap.String("tablet", id)
}

// ReasonField explains why a transition or decision happened.
func ReasonField(reason string) zap.Field {
	return zap.String("reason", reason)
}

// StateField renders a fmt.Stringer state value.
func StateField(key string, s interface{ String() string }) zap.Field {
	return zap.String(key, s.String())
}
