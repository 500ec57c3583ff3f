package capture

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - cap/{entity}/m
// - cap/{entity}/e/{seq_be8}

var (
	capPrefix  = []byte("cap/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyMeta builds the entity metadata key.
func keyMeta(entity string) []byte {
	k := make([]byte, 0, len(capPrefix)+len(entity)+len(metaSuffix))
	k = append(k, capPrefix...)
	k = append(k, entity...)
	k = append(k, metaSuffix...)
	return k
}

// keyEntry builds the entry key with a big-endian sequence for ordering.
func keyEntry(entity string, seq uint64) []byte {
	k := make([]byte, 0, len(capPrefix)+len(entity)+len(entrySeg)+8)
	k = append(k, capPrefix...)
	k = append(k, entity...)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

// keyEntryPrefix returns the range prefix covering all entries of an entity.
func keyEntryPrefix(entity string) []byte {
	k := make([]byte, 0, len(capPrefix)+len(entity)+len(entrySeg))
	k = append(k, capPrefix...)
	k = append(k, entity...)
	k = append(k, entrySeg...)
	return k
}

func seqFromEntryKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
