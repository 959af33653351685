package persistent

import "encoding/binary"

// EntityTag is the one-byte discriminator prefixing every key belonging to a
// given entity cache, so that all entities can share one ordered byte map
// without key collisions.
type EntityTag byte

const (
	TagAccountData        EntityTag = 1
	TagAccountScript      EntityTag = 2
	TagAssetDescription   EntityTag = 3
	TagAlias              EntityTag = 4
	TagAccountBalance     EntityTag = 5
	TagAccountLeaseBalance EntityTag = 6
	TagTransaction        EntityTag = 7
	TagBlockHeader        EntityTag = 8
	TagActivatedFeatures  EntityTag = 9
)

const heightSize = 8

// encodeHeight big-endian-encodes a height so that byte-lexicographic order
// matches numeric order, which is what makes "seek then step back" work.
func encodeHeight(h uint64) []byte {
	buf := make([]byte, heightSize)
	binary.BigEndian.PutUint64(buf, h)
	return buf
}

func decodeHeight(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// versionedKey builds (tag, keyBytes, height). Every version of keyBytes is
// contiguous in iteration order because the height suffix only varies in the
// trailing fixed-width bytes.
func versionedKey(tag EntityTag, keyBytes []byte, h uint64) []byte {
	out := make([]byte, 0, 1+len(keyBytes)+heightSize)
	out = append(out, byte(tag))
	out = append(out, keyBytes...)
	out = append(out, encodeHeight(h)...)
	return out
}

// keyPrefix returns the prefix shared by every version of keyBytes.
func keyPrefix(tag EntityTag, keyBytes []byte) []byte {
	out := make([]byte, 0, 1+len(keyBytes))
	out = append(out, byte(tag))
	out = append(out, keyBytes...)
	return out
}

// upperBound returns the smallest key strictly greater than every key with
// the given prefix, i.e. an exclusive range limit covering all versions.
func upperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	// all 0xFF: no finite upper bound, caller must treat nil as unbounded.
	return nil
}
