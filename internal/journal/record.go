package journal

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// Keyspace, lexicographically sortable:
//
//	w/{watcher}/e/{seq_be8}  one stored status
//	w/{watcher}/m            last assigned sequence, big-endian uint64
//
// Watcher names must not contain '/'; Append enforces that. The meta
// key sorts after every entry key of the same watcher ('e' < 'm').
//
// Value layout: varint header length | header | payload | crc32c.
// The header is the status time in big-endian unix milliseconds so
// retention can judge age without decoding the JSON payload.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const (
	keyPrefix    = "w/"
	entrySegment = "/e/"
	metaSuffix   = "/m"
)

func entryKey(watcher string, seq uint64) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(watcher)+len(entrySegment)+8)
	key = append(key, keyPrefix...)
	key = append(key, watcher...)
	key = append(key, entrySegment...)
	return appendBE8(key, seq)
}

func metaKey(watcher string) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(watcher)+len(metaSuffix))
	key = append(key, keyPrefix...)
	key = append(key, watcher...)
	key = append(key, metaSuffix...)
	return key
}

func appendBE8(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func timeHeader(t time.Time) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UnixMilli()))
	return buf[:]
}

func headerMillis(header []byte) (int64, bool) {
	if len(header) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(header[:8])), true
}

func encodeValue(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+crc32.Size)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(header)))
	out = append(out, lenBuf[:n]...)
	out = append(out, header...)
	out = append(out, payload...)

	sum := crc32.Update(0, castagnoli, header)
	sum = crc32.Update(sum, castagnoli, payload)
	var sumBuf [crc32.Size]byte
	binary.BigEndian.PutUint32(sumBuf[:], sum)
	return append(out, sumBuf[:]...)
}

// decodeValue splits a stored value and verifies its checksum. The
// returned slices are copies; iterator memory is only valid until the
// next positioning call.
func decodeValue(value []byte) (header, payload []byte, ok bool) {
	if len(value) < 1+crc32.Size {
		return nil, nil, false
	}
	headerLen, n := binary.Uvarint(value)
	if n <= 0 {
		return nil, nil, false
	}
	rest := len(value) - n - crc32.Size
	if rest < 0 || headerLen > uint64(rest) {
		return nil, nil, false
	}
	header = value[n : n+int(headerLen)]
	payload = value[n+int(headerLen) : len(value)-crc32.Size]

	sum := crc32.Update(0, castagnoli, header)
	sum = crc32.Update(sum, castagnoli, payload)
	if sum != binary.BigEndian.Uint32(value[len(value)-crc32.Size:]) {
		return nil, nil, false
	}
	return append([]byte(nil), header...), append([]byte(nil), payload...), true
}
