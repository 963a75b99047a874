package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version  byte = 1
	kindItem byte = 1
	kindSnap byte = 2

	// HashLen is the raw content-hash size carried per snapshot item (sha256).
	HashLen = 32
)

var (
	ErrCorrupt = errors.New("incrtable: corrupt entry")
	magic4     = [...]byte{'I', 'T', 'B', 'L'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Item: magic(4) | ver(1) | kind(1=item) | epoch(u64 be) | vlen(u32 be) | payload(vlen)
//
// epoch is the table's update generation at write time; it is diagnostic only
// (entries from older epochs are valid), but decode is strict so foreign bytes
// under a table's keyspace are detected rather than misread.
func EncodeItem(epoch uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindItem)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], epoch)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func DecodeItem(b []byte) (epoch uint64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindItem {
		return 0, nil, ErrCorrupt
	}

	off := 6

	epoch = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // strict: no trailing bytes
		return 0, nil, ErrCorrupt
	}

	return epoch, b[off : off+vlen], nil
}

// Snapshot:
//
//	magic(4) | ver(1) | kind(2=snap) | epoch(u64 be) | n(u32 be)
//	keyLen(u16 be) | key(keyLen) | hash(32) | vlen(u32 be) | payload(vlen) * n
//
// Items must be sorted by key before encoding so equal tables produce equal
// snapshot bytes.
type SnapItem struct {
	Key     string
	Hash    [HashLen]byte
	Payload []byte
}

func EncodeSnapshot(epoch uint64, items []SnapItem) ([]byte, error) {
	total := 4 + 1 + 1 + 8 + 4
	for _, it := range items {
		total += 2 + len(it.Key) + HashLen + 4 + len(it.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindSnap)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], epoch)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(items)))
	buf.Write(u4[:])

	for _, it := range items {
		if l := len(it.Key); l == 0 || l > 0xFFFF {
			return nil, errors.New("incrtable: invalid key length in snapshot")
		}
		binary.BigEndian.PutUint16(u2[:], uint16(len(it.Key)))
		buf.Write(u2[:])
		buf.WriteString(it.Key)

		buf.Write(it.Hash[:])

		binary.BigEndian.PutUint32(u4[:], uint32(len(it.Payload)))
		buf.Write(u4[:])
		buf.Write(it.Payload)
	}

	return buf.Bytes(), nil
}

func DecodeSnapshot(b []byte) (epoch uint64, items []SnapItem, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindSnap {
		return 0, nil, ErrCorrupt
	}

	off := 6

	epoch = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if n < 0 {
		return 0, nil, ErrCorrupt
	}

	// no preallocation by n: a bogus header must not commit memory
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return 0, nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return 0, nil, ErrCorrupt
		}

		keyBytes := b[off : off+klen]
		off += klen

		if off+HashLen > len(b) {
			return 0, nil, ErrCorrupt
		}
		var h [HashLen]byte
		copy(h[:], b[off:off+HashLen])
		off += HashLen

		if off+4 > len(b) {
			return 0, nil, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return 0, nil, ErrCorrupt
		}

		payload := b[off : off+vlen]
		off += vlen

		items = append(items, SnapItem{
			Key:     string(keyBytes), // one expected alloc per item
			Hash:    h,
			Payload: payload,
		})
	}
	if off != len(b) { // strict: no trailing bytes
		return 0, nil, ErrCorrupt
	}

	return epoch, items, nil
}
