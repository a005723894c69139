package core

import (
	"fmt"
	"math"

	"github.com/arlobytes/kvlog/internal/kvcrc"
	"github.com/arlobytes/kvlog/internal/kvio"
)

// Record layout (28-byte header, little-endian):
//
//	0..4   magic    0x314C564B ("KVL1")
//	4      version  0x01
//	5      opcode   1 = SET, 2 = DEL
//	6..8   reserved zero
//	8..16  seq      u64
//	16..20 klen     u32
//	20..24 vlen     u32 (0 for DEL)
//	24..28 crc      u32, over bytes [4..24) || key || value
//	28..   key
//	...    value (absent for DEL)
const (
	recordMagic     uint32 = 0x314C564B
	recordVersion   byte   = 0x01
	recordHeaderLen int    = 28

	opSet byte = 1
	opDel byte = 2
)

// Location points at a single record within a segment.
type Location struct {
	SegmentID uint32
	Offset    uint64
	Size      uint32
	Seq       uint64
	Tombstone bool
}

// encodeRecord assembles a complete on-disk record, computing its CRC.
// Fails if key or value exceeds 2^32-1 bytes.
func encodeRecord(op byte, seq uint64, key, value []byte) ([]byte, error) {
	if uint64(len(key)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}

	vlen := 0
	if op == opSet {
		vlen = len(value)
	}
	if uint64(vlen) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrValueTooLarge, vlen)
	}

	total := recordHeaderLen + len(key) + vlen
	buf := make([]byte, total)

	kvio.PutUint32(buf[0:4], recordMagic)
	buf[4] = recordVersion
	buf[5] = op
	// buf[6:8] reserved, left zero
	kvio.PutUint64(buf[8:16], seq)
	kvio.PutUint32(buf[16:20], uint32(len(key)))
	kvio.PutUint32(buf[20:24], uint32(vlen))

	copy(buf[28:28+len(key)], key)
	if op == opSet {
		copy(buf[28+len(key):], value)
	}

	crcInput := make([]byte, 0, 20+len(key)+vlen)
	crcInput = append(crcInput, buf[4:24]...)
	crcInput = append(crcInput, buf[28:]...)
	kvio.PutUint32(buf[24:28], kvcrc.Sum(crcInput))

	return buf, nil
}

// recordHeader is the decoded fixed-width prefix of a record.
type recordHeader struct {
	magic   uint32
	version byte
	op      byte
	seq     uint64
	klen    uint32
	vlen    uint32
	crc     uint32
}

func decodeHeader(hdr []byte) recordHeader {
	return recordHeader{
		magic:   kvio.Uint32(hdr[0:4]),
		version: hdr[4],
		op:      hdr[5],
		seq:     kvio.Uint64(hdr[8:16]),
		klen:    kvio.Uint32(hdr[16:20]),
		vlen:    kvio.Uint32(hdr[20:24]),
		crc:     kvio.Uint32(hdr[24:28]),
	}
}
