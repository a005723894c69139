package core

import (
	"fmt"
	"path/filepath"

	"github.com/arlobytes/kvlog/internal/kvcrc"
	"github.com/arlobytes/kvlog/internal/kvio"
)

func segmentPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.log", id))
}

// segment owns one on-disk log file. An active segment is opened in
// append mode and tracks its own size; a read-only segment (served from
// the store's cache or opened ephemerally during compaction) only ever
// has values read out of it.
type segment struct {
	id   uint32
	path string
	f    *kvio.File
	size int64 // meaningful for the active segment only
}

func newActiveSegment(dir string, id uint32) (*segment, error) {
	path := segmentPath(dir, id)
	f, err := kvio.OpenAppend(path)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{id: id, path: path, f: f, size: size}, nil
}

func openReadonlySegment(dir string, id uint32) (*segment, error) {
	path := segmentPath(dir, id)
	f, err := kvio.OpenReadonly(path)
	if err != nil {
		return nil, err
	}
	return &segment{id: id, path: path, f: f}, nil
}

func (s *segment) close() error {
	return s.f.Close()
}

// append writes a single record and returns its Location. Durability is
// the caller's choice: when durable is true the write is flushed before
// returning.
func (s *segment) append(op byte, seq uint64, key, value []byte, durable bool) (Location, error) {
	buf, err := encodeRecord(op, seq, key, value)
	if err != nil {
		return Location{}, err
	}

	off, err := s.f.Append(buf)
	if err != nil {
		return Location{}, fmt.Errorf("append to segment %06d: %w", s.id, err)
	}
	s.size = off + int64(len(buf))

	if durable {
		if err := s.f.Flush(); err != nil {
			return Location{}, fmt.Errorf("flush segment %06d: %w", s.id, err)
		}
	}

	return Location{
		SegmentID: s.id,
		Offset:    uint64(off),
		Size:      uint32(len(buf)),
		Seq:       seq,
		Tombstone: op == opDel,
	}, nil
}

// readValue reads the value for a SET record at loc. It verifies the
// magic and opcode but, per the header having already been validated at
// write time or during the last scan, does not recompute the checksum.
func (s *segment) readValue(loc Location) ([]byte, error) {
	var hdr [recordHeaderLen]byte
	if err := s.f.ReadAt(int64(loc.Offset), hdr[:]); err != nil {
		return nil, fmt.Errorf("read header at %d in segment %06d: %w", loc.Offset, s.id, err)
	}

	h := decodeHeader(hdr[:])
	if h.magic != recordMagic {
		return nil, fmt.Errorf("%w: bad magic in segment %06d at offset %d", ErrCorrupt, s.id, loc.Offset)
	}
	if h.op != opSet {
		return nil, fmt.Errorf("%w: expected SET opcode, got %d in segment %06d at offset %d", ErrCorrupt, h.op, s.id, loc.Offset)
	}

	if h.vlen == 0 {
		return []byte{}, nil
	}

	value := make([]byte, h.vlen)
	valOff := int64(loc.Offset) + int64(recordHeaderLen) + int64(h.klen)
	if err := s.f.ReadAt(valOff, value); err != nil {
		return nil, fmt.Errorf("read value at %d in segment %06d: %w", valOff, s.id, err)
	}

	return value, nil
}

// scannedRecord is handed to a scan callback. Key is owned (safe to
// retain, e.g. as a map key); Value is borrowed and must not be retained
// past the callback call; copy it if the caller needs to keep it.
type scannedRecord struct {
	Key   []byte
	Value []byte
	Loc   Location
}

// scan performs a sequential recovery read of the segment, starting at
// offset 0. It stops cleanly (without returning an error) at the first
// sign of a torn or corrupt trailing record: bad magic/version, a record
// whose declared length would run past the file's size, or a checksum
// mismatch. Everything at or after the offending record is discarded for
// recovery purposes; everything before it remains authoritative.
//
// cb is invoked once per valid record in append order. Returning false
// from cb stops the scan early without error.
func (s *segment) scan(cb func(rec scannedRecord) bool) error {
	size, err := s.f.Size()
	if err != nil {
		return fmt.Errorf("stat segment %06d: %w", s.id, err)
	}

	var pos int64
	for pos+int64(recordHeaderLen) <= size {
		var hdr [recordHeaderLen]byte
		if err := s.f.ReadAt(pos, hdr[:]); err != nil {
			return fmt.Errorf("read header at %d in segment %06d: %w", pos, s.id, err)
		}

		h := decodeHeader(hdr[:])
		if h.magic != recordMagic || h.version != recordVersion {
			break // torn or foreign tail: truncate recovery here
		}

		recSize := int64(recordHeaderLen) + int64(h.klen) + int64(h.vlen)
		if pos+recSize > size {
			break // declared length runs past EOF: torn tail
		}

		body := make([]byte, int64(h.klen)+int64(h.vlen))
		if len(body) > 0 {
			if err := s.f.ReadAt(pos+int64(recordHeaderLen), body); err != nil {
				return fmt.Errorf("read body at %d in segment %06d: %w", pos, s.id, err)
			}
		}

		crcInput := make([]byte, 0, 20+len(body))
		crcInput = append(crcInput, hdr[4:24]...)
		crcInput = append(crcInput, body...)
		if kvcrc.Sum(crcInput) != h.crc {
			break // corrupt record: truncate recovery here
		}

		var value []byte
		if h.op == opSet {
			value = body[h.klen:]
		} else if h.op != opDel {
			break // unrecognized opcode: treat as corruption
		}

		rec := scannedRecord{
			Key:   body[:h.klen],
			Value: value,
			Loc: Location{
				SegmentID: s.id,
				Offset:    uint64(pos),
				Size:      uint32(recSize),
				Seq:       h.seq,
				Tombstone: h.op == opDel,
			},
		}

		if !cb(rec) {
			return nil
		}

		pos += recSize
	}

	return nil
}
