package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arlobytes/kvlog/internal/kvio"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// Hint file layout (little-endian):
//
//	0..4  magic  0x314E5448 ("HNT1")
//	4     version 0x01
//	5..9  file_id  u32, must equal the segment id
//	9..13 count    u32
//	then `count` entries:
//	  seq(8) tombstone(1) klen(4) record_size(4) offset(8) key(klen)
const (
	hintMagic      uint32 = 0x314E5448
	hintVersion    byte   = 0x01
	hintHeaderLen  int    = 13
	hintEntryFixed int    = 8 + 1 + 4 + 4 + 8
)

func hintPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.hint", id))
}

// writeHintFile (re)writes the hint sidecar for segment id from the final
// Location of each key that appears in it. The write is atomic: a crash
// between the temp write and the rename leaves the previous hint (or no
// hint) in place, never a half-written one.
func writeHintFile(dir string, id uint32, locs map[string]Location) error {
	count := len(locs)
	size := hintHeaderLen
	for key := range locs {
		size += hintEntryFixed + len(key)
	}

	buf := make([]byte, size)
	kvio.PutUint32(buf[0:4], hintMagic)
	buf[4] = hintVersion
	kvio.PutUint32(buf[5:9], id)
	kvio.PutUint32(buf[9:13], uint32(count))

	pos := hintHeaderLen
	for key, loc := range locs {
		tomb := byte(0)
		if loc.Tombstone {
			tomb = 1
		}
		kvio.PutUint64(buf[pos:pos+8], loc.Seq)
		pos += 8
		buf[pos] = tomb
		pos++
		kvio.PutUint32(buf[pos:pos+4], uint32(len(key)))
		pos += 4
		kvio.PutUint32(buf[pos:pos+4], loc.Size)
		pos += 4
		kvio.PutUint64(buf[pos:pos+8], loc.Offset)
		pos += 8
		copy(buf[pos:pos+len(key)], key)
		pos += len(key)
	}

	return kvio.WriteFileAtomic(hintPath(dir, id), buf)
}

// loadHintFile attempts to load the hint sidecar for segment id. It
// returns ok=false (never an error) for any reason the hint cannot be
// trusted: missing, short, bad magic/version, mismatched file_id, or
// stale relative to the segment's own modification time. In every such
// case bootstrap falls back to a full scan of the segment.
func loadHintFile(dir string, id uint32, log *zap.SugaredLogger) (map[string]Location, bool) {
	hpath := hintPath(dir, id)
	segPath := segmentPath(dir, id)

	hintInfo, err := os.Stat(hpath)
	if err != nil {
		return nil, false
	}
	segInfo, err := os.Stat(segPath)
	if err != nil {
		return nil, false
	}
	if hintInfo.ModTime().Before(segInfo.ModTime()) {
		log.Warnw("ignoring stale hint file", "segment", id, "hint_mtime", hintInfo.ModTime(), "segment_mtime", segInfo.ModTime())
		return nil, false
	}

	data, err := os.ReadFile(hpath)
	if err != nil {
		return nil, false
	}

	reject := func(reason string) (map[string]Location, bool) {
		log.Warnw("rejecting invalid hint file", "segment", id, "reason", reason, "fingerprint", xxh3.Hash(data))
		return nil, false
	}

	if len(data) < hintHeaderLen {
		return reject("short header")
	}
	if magic := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24; magic != hintMagic {
		return reject("bad magic")
	}
	if data[4] != hintVersion {
		return reject("bad version")
	}
	fileID := kvio.Uint32(data[5:9])
	if fileID != id {
		return reject("file_id mismatch")
	}
	count := kvio.Uint32(data[9:13])

	entries := make(map[string]Location, count)
	pos := hintHeaderLen
	for range count {
		if pos+hintEntryFixed > len(data) {
			return reject("truncated entry")
		}
		seq := kvio.Uint64(data[pos : pos+8])
		pos += 8
		tombstone := data[pos] != 0
		pos++
		klen := kvio.Uint32(data[pos : pos+4])
		pos += 4
		recSize := kvio.Uint32(data[pos : pos+4])
		pos += 4
		offset := kvio.Uint64(data[pos : pos+8])
		pos += 8

		if pos+int(klen) > len(data) {
			return reject("truncated key")
		}
		key := make([]byte, klen)
		copy(key, data[pos:pos+int(klen)])
		pos += int(klen)

		loc := Location{SegmentID: id, Offset: offset, Size: recSize, Seq: seq, Tombstone: tombstone}
		if existing, ok := entries[string(key)]; !ok || existing.Seq < seq {
			entries[string(key)] = loc
		}
	}

	return entries, true
}
