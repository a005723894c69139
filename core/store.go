// Package core implements the bitcask-style log-structured key-value
// engine: record format, segment files, hint-file acceleration, and the
// Store that ties bootstrap, indexing, and compaction together.
package core

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// Store is a persistent, crash-resilient key-value store built on an
// append-only log with an in-memory index. See record.go and hint.go for
// the on-disk formats and Open for the recovery protocol.
type Store struct {
	dir string

	mu         sync.RWMutex
	index      map[string]Location
	segmentIDs []uint32 // sorted ascending; always includes active's id
	active     *segment
	seq        uint64
	closed     bool

	cacheMu sync.Mutex
	roCache map[uint32]*segment

	segmentMaxBytes  int64
	fsyncEachWrite   bool
	hintFilesEnabled bool
	log              *zap.SugaredLogger
}

// Open bootstraps a Store from dir, creating it if missing. Bootstrap
// enumerates *.log files, replays each segment (via its hint file when
// valid, otherwise a full scan), merges per-key Locations into a single
// index using "highest seq wins", and opens the highest-id segment (or a
// fresh id 1) as active.
func Open(dir string, opts ...Option) (*Store, error) {
	st := &Store{
		dir:              dir,
		index:            make(map[string]Location),
		roCache:          make(map[uint32]*segment),
		segmentMaxBytes:  defaultSegmentMaxBytes,
		fsyncEachWrite:   defaultFsyncEachWrite,
		hintFilesEnabled: true,
		log:              zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(st)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", dir, err)
	}

	ids, err := listSegmentIDs(dir, st.log)
	if err != nil {
		return nil, err
	}

	var maxSeq uint64
	for _, id := range ids {
		var locs map[string]Location
		var ok bool
		if st.hintFilesEnabled {
			locs, ok = loadHintFile(dir, id, st.log)
		}
		if !ok {
			locs, err = scanSegmentForIndex(dir, id)
			if err != nil {
				return nil, fmt.Errorf("scan segment %06d: %w", id, err)
			}
			if st.hintFilesEnabled {
				if err := writeHintFile(dir, id, locs); err != nil {
					st.log.Warnw("failed to write hint file after scan", "segment", id, "error", err)
				}
			}
		}

		for key, loc := range locs {
			if existing, exists := st.index[key]; !exists || existing.Seq < loc.Seq {
				st.index[key] = loc
			}
			if loc.Seq > maxSeq {
				maxSeq = loc.Seq
			}
		}
		st.segmentIDs = append(st.segmentIDs, id)
	}

	st.seq = maxSeq

	activeID := uint32(1)
	if len(st.segmentIDs) > 0 {
		activeID = st.segmentIDs[len(st.segmentIDs)-1]
	} else {
		st.segmentIDs = append(st.segmentIDs, activeID)
	}

	active, err := newActiveSegment(dir, activeID)
	if err != nil {
		return nil, fmt.Errorf("open active segment %06d: %w", activeID, err)
	}
	st.active = active

	return st, nil
}

// listSegmentIDs enumerates *.log files in dir whose basename is exactly
// six decimal digits, sorted ascending. Filenames that end in .log but
// don't fit that shape are logged as a warning (they're left on disk,
// never deleted) and excluded.
func listSegmentIDs(dir string, log *zap.SugaredLogger) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	allLogNames := mapset.NewSet[string]()
	validNames := mapset.NewSet[string]()
	var ids []uint32

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		allLogNames.Add(name)

		base := strings.TrimSuffix(name, ".log")
		if len(base) != 6 || !isSixDigits(base) {
			continue
		}
		id64, err := strconv.ParseUint(base, 10, 32)
		if err != nil {
			continue
		}

		validNames.Add(name)
		ids = append(ids, uint32(id64))
	}

	if orphaned := allLogNames.Difference(validNames); orphaned.Cardinality() > 0 {
		log.Warnw("ignoring segment files with malformed names", "files", orphaned.ToSlice())
	}

	slices.Sort(ids)
	return ids, nil
}

func isSixDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// scanSegmentForIndex scans segment id end to end and returns the last
// Location written for each key within that segment.
func scanSegmentForIndex(dir string, id uint32) (map[string]Location, error) {
	seg, err := openReadonlySegment(dir, id)
	if err != nil {
		return nil, err
	}
	defer seg.close()

	locs := make(map[string]Location)
	err = seg.scan(func(rec scannedRecord) bool {
		key := string(rec.Key)
		if existing, ok := locs[key]; !ok || existing.Seq < rec.Loc.Seq {
			locs[key] = rec.Loc
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return locs, nil
}

// Put writes key=value, rolling the active segment first if it has
// grown past its configured limit.
func (st *Store) Put(key, value []byte) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return ErrClosed
	}
	if err := st.rollIfNeededLocked(); err != nil {
		return err
	}

	st.seq++
	loc, err := st.active.append(opSet, st.seq, key, value, st.fsyncEachWrite)
	if err != nil {
		return err
	}
	st.index[string(key)] = loc
	return nil
}

// Delete tombstones key if it is currently live, returning true iff it
// was. Deleting a missing or already-tombstoned key is not an error.
func (st *Store) Delete(key []byte) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return false, ErrClosed
	}

	existing, ok := st.index[string(key)]
	if !ok || existing.Tombstone {
		return false, nil
	}

	if err := st.rollIfNeededLocked(); err != nil {
		return false, err
	}

	st.seq++
	loc, err := st.active.append(opDel, st.seq, key, nil, st.fsyncEachWrite)
	if err != nil {
		return false, err
	}
	st.index[string(key)] = loc
	return true, nil
}

// Get looks up key and returns its current value, or ErrKeyNotFound if
// the key is absent or tombstoned. The read lock is held for the whole
// call, not just the index lookup, so a concurrent Compact (which takes
// the lock exclusively before touching segment files) can never remove
// the segment Get is reading from out from under it.
func (st *Store) Get(key []byte) ([]byte, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.closed {
		return nil, ErrClosed
	}

	loc, ok := st.index[string(key)]
	if !ok || loc.Tombstone {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	seg, err := st.cachedSegment(loc.SegmentID)
	if err != nil {
		return nil, err
	}

	val, err := seg.readValue(loc)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return val, nil
}

// cachedSegment returns a read-only handle for segment id, opening and
// caching it on first miss.
func (st *Store) cachedSegment(id uint32) (*segment, error) {
	st.cacheMu.Lock()
	defer st.cacheMu.Unlock()

	if seg, ok := st.roCache[id]; ok {
		return seg, nil
	}

	seg, err := openReadonlySegment(st.dir, id)
	if err != nil {
		return nil, fmt.Errorf("open segment %06d: %w", id, err)
	}
	st.roCache[id] = seg
	return seg, nil
}

// rollIfNeededLocked rolls the active segment into a sealed one and
// opens a fresh active segment if the current one has reached its size
// limit. Callers must hold mu exclusively.
func (st *Store) rollIfNeededLocked() error {
	if st.active.size < st.segmentMaxBytes {
		return nil
	}

	sealedID := st.active.id
	if err := st.active.close(); err != nil {
		return fmt.Errorf("seal segment %06d: %w", sealedID, err)
	}

	newID := st.segmentIDs[len(st.segmentIDs)-1] + 1
	newSeg, err := newActiveSegment(st.dir, newID)
	if err != nil {
		return fmt.Errorf("create segment %06d: %w", newID, err)
	}

	st.segmentIDs = append(st.segmentIDs, newID)
	st.active = newSeg
	return nil
}

// Compact rewrites every live key into a fresh segment and deletes the
// segments it replaces. It runs under the exclusive lock: concurrent
// puts, deletes, and gets all block until it completes.
func (st *Store) Compact() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return ErrClosed
	}

	newID := st.segmentIDs[len(st.segmentIDs)-1] + 1
	outSeg, err := newActiveSegment(st.dir, newID)
	if err != nil {
		return fmt.Errorf("create compaction segment %06d: %w", newID, err)
	}

	oldIDs := append([]uint32(nil), st.segmentIDs...)
	oldActive := st.active
	newLocs := make(map[string]Location, len(st.index))

	for key, loc := range st.index {
		if loc.Tombstone {
			// Tombstones are dropped, not copied forward: the segment
			// holding this DEL record is about to be removed, and
			// nothing should resurrect the key after compaction.
			delete(st.index, key)
			continue
		}

		val, err := st.readValueForCompaction(loc, oldActive)
		if err != nil {
			_ = outSeg.close()
			return fmt.Errorf("read %q from segment %06d during compaction: %w", key, loc.SegmentID, err)
		}

		st.seq++
		newLoc, err := outSeg.append(opSet, st.seq, []byte(key), val, st.fsyncEachWrite)
		if err != nil {
			_ = outSeg.close()
			return fmt.Errorf("write %q to compaction segment: %w", key, err)
		}

		st.index[key] = newLoc
		newLocs[key] = newLoc
	}

	if err := oldActive.close(); err != nil {
		st.log.Warnw("close old active segment after compaction", "segment", oldActive.id, "error", err)
	}

	st.active = outSeg
	st.segmentIDs = []uint32{newID}

	for _, id := range oldIDs {
		if id == newID {
			continue
		}
		if err := os.Remove(segmentPath(st.dir, id)); err != nil && !os.IsNotExist(err) {
			st.log.Warnw("remove old segment after compaction", "segment", id, "error", err)
		}
		if err := os.Remove(hintPath(st.dir, id)); err != nil && !os.IsNotExist(err) {
			st.log.Warnw("remove old hint file after compaction", "segment", id, "error", err)
		}
	}

	if st.hintFilesEnabled {
		if err := writeHintFile(st.dir, newID, newLocs); err != nil {
			st.log.Warnw("write hint file after compaction", "segment", newID, "error", err)
		}
	}

	st.cacheMu.Lock()
	for id, seg := range st.roCache {
		_ = seg.close()
		delete(st.roCache, id)
	}
	st.cacheMu.Unlock()

	return nil
}

// readValueForCompaction reads loc's value, reusing the still-open old
// active segment handle when loc points into it and opening the segment
// read-only and ephemerally (not cached) otherwise.
func (st *Store) readValueForCompaction(loc Location, oldActive *segment) ([]byte, error) {
	if loc.SegmentID == oldActive.id {
		return oldActive.readValue(loc)
	}

	seg, err := openReadonlySegment(st.dir, loc.SegmentID)
	if err != nil {
		return nil, err
	}
	defer seg.close()
	return seg.readValue(loc)
}

// Flush forces the active segment to stable storage. It is advisory
// when fsync_each_write is already true, but flushes unconditionally
// regardless of that setting.
func (st *Store) Flush() error {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.closed {
		return ErrClosed
	}
	return st.active.f.Flush()
}

// DiskSize returns the sum of all on-disk segment file sizes.
func (st *Store) DiskSize() (int64, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.closed {
		return 0, ErrClosed
	}

	var total int64
	for _, id := range st.segmentIDs {
		if id == st.active.id {
			size, err := st.active.f.Size()
			if err != nil {
				return 0, fmt.Errorf("stat active segment %06d: %w", id, err)
			}
			total += size
			continue
		}

		info, err := os.Stat(segmentPath(st.dir, id))
		if err != nil {
			return 0, fmt.Errorf("stat segment %06d: %w", id, err)
		}
		total += info.Size()
	}
	return total, nil
}

// Close flushes and closes the active segment and every cached read-only
// segment. The Store is unusable afterward.
func (st *Store) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil
	}
	st.closed = true

	var firstErr error
	if err := st.active.f.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("flush active segment %06d: %w", st.active.id, err)
	}
	if err := st.active.close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close active segment %06d: %w", st.active.id, err)
	}

	st.cacheMu.Lock()
	for id, seg := range st.roCache {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close cached segment %06d: %w", id, err)
		}
		delete(st.roCache, id)
	}
	st.cacheMu.Unlock()

	return firstErr
}
