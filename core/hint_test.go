package core

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestHintWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	// Hint loading checks the segment file's mtime, so a segment file
	// must exist (and be no newer than the hint) for the hint to be
	// trusted.
	segPath := segmentPath(dir, 1)
	if err := os.WriteFile(segPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fake segment: %v", err)
	}

	locs := map[string]Location{
		"foo": {SegmentID: 1, Offset: 0, Size: 10, Seq: 1},
		"bar": {SegmentID: 1, Offset: 10, Size: 12, Seq: 2, Tombstone: true},
	}
	if err := writeHintFile(dir, 1, locs); err != nil {
		t.Fatalf("writeHintFile: %v", err)
	}

	got, ok := loadHintFile(dir, 1, testLogger())
	if !ok {
		t.Fatal("loadHintFile returned ok=false for a freshly written hint")
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d entries, want 2", len(got))
	}
	if got["foo"].Seq != 1 || got["foo"].Size != 10 {
		t.Errorf("foo = %+v, want Seq=1 Size=10", got["foo"])
	}
	if !got["bar"].Tombstone {
		t.Error("bar should be a tombstone")
	}
}

func TestHintRejectedWhenMissing(t *testing.T) {
	dir := t.TempDir()
	_, ok := loadHintFile(dir, 1, testLogger())
	if ok {
		t.Error("loadHintFile should reject a hint that does not exist")
	}
}

func TestHintRejectedWhenStale(t *testing.T) {
	dir := t.TempDir()

	locs := map[string]Location{"foo": {SegmentID: 1, Offset: 0, Size: 10, Seq: 1}}
	if err := writeHintFile(dir, 1, locs); err != nil {
		t.Fatalf("writeHintFile: %v", err)
	}

	// Write the segment file after the hint, with a later mtime, so the
	// hint is now stale relative to it.
	segPath := segmentPath(dir, 1)
	if err := os.WriteFile(segPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fake segment: %v", err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(segPath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	_, ok := loadHintFile(dir, 1, testLogger())
	if ok {
		t.Error("loadHintFile should reject a hint older than its segment")
	}
}

func TestHintRejectedWhenTruncated(t *testing.T) {
	dir := t.TempDir()

	segPath := segmentPath(dir, 1)
	if err := os.WriteFile(segPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fake segment: %v", err)
	}

	locs := map[string]Location{"foo": {SegmentID: 1, Offset: 0, Size: 10, Seq: 1}}
	if err := writeHintFile(dir, 1, locs); err != nil {
		t.Fatalf("writeHintFile: %v", err)
	}

	hpath := hintPath(dir, 1)
	data, err := os.ReadFile(hpath)
	if err != nil {
		t.Fatalf("read hint: %v", err)
	}
	if err := os.WriteFile(hpath, data[:len(data)-3], 0o644); err != nil {
		t.Fatalf("truncate hint: %v", err)
	}

	_, ok := loadHintFile(dir, 1, testLogger())
	if ok {
		t.Error("loadHintFile should reject a truncated entry")
	}
}

func TestHintRejectedOnFileIDMismatch(t *testing.T) {
	dir := t.TempDir()

	segPath := segmentPath(dir, 2)
	if err := os.WriteFile(segPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fake segment: %v", err)
	}

	locs := map[string]Location{"foo": {SegmentID: 1, Offset: 0, Size: 10, Seq: 1}}
	if err := writeHintFile(dir, 1, locs); err != nil {
		t.Fatalf("writeHintFile: %v", err)
	}
	if err := os.Rename(hintPath(dir, 1), hintPath(dir, 2)); err != nil {
		t.Fatalf("rename hint: %v", err)
	}

	_, ok := loadHintFile(dir, 2, testLogger())
	if ok {
		t.Error("loadHintFile should reject a hint whose file_id doesn't match")
	}
}
