package kvio

import (
	"fmt"
	"os"
)

// File is the file-handle abstraction segments are built on:
// create-if-missing append, concurrent-safe positional reads, size
// query, and durable flush. It is backed by *os.File opened in plain
// append mode (no seek-to-EOF dance, no generic read-write handle kept
// around for belt-and-braces); appends always land at EOF because the
// file was opened O_APPEND.
type File struct {
	f *os.File
}

// OpenAppend creates path if missing and opens it for append + read.
// Every subsequent Append call lands at EOF regardless of what any
// concurrent reader did to its own file offset, because reads go
// through ReadAt and writes go through an O_APPEND handle.
func OpenAppend(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %q for append: %w", path, err)
	}
	return &File{f: f}, nil
}

// OpenReadonly opens path for positional reads only. Multiple readers,
// including ones in other goroutines, may hold their own *File over the
// same path concurrently.
func OpenReadonly(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q readonly: %w", path, err)
	}
	return &File{f: f}, nil
}

// Size returns the file's current length in bytes.
func (rf *File) Size() (int64, error) {
	info, err := rf.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}
	return info.Size(), nil
}

// Append writes all of buf in a single call and returns the offset at
// which the write began. A short write is surfaced as an error rather
// than silently returning a partial length.
func (rf *File) Append(buf []byte) (int64, error) {
	off, err := rf.Size()
	if err != nil {
		return 0, err
	}

	n, err := rf.f.Write(buf)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("append: short write: wrote %d of %d bytes", n, len(buf))
	}

	return off, nil
}

// ReadAt fills buf entirely from offset off, failing if fewer bytes than
// len(buf) are available there.
func (rf *File) ReadAt(off int64, buf []byte) error {
	n, err := rf.f.ReadAt(buf, off)
	if err != nil {
		return fmt.Errorf("read at %d: %w", off, err)
	}
	if n != len(buf) {
		return fmt.Errorf("read at %d: short read: got %d of %d bytes", off, n, len(buf))
	}
	return nil
}

// Flush forces all previously appended bytes to stable storage.
func (rf *File) Flush() error {
	if err := rf.f.Sync(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close releases the underlying OS handle.
func (rf *File) Close() error {
	return rf.f.Close()
}
