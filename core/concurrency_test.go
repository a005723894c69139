//go:build goexperiment.synctest

package core

import (
	"fmt"
	"sync"
	"testing"
	"testing/synctest"
)

// TestGetDuringCompactNeverObservesAMissingSegment writes a batch of keys,
// then runs one reader and one compactor concurrently against the same
// store inside a synctest bubble. It checks that the reader never gets an
// error (such as one caused by a segment being removed out from under
// it) and that every key still reads back its value after Compact.
func TestGetDuringCompactNeverObservesAMissingSegment(t *testing.T) {
	synctest.Run(func() {
		dir := t.TempDir()
		st, err := Open(dir, WithSegmentMaxBytes(64))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer st.Close()

		const keys = 20
		for i := range keys {
			key := fmt.Sprintf("key-%d", i)
			if err := st.Put([]byte(key), []byte("v0")); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}

		var wg sync.WaitGroup
		var readErr error

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range keys {
				key := fmt.Sprintf("key-%d", i)
				if _, err := st.Get([]byte(key)); err != nil {
					readErr = fmt.Errorf("Get(%s): %w", key, err)
					return
				}
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.Compact(); err != nil {
				t.Errorf("Compact: %v", err)
			}
		}()

		synctest.Wait()
		wg.Wait()

		if readErr != nil {
			t.Fatalf("reader observed a segment removed mid-read: %v", readErr)
		}

		for i := range keys {
			key := fmt.Sprintf("key-%d", i)
			val, err := st.Get([]byte(key))
			if err != nil {
				t.Fatalf("Get(%s) after compact: %v", key, err)
			}
			if string(val) != "v0" {
				t.Errorf("Get(%s) = %q, want %q", key, val, "v0")
			}
		}
	})
}
