package cask

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestPutGetDelete(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	v, err := db.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("1")) {
		t.Errorf("got %q, want %q", v, "1")
	}

	if err := db.Delete([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get([]byte("a")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after Delete: got %v, want ErrKeyNotFound", err)
	}

	// deleting an absent key is a no-op, not an error
	if err := db.Delete([]byte("never-existed")); err != nil {
		t.Errorf("Delete of absent key: %v", err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Put(nil, []byte("v")); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Put(nil key): got %v, want ErrEmptyKey", err)
	}
	if _, err := db.Get(nil); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Get(nil key): got %v, want ErrEmptyKey", err)
	}
	if err := db.Delete(nil); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Delete(nil key): got %v, want ErrEmptyKey", err)
	}
}

func TestRecordTooLarge(t *testing.T) {
	db, err := Open(t.TempDir(), WithMaxFileSize(64))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	big := make([]byte, 1024)
	if err := db.Put([]byte("k"), big); !errors.Is(err, ErrRecordTooLarge) {
		t.Errorf("got %v, want ErrRecordTooLarge", err)
	}
}

func TestClosedDBRejectsOps(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	// Close is idempotent
	if err := db.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := db.Put([]byte("k"), []byte("v")); !errors.Is(err, ErrDBClosed) {
		t.Errorf("Put after Close: got %v, want ErrDBClosed", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrDBClosed) {
		t.Errorf("Get after Close: got %v, want ErrDBClosed", err)
	}
}

func TestSecondOpenFailsWhileInUse(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := Open(dir); !errors.Is(err, ErrDBInUse) {
		t.Errorf("second Open: got %v, want ErrDBInUse", err)
	}
}

func TestReopenAfterClose(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()

	v, err := db2.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("v")) {
		t.Errorf("got %q, want %q", v, "v")
	}
}

func TestSegmentRotation(t *testing.T) {
	db, err := Open(t.TempDir(), WithMaxFileSize(512))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%04d", i)
		if err := db.Put([]byte(key), []byte("some-value-to-fill-segments")); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.DataFileNum < 2 {
		t.Errorf("expected multiple segments from rotation, got %d", stats.DataFileNum)
	}
	if stats.KeyNum != 200 {
		t.Errorf("got %d keys, want 200", stats.KeyNum)
	}

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%04d", i)
		if _, err := db.Get([]byte(key)); err != nil {
			t.Errorf("Get(%s): %v", key, err)
		}
	}
}

func TestStatsReclaimable(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	stats, _ := db.Stats()
	if stats.ReclaimableSize != 0 {
		t.Errorf("after first write, reclaimable = %d, want 0", stats.ReclaimableSize)
	}

	if err := db.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	stats, _ = db.Stats()
	if stats.ReclaimableSize == 0 {
		t.Error("overwrite should make the old record reclaimable")
	}
}

func TestListKeysOrder(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for _, k := range []string{"banana", "apple", "cherry"} {
		if err := db.Put([]byte(k), []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := db.ListKeys()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"apple", "banana", "cherry"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i, k := range keys {
		if string(k) != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, k, want[i])
		}
	}
}

func TestConcurrentPutGet(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	const numGoroutines = 10
	const numOps = 500

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				key := []byte(fmt.Sprintf("key-%d-%d", id, j))
				value := []byte(fmt.Sprintf("value-%d-%d", id, j))
				if err := db.Put(key, value); err != nil {
					t.Errorf("Put failed: %v", err)
				}
				if _, err := db.Get(key); err != nil {
					t.Errorf("Get failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestConcurrentReadWrite(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	const numOps = 2000
	const numWriters = 3
	const numReaders = 5

	var wg sync.WaitGroup
	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				key := []byte(fmt.Sprintf("key-%d-%d", id, j))
				value := []byte(fmt.Sprintf("value-%d-%d", id, j))
				if err := db.Put(key, value); err != nil {
					t.Errorf("Put failed: %v", err)
				}
			}
		}(i)
	}
	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				writerID := j % numWriters
				key := []byte(fmt.Sprintf("key-%d-%d", writerID, j))
				if _, err := db.Get(key); err != nil && !errors.Is(err, ErrKeyNotFound) {
					t.Errorf("Get failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestDataConsistencyUnderConcurrency(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	const numGoroutines = 5
	const numOps = 1000

	keyValues := make(map[string][]byte)
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				key := fmt.Sprintf("key-%d-%d", id, j)
				value := []byte(fmt.Sprintf("value-%d-%d", id, j))
				if err := db.Put([]byte(key), value); err != nil {
					t.Errorf("Put failed: %v", err)
				}
				mu.Lock()
				keyValues[key] = value
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	for key, want := range keyValues {
		got, err := db.Get([]byte(key))
		if err != nil {
			t.Errorf("Get(%s): %v", key, err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Get(%s) = %q, want %q", key, got, want)
		}
	}
}

func TestWithIndexTypeART(t *testing.T) {
	db, err := Open(t.TempDir(), WithIndexType(IndexART))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	keys := []string{"user:1", "user:10", "user:100", "user:2", "username"}
	for _, k := range keys {
		if err := db.Put([]byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	for _, k := range keys {
		v, err := db.Get([]byte(k))
		if err != nil {
			t.Errorf("Get(%s): %v", k, err)
		}
		if string(v) != k {
			t.Errorf("Get(%s) = %q, want %q", k, v, k)
		}
	}
	if err := db.Delete([]byte("user:1")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get([]byte("user:1")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("got %v, want ErrKeyNotFound", err)
	}
	if _, err := db.Get([]byte("user:10")); err != nil {
		t.Errorf("sibling key affected by delete: %v", err)
	}
}
