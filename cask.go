// Package cask implements a persistent key-value store on the Bitcask
// log-structured model: every mutation is appended to an on-disk segment
// log, point reads are served from an in-memory key→location index, and a
// merge procedure periodically reclaims space held by overwritten or
// deleted records.
package cask

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DB is an open Bitcask database. A DB is safe for concurrent use by
// multiple goroutines: the write path (Put, Delete, Batch.Commit, Merge)
// is serialized through one logical writer, while Get, ListKeys, Stats and
// Iterator proceed without blocking on it except transiently.
type DB struct {
	dir  string
	opts Options
	lock *processLock

	// writeMu enforces spec.md §4.5's single-writer discipline: only the
	// holder of writeMu may append to the active segment or mutate the
	// index via a write path.
	writeMu sync.Mutex

	// filesMu guards which segment is active and the set of older,
	// immutable segments, so Get/iteration can resolve a recordPointer to
	// a *dataFile concurrently with the writer rotating segments.
	filesMu  sync.RWMutex
	active   *dataFile
	activeID fileID
	older    map[fileID]*dataFile

	idx index

	reclaimable int64  // atomic; bytes of superseded records awaiting merge
	seqNo       uint64 // atomic; batch txn_seq high-water mark

	mergeMu   sync.Mutex
	isMerging bool

	closeMu sync.Mutex
	closed  bool

	mergeLoopDone chan struct{}
}

// Open opens (creating if necessary) a Bitcask database rooted at dir.
// Only one process may hold a given dir open at a time; a second Open
// fails with ErrDBInUse.
func Open(dir string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory %s: %w", ErrIO, dir, err)
	}

	lock, err := acquireProcessLock(lockFilePath(dir))
	if err != nil {
		return nil, err
	}

	if err := completeMergeCutoverIfPending(dir); err != nil {
		lock.release()
		return nil, err
	}

	db := &DB{
		dir:   dir,
		opts:  DefaultOptions(),
		lock:  lock,
		older: make(map[fileID]*dataFile),
	}
	for _, opt := range opts {
		opt(&db.opts)
	}
	db.idx = newIndex(db.opts.IndexType)

	if err := db.openSegments(); err != nil {
		lock.release()
		return nil, err
	}
	if err := db.loadIndex(); err != nil {
		db.closeSegments()
		lock.release()
		return nil, err
	}

	if db.opts.MergeInterval > 0 {
		db.mergeLoopDone = make(chan struct{})
		go db.runMergeLoop()
	}

	return db, nil
}

// runMergeLoop calls MergeIfDue on opts.MergeInterval until Close stops it,
// the way the teacher's periodicMerge ticker drives its own merge.
func (db *DB) runMergeLoop() {
	ticker := time.NewTicker(db.opts.MergeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-db.mergeLoopDone:
			return
		case <-ticker.C:
			err := db.MergeIfDue()
			if err != nil && err != ErrMergeRatioNotMet && err != ErrMergeInProgress {
				log.Printf("cask: background merge of %s failed: %v", db.dir, err)
			}
		}
	}
}

// openSegments discovers existing segments (or creates the first one) and
// opens the non-active segments read-only and the highest-fileID segment
// for append, per spec.md §4.9 step 7.
func (db *DB) openSegments() error {
	ids, err := listSegmentIDs(db.dir)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		df, err := openDataFile(db.dir, 1)
		if err != nil {
			return err
		}
		db.active = df
		db.activeID = 1
		return nil
	}

	for _, id := range ids[:len(ids)-1] {
		df, err := openDataFileReadOnly(db.dir, id)
		if err != nil {
			return err
		}
		db.older[id] = df
	}

	lastID := ids[len(ids)-1]
	active, err := openDataFile(db.dir, lastID)
	if err != nil {
		return err
	}
	db.active = active
	db.activeID = lastID
	return nil
}

func (db *DB) closeSegments() {
	if db.active != nil {
		db.active.close()
	}
	for _, df := range db.older {
		df.close()
	}
}

// Put inserts or overwrites key with value. Put fails ErrEmptyKey for an
// empty key, ErrRecordTooLarge if the encoded record alone would exceed
// MaxFileSize, and ErrDBClosed after Close.
func (db *DB) Put(key, value []byte) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	ptr, err := db.appendRecord(&record{Type: RecordNormal, Key: key, Value: value})
	if err != nil {
		return err
	}

	old, hadOld := db.idx.put(key, ptr)
	if hadOld {
		atomic.AddInt64(&db.reclaimable, old.RecordSize)
	}
	return nil
}

// Get returns the value stored for key. It fails ErrKeyNotFound if key is
// absent or was last tombstoned.
func (db *DB) Get(key []byte) ([]byte, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	ptr, ok := db.idx.get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return db.readValueAt(key, ptr)
}

// readValueAt resolves ptr to a value, defensively verifying the decoded
// key matches the one the index pointed at (a mismatch signals index
// corruption rather than something a caller can retry past).
func (db *DB) readValueAt(key []byte, ptr recordPointer) ([]byte, error) {
	df, err := db.fileForPointer(ptr.FileID)
	if err != nil {
		return nil, err
	}

	rec, _, err := df.readAt(ptr.Offset)
	if err != nil {
		return nil, err
	}
	if rec.Type != RecordNormal {
		return nil, fmt.Errorf("%w: index points at non-normal record for key %q", ErrCorruptLog, key)
	}
	if string(rec.Key) != string(key) {
		return nil, fmt.Errorf("%w: index/log key mismatch for %q", ErrCorruptLog, key)
	}
	return rec.Value, nil
}

func (db *DB) fileForPointer(id fileID) (*dataFile, error) {
	db.filesMu.RLock()
	defer db.filesMu.RUnlock()

	if id == db.activeID {
		return db.active, nil
	}
	if df, ok := db.older[id]; ok {
		return df, nil
	}
	return nil, fmt.Errorf("%w: segment %09d not open", ErrCorruptLog, id)
}

// Delete removes key. It is idempotent: deleting an absent key succeeds
// silently, per spec.md §4.5.
func (db *DB) Delete(key []byte) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, ok := db.idx.get(key); !ok {
		return nil
	}

	if _, err := db.appendRecord(&record{Type: RecordTombstone, Key: key}); err != nil {
		return err
	}

	old, hadOld := db.idx.delete(key)
	if hadOld {
		atomic.AddInt64(&db.reclaimable, old.RecordSize)
	}
	return nil
}

// ListKeys returns every live key in ascending lexicographic order, as a
// snapshot of the index at call time.
func (db *DB) ListKeys() ([][]byte, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	keys := make([][]byte, 0, db.idx.size())
	db.idx.ascend(func(key []byte, _ recordPointer) bool {
		keys = append(keys, key)
		return true
	})
	return keys, nil
}

// Stats reports key_num, data_file_num, reclaimable_size and disk_size, per
// spec.md §4.5.
type Stats struct {
	KeyNum          int
	DataFileNum     int
	ReclaimableSize int64
	DiskSize        int64
}

// Stats computes the current database statistics.
func (db *DB) Stats() (Stats, error) {
	if err := db.checkOpen(); err != nil {
		return Stats{}, err
	}

	db.filesMu.RLock()
	defer db.filesMu.RUnlock()

	var diskSize int64
	if size, err := db.active.size(); err == nil {
		diskSize += size
	}
	for _, df := range db.older {
		if size, err := df.size(); err == nil {
			diskSize += size
		}
	}

	return Stats{
		KeyNum:          db.idx.size(),
		DataFileNum:     len(db.older) + 1,
		ReclaimableSize: atomic.LoadInt64(&db.reclaimable),
		DiskSize:        diskSize,
	}, nil
}

// Sync flushes the active segment's OS buffers to durable storage.
func (db *DB) Sync() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.filesMu.RLock()
	active := db.active
	db.filesMu.RUnlock()
	return active.sync()
}

// Close syncs and closes every open file handle and releases the process
// lock. Close is idempotent; operations after Close fail ErrDBClosed.
func (db *DB) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()
	if db.closed {
		return nil
	}

	if db.mergeLoopDone != nil {
		close(db.mergeLoopDone)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.filesMu.Lock()
	var firstErr error
	if err := db.active.sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.active.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, df := range db.older {
		if err := df.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	db.filesMu.Unlock()

	if err := db.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.closed = true
	return firstErr
}

func (db *DB) checkOpen() error {
	db.closeMu.Lock()
	closed := db.closed
	db.closeMu.Unlock()
	if closed {
		return ErrDBClosed
	}
	return nil
}

// appendRecord encodes rec, rotating the active segment first if it would
// not fit, and appends it. Callers must hold writeMu. Returns the pointer
// at which the record now lives.
func (db *DB) appendRecord(rec *record) (recordPointer, error) {
	encoded := rec.encode()
	if int64(len(encoded)) > db.opts.MaxFileSize {
		return recordPointer{}, ErrRecordTooLarge
	}

	db.filesMu.Lock()
	size, _ := db.active.size()
	if size+int64(len(encoded)) > db.opts.MaxFileSize {
		if err := db.rotateActiveLocked(); err != nil {
			db.filesMu.Unlock()
			return recordPointer{}, err
		}
	}
	active, activeID := db.active, db.activeID
	db.filesMu.Unlock()

	offset, err := active.append(encoded)
	if err != nil {
		return recordPointer{}, err
	}
	if db.opts.SyncWrites {
		if err := active.sync(); err != nil {
			return recordPointer{}, err
		}
	}

	return recordPointer{FileID: activeID, Offset: offset, RecordSize: int64(len(encoded))}, nil
}

// rotateActiveLocked seals the current active segment and opens the next
// one. Callers must hold filesMu for writing.
func (db *DB) rotateActiveLocked() error {
	if err := db.active.sync(); err != nil {
		return err
	}
	sealedID := db.activeID
	sealed := db.active
	if err := sealed.remapGrown(); err != nil {
		return err
	}
	db.older[sealedID] = sealed

	nextID := sealedID + 1
	next, err := openDataFile(db.dir, nextID)
	if err != nil {
		return err
	}
	db.active = next
	db.activeID = nextID
	return nil
}
