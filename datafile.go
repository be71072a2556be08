package cask

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// fileID identifies a segment. IDs are assigned in strictly increasing
// creation order; the active segment always holds the maximum fileID.
type fileID uint32

// recordPointer uniquely identifies a live record in the log: which
// segment, at what offset, and how many bytes it occupies.
type recordPointer struct {
	FileID     fileID
	Offset     int64
	RecordSize int64
}

// dataFile is a single append-only segment. The active segment is opened
// for append and is the only one any writer touches; immutable (sealed)
// segments are opened read-only and their contents never change once
// mapped, so concurrent readAt calls need no locking beyond what the
// mmap/pread primitive itself provides.
type dataFile struct {
	id   fileID
	path string

	mu          sync.Mutex // guards f, writeOffset for the active (writable) file
	f           *os.File
	writeOffset int64

	mmapMu sync.RWMutex // guards mapped, remapping on growth
	mapped []byte
}

// openDataFile opens (creating if necessary) the segment identified by id in
// dir, ready for appends. Use openDataFileReadOnly for sealed segments that
// will only ever be read.
func openDataFile(dir string, id fileID) (*dataFile, error) {
	path := dataFilePath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open data file %s: %w", ErrIO, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat data file %s: %w", ErrIO, path, err)
	}
	df := &dataFile{id: id, path: path, f: f, writeOffset: info.Size()}
	return df, nil
}

// openDataFileReadOnly opens an existing, immutable segment for reading.
func openDataFileReadOnly(dir string, id fileID) (*dataFile, error) {
	path := dataFilePath(dir, id)
	f, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open data file %s: %w", ErrIO, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat data file %s: %w", ErrIO, path, err)
	}
	df := &dataFile{id: id, path: path, f: f, writeOffset: info.Size()}
	if data, ok := mmapReadOnly(f, info.Size()); ok {
		df.mapped = data
	}
	return df, nil
}

// append writes buf at the current end of the file and returns the offset
// the record started at. The writer is expected to serialize calls to
// append externally (the single-writer discipline of spec.md §4.5); append
// itself only protects writeOffset bookkeeping against concurrent readAt.
func (df *dataFile) append(buf []byte) (int64, error) {
	df.mu.Lock()
	defer df.mu.Unlock()

	offset := df.writeOffset
	n, err := df.f.Write(buf)
	if err != nil {
		return 0, fmt.Errorf("%w: write to %s: %w", ErrIO, df.path, err)
	}
	df.writeOffset += int64(n)
	return offset, nil
}

// readAt decodes the record starting at offset. It is safe to call
// concurrently, including against a dataFile that is simultaneously being
// appended to by the writer, because append only ever extends the file and
// never rewrites already-written bytes.
func (df *dataFile) readAt(offset int64) (*record, int, error) {
	df.mmapMu.RLock()
	mapped := df.mapped
	df.mmapMu.RUnlock()

	if mapped != nil && offset < int64(len(mapped)) {
		return decodeRecord(mapped[offset:])
	}

	// Active segment, or a sealed segment this process didn't mmap (e.g. on
	// a platform without unix.Mmap support): read directly via pread.
	header := make([]byte, maxVarintHeader)
	n, err := df.f.ReadAt(header, offset)
	if err != nil && n == 0 {
		if isEOF(err) {
			return nil, 0, ErrEndOfFile
		}
		return nil, 0, fmt.Errorf("%w: read %s at %d: %w", ErrIO, df.path, offset, err)
	}
	header = header[:n]

	rec, total, err := decodeRecord(header)
	if err == nil {
		return rec, total, nil
	}
	// The header may have been longer than our probe read (long key/value),
	// or the probe ran past EOF; grow the buffer to the file's current size
	// and retry once before giving up.
	size, statErr := df.size()
	if statErr != nil {
		return nil, 0, err
	}
	remaining := size - offset
	if remaining <= int64(len(header)) {
		return nil, 0, err
	}
	full := make([]byte, remaining)
	if _, err2 := df.f.ReadAt(full, offset); err2 != nil && !isEOF(err2) {
		return nil, 0, fmt.Errorf("%w: read %s at %d: %w", ErrIO, df.path, offset, err2)
	}
	return decodeRecord(full)
}

// sync flushes the segment's OS buffers to durable storage.
func (df *dataFile) sync() error {
	df.mu.Lock()
	defer df.mu.Unlock()
	if err := df.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrIO, df.path, err)
	}
	return nil
}

// size returns the current write offset (current length) of the segment.
func (df *dataFile) size() (int64, error) {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.writeOffset, nil
}

// remapGrown re-establishes the read-only mmap after the active segment has
// grown, so readers started after a rotation see the new bytes. Called by
// the writer after sealing a previously-active segment.
func (df *dataFile) remapGrown() error {
	size, _ := df.size()
	df.mmapMu.Lock()
	defer df.mmapMu.Unlock()
	if df.mapped != nil {
		munmap(df.mapped)
		df.mapped = nil
	}
	if data, ok := mmapReadOnly(df.f, size); ok {
		df.mapped = data
	}
	return nil
}

// truncateTo discards everything at or after offset, for recovery's tail
// truncation of a torn write on the highest-file_id segment (spec.md §4.9
// step 5). Callers must hold no concurrent append; this is only called
// during recovery, before the DB is returned to any caller.
func (df *dataFile) truncateTo(offset int64) error {
	df.mu.Lock()
	defer df.mu.Unlock()
	if err := df.f.Truncate(offset); err != nil {
		return fmt.Errorf("%w: truncate %s to %d: %w", ErrIO, df.path, offset, err)
	}
	if _, err := df.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("%w: seek %s: %w", ErrIO, df.path, err)
	}
	df.writeOffset = offset
	return nil
}

// close releases the file handle and any mmap. Idempotent.
func (df *dataFile) close() error {
	df.mmapMu.Lock()
	if df.mapped != nil {
		munmap(df.mapped)
		df.mapped = nil
	}
	df.mmapMu.Unlock()

	df.mu.Lock()
	defer df.mu.Unlock()
	if df.f == nil {
		return nil
	}
	err := df.f.Close()
	df.f = nil
	if err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, df.path, err)
	}
	return nil
}

// iterateFrom produces the sequence of (record, nextOffset) pairs starting
// at offset, calling fn for each. It stops at clean EOF, or when fn returns
// false, or when a corrupt record is encountered — in the corrupt case it
// returns ErrCorruptRecord so the caller (recovery) can decide whether tail
// truncation is permitted.
func (df *dataFile) iterateFrom(offset int64, fn func(rec *record, recOffset int64, total int) bool) error {
	for {
		rec, total, err := df.readAt(offset)
		if err == ErrEndOfFile {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(rec, offset, total) {
			return nil
		}
		offset += int64(total)
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
