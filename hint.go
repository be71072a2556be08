package cask

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// hintWriter appends (key, record_pointer) entries for one merge output
// segment to its hint sidecar:
//
//	key_len(varint) | key | file_id(varint) | offset(varint) | record_size(varint)
//
// Hint files are a pure recovery optimization: a missing or unreadable one
// just means recovery falls back to replaying the segment's data records.
type hintWriter struct {
	f *os.File
	w *bufio.Writer
}

func createHintFile(dir string, id fileID) (*hintWriter, error) {
	f, err := os.OpenFile(hintFilePath(dir, id), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: create hint file: %w", ErrIO, err)
	}
	return &hintWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (h *hintWriter) write(key []byte, ptr recordPointer) error {
	var buf [binary.MaxVarintLen64]byte
	if err := h.writeUvarint(buf[:], uint64(len(key))); err != nil {
		return err
	}
	if _, err := h.w.Write(key); err != nil {
		return fmt.Errorf("%w: write hint entry: %w", ErrIO, err)
	}
	if err := h.writeUvarint(buf[:], uint64(ptr.FileID)); err != nil {
		return err
	}
	if err := h.writeUvarint(buf[:], uint64(ptr.Offset)); err != nil {
		return err
	}
	if err := h.writeUvarint(buf[:], uint64(ptr.RecordSize)); err != nil {
		return err
	}
	return nil
}

func (h *hintWriter) writeUvarint(buf []byte, v uint64) error {
	n := binary.PutUvarint(buf, v)
	if _, err := h.w.Write(buf[:n]); err != nil {
		return fmt.Errorf("%w: write hint entry: %w", ErrIO, err)
	}
	return nil
}

func (h *hintWriter) close() error {
	if err := h.w.Flush(); err != nil {
		h.f.Close()
		return fmt.Errorf("%w: flush hint file: %w", ErrIO, err)
	}
	if err := h.f.Sync(); err != nil {
		h.f.Close()
		return fmt.Errorf("%w: sync hint file: %w", ErrIO, err)
	}
	if err := h.f.Close(); err != nil {
		return fmt.Errorf("%w: close hint file: %w", ErrIO, err)
	}
	return nil
}

// readHintFile loads every (key, record_pointer) entry from segment id's
// hint sidecar in dir, calling fn for each in file order.
func readHintFile(dir string, id fileID, fn func(key []byte, ptr recordPointer)) error {
	data, err := os.ReadFile(hintFilePath(dir, id))
	if err != nil {
		return fmt.Errorf("%w: read hint file: %w", ErrIO, err)
	}

	pos := 0
	readUv := func() (uint64, error) {
		v, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return 0, fmt.Errorf("%w: malformed hint file for segment %09d", ErrCorruptLog, id)
		}
		pos += n
		return v, nil
	}

	for pos < len(data) {
		keyLen, err := readUv()
		if err != nil {
			return err
		}
		if pos+int(keyLen) > len(data) {
			return fmt.Errorf("%w: truncated hint file for segment %09d", ErrCorruptLog, id)
		}
		key := make([]byte, keyLen)
		copy(key, data[pos:pos+int(keyLen)])
		pos += int(keyLen)

		fid, err := readUv()
		if err != nil {
			return err
		}
		offset, err := readUv()
		if err != nil {
			return err
		}
		size, err := readUv()
		if err != nil {
			return err
		}
		fn(key, recordPointer{FileID: fileID(fid), Offset: int64(offset), RecordSize: int64(size)})
	}
	return nil
}
