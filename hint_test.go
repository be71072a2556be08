package cask

import (
	"bytes"
	"errors"
	"testing"
)

func TestHintFileRoundTrip(t *testing.T) {
	dir := t.TempDir()

	entries := []struct {
		key []byte
		ptr recordPointer
	}{
		{[]byte("alpha"), recordPointer{FileID: 1, Offset: 0, RecordSize: 20}},
		{[]byte("beta"), recordPointer{FileID: 1, Offset: 20, RecordSize: 30}},
		{[]byte("gamma"), recordPointer{FileID: 2, Offset: 0, RecordSize: 1000}},
	}

	hw, err := createHintFile(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := hw.write(e.key, e.ptr); err != nil {
			t.Fatal(err)
		}
	}
	if err := hw.close(); err != nil {
		t.Fatal(err)
	}

	var got []struct {
		key []byte
		ptr recordPointer
	}
	err = readHintFile(dir, 1, func(key []byte, ptr recordPointer) {
		got = append(got, struct {
			key []byte
			ptr recordPointer
		}{key, ptr})
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, want := range entries {
		if !bytes.Equal(got[i].key, want.key) || got[i].ptr != want.ptr {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], want)
		}
	}
}

func TestHasHintFile(t *testing.T) {
	dir := t.TempDir()
	if hasHintFile(dir, 1) {
		t.Error("hasHintFile on nonexistent hint reported true")
	}
	hw, err := createHintFile(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	hw.close()
	if !hasHintFile(dir, 1) {
		t.Error("hasHintFile reported false after createHintFile")
	}
}

func TestReadHintFileMissingIsIOError(t *testing.T) {
	dir := t.TempDir()
	if err := readHintFile(dir, 99, func([]byte, recordPointer) {}); !errors.Is(err, ErrIO) {
		t.Errorf("got %v, want ErrIO reading a hint file that was never created", err)
	}
}
