package cask

import (
	"bytes"
	"errors"
	"testing"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	cases := []*record{
		{Type: RecordNormal, Key: []byte("hello"), Value: []byte("world")},
		{Type: RecordTombstone, Key: []byte("deleted-key")},
		{Type: RecordTxnCommit, TxnSeq: 42},
		{Type: RecordNormal, Key: []byte("batched"), Value: []byte("v"), TxnSeq: 7},
		{Type: RecordNormal, Key: []byte("k"), Value: []byte{}},
	}

	for _, want := range cases {
		encoded := want.encode()
		got, total, err := decodeRecord(encoded)
		if err != nil {
			t.Fatalf("decodeRecord(%+v): %v", want, err)
		}
		if total != len(encoded) {
			t.Errorf("total = %d, want %d", total, len(encoded))
		}
		if got.Type != want.Type || !bytes.Equal(got.Key, want.Key) || !bytes.Equal(got.Value, want.Value) || got.TxnSeq != want.TxnSeq {
			t.Errorf("decoded %+v, want %+v", got, want)
		}
	}
}

func TestRecordEncodeLengthMatchesEncodedLen(t *testing.T) {
	rec := &record{Type: RecordNormal, Key: []byte("some-key"), Value: []byte("some-value"), TxnSeq: 1000}
	if got, want := len(rec.encode()), rec.encodedLen(); got != want {
		t.Errorf("encode() length = %d, encodedLen() = %d", got, want)
	}
}

func TestDecodeRecordDetectsCRCMismatch(t *testing.T) {
	rec := &record{Type: RecordNormal, Key: []byte("k"), Value: []byte("v")}
	encoded := rec.encode()
	encoded[len(encoded)-1] ^= 0xFF // flip a bit in the value

	if _, _, err := decodeRecord(encoded); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("got %v, want ErrCorruptRecord", err)
	}
}

func TestDecodeRecordRejectsShortBuffer(t *testing.T) {
	if _, _, err := decodeRecord([]byte{1, 2, 3}); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("got %v, want ErrCorruptRecord", err)
	}
}

func TestDecodeRecordRejectsUnknownType(t *testing.T) {
	rec := &record{Type: RecordNormal, Key: []byte("k"), Value: []byte("v")}
	encoded := rec.encode()
	encoded[4] = 0x7F // corrupt the type byte to an unrecognized value

	if _, _, err := decodeRecord(encoded); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("got %v, want ErrCorruptRecord", err)
	}
}

func TestDecodeRecordRejectsLengthOverrun(t *testing.T) {
	rec := &record{Type: RecordNormal, Key: []byte("k"), Value: []byte("v")}
	encoded := rec.encode()
	truncated := encoded[:len(encoded)-1]

	if _, _, err := decodeRecord(truncated); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("got %v, want ErrCorruptRecord", err)
	}
}
