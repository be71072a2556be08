package cask

import (
	"errors"
	"fmt"
)

// pendingBatchMember is one record staged under a not-yet-committed
// txn_seq, buffered during recovery until either a matching TXN_COMMIT
// promotes it into the index or recovery ends and it is discarded
// (spec.md §4.9 step 5).
type pendingBatchMember struct {
	key      []byte
	ptr      recordPointer
	isDelete bool
}

// loadIndex rebuilds db.idx from the segments db.openSegments already
// opened, per spec.md §4.9 steps 3-7. Segments with a hint file are loaded
// directly from it; the rest are replayed record by record. A corrupt
// record partway through the highest-file_id segment is tolerated as a
// torn write and truncates that segment; the same corruption in any older
// segment is fatal.
func (db *DB) loadIndex() error {
	ids, err := listSegmentIDs(db.dir)
	if err != nil {
		return err
	}

	pending := make(map[uint64][]pendingBatchMember)
	var hwm uint64

	for _, id := range ids {
		df, err := db.fileForPointer(id)
		if err != nil {
			return err
		}

		if hasHintFile(db.dir, id) {
			err := readHintFile(db.dir, id, func(key []byte, ptr recordPointer) {
				db.idx.put(key, ptr)
			})
			if err == nil {
				continue
			}
			// Fall through to a full replay of this segment if its hint
			// file didn't parse; the hint is an optimization, not a
			// source of truth.
		}

		isActive := id == db.activeID
		err = df.iterateFrom(0, func(rec *record, recOffset int64, total int) bool {
			ptr := recordPointer{FileID: id, Offset: recOffset, RecordSize: int64(total)}
			db.applyRecoveredRecord(rec, ptr, pending, &hwm)
			return true
		})
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrCorruptRecord) {
			return err
		}
		if !isActive {
			return fmt.Errorf("%w: corrupt record in non-active segment %09d", ErrCorruptLog, id)
		}

		// Torn write at the tail of the active segment: truncate to the
		// last clean record boundary and keep going.
		offset, truncErr := db.recoverLastCleanOffset(df)
		if truncErr != nil {
			return truncErr
		}
		if err := df.truncateTo(offset); err != nil {
			return err
		}
	}

	if db.seqNo < hwm {
		db.seqNo = hwm
	}
	return nil
}

// applyRecoveredRecord folds one replayed record into the index (or the
// pending-batch buffer), mirroring the live write path's index updates
// and reclaimable accounting.
func (db *DB) applyRecoveredRecord(rec *record, ptr recordPointer, pending map[uint64][]pendingBatchMember, hwm *uint64) {
	switch {
	case rec.Type == RecordTxnCommit:
		members := pending[rec.TxnSeq]
		delete(pending, rec.TxnSeq)
		for _, m := range members {
			if m.isDelete {
				if old, hadOld := db.idx.delete(m.key); hadOld {
					db.reclaimable += old.RecordSize
				}
				continue
			}
			if old, hadOld := db.idx.put(m.key, m.ptr); hadOld {
				db.reclaimable += old.RecordSize
			}
		}
		if rec.TxnSeq > *hwm {
			*hwm = rec.TxnSeq
		}

	case rec.TxnSeq > 0:
		pending[rec.TxnSeq] = append(pending[rec.TxnSeq], pendingBatchMember{
			key:      rec.Key,
			ptr:      ptr,
			isDelete: rec.Type == RecordTombstone,
		})

	case rec.Type == RecordTombstone:
		if old, hadOld := db.idx.delete(rec.Key); hadOld {
			db.reclaimable += old.RecordSize
		}

	default: // RecordNormal, txn_seq == 0
		if old, hadOld := db.idx.put(rec.Key, ptr); hadOld {
			db.reclaimable += old.RecordSize
		}
	}
}

// recoverLastCleanOffset re-walks df from the start to find the offset
// the torn write began at: iterateFrom already stopped exactly there, so
// this replays up to the same point and returns where the last record
// that decoded cleanly ends.
func (db *DB) recoverLastCleanOffset(df *dataFile) (int64, error) {
	var last int64
	err := df.iterateFrom(0, func(rec *record, recOffset int64, total int) bool {
		last = recOffset + int64(total)
		return true
	})
	if err != nil && !errors.Is(err, ErrCorruptRecord) {
		return 0, err
	}
	return last, nil
}
