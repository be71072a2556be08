package cask

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"
)

// Merge reclaims space held by overwritten and tombstoned records below
// the merge horizon by rewriting every still-live record into a fresh,
// compacted segment set in a staging directory, then atomically cutting
// that staging output into place (spec.md §4.8). Merge does not block
// foreground Put/Get/Delete except briefly while sealing the active
// segment and during the final cut-over; it fails ErrMergeInProgress if
// another merge is already running.
func (db *DB) Merge() error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	db.mergeMu.Lock()
	if db.isMerging {
		db.mergeMu.Unlock()
		return ErrMergeInProgress
	}
	db.isMerging = true
	db.mergeMu.Unlock()
	defer func() {
		db.mergeMu.Lock()
		db.isMerging = false
		db.mergeMu.Unlock()
	}()

	horizon, inputs, err := db.sealForMerge()
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return nil
	}

	staging := mergeStagingPath(db.dir)
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("%w: clear stale merge staging dir: %w", ErrIO, err)
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return fmt.Errorf("%w: create merge staging dir: %w", ErrIO, err)
	}

	reclaimed, mergedIDs, pending, err := db.rewriteLiveRecords(staging, inputs)
	if err != nil {
		os.RemoveAll(staging)
		return err
	}

	if err := os.WriteFile(mergeFinishedPath(db.dir), encodeFileID(horizon+1), 0644); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("%w: write merge-finished marker: %w", ErrIO, err)
	}

	if err := db.cutover(staging, horizon, mergedIDs, pending); err != nil {
		return err
	}

	atomic.AddInt64(&db.reclaimable, -reclaimed)
	return nil
}

// MergeIfDue runs Merge only if the reclaimable/disk ratio configured via
// WithMergeRatio is currently met, per spec.md §4.8's "Trigger: manual, or
// when reclaimable_size/disk_size exceeds a configured ratio." It fails
// ErrMergeRatioNotMet rather than running a merge that wouldn't reclaim
// enough to be worthwhile; the background loop started by
// WithMergeInterval calls this, not Merge, on every tick.
func (db *DB) MergeIfDue() error {
	stats, err := db.Stats()
	if err != nil {
		return err
	}
	if stats.DiskSize == 0 || float64(stats.ReclaimableSize)/float64(stats.DiskSize) < db.opts.MergeRatio {
		return ErrMergeRatioNotMet
	}
	return db.Merge()
}

// sealForMerge seals the active segment and opens a fresh one so the
// foreground writer continues without waiting on the rest of merge. The
// sealed segment's file_id becomes the merge horizon H: every segment
// with file_id <= H is merge input, and every segment opened afterward is
// off-limits to this merge (spec.md §4.8 steps 2 and "Crash safety").
func (db *DB) sealForMerge() (fileID, []*dataFile, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.filesMu.Lock()
	defer db.filesMu.Unlock()

	horizon := db.activeID
	if err := db.rotateActiveLocked(); err != nil {
		return 0, nil, err
	}

	inputs := make([]*dataFile, 0, len(db.older))
	for id, df := range db.older {
		if id <= horizon {
			inputs = append(inputs, df)
		}
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].id < inputs[j].id })
	return horizon, inputs, nil
}

// mergePointerUpdate records that key's live pointer should move from old
// to new once the rewritten segment it lives in has been cut into place.
type mergePointerUpdate struct {
	key      []byte
	old, new recordPointer
}

// rewriteLiveRecords iterates every input segment in order, copying each
// record that the index still points at into a fresh segment set under
// staging (with its txn_seq cleared, since its TXN_COMMIT marker is not
// copied), and recording a hint entry and a pending pointer update for it. Records the index no longer points at (superseded puts,
// tombstones, and TXN_COMMIT markers) are skipped and their bytes counted
// as reclaimed.
func (db *DB) rewriteLiveRecords(staging string, inputs []*dataFile) (int64, []fileID, []mergePointerUpdate, error) {
	var reclaimed int64
	var mergedIDs []fileID
	var pending []mergePointerUpdate

	var mergeActive *dataFile
	var mergeHint *hintWriter
	var mergeActiveID fileID

	openNext := func() error {
		if mergeActive != nil {
			if err := mergeActive.sync(); err != nil {
				return err
			}
			if err := mergeActive.close(); err != nil {
				return err
			}
			if err := mergeHint.close(); err != nil {
				return err
			}
		}
		mergeActiveID++
		df, err := openDataFile(staging, mergeActiveID)
		if err != nil {
			return err
		}
		hw, err := createHintFile(staging, mergeActiveID)
		if err != nil {
			return err
		}
		mergeActive, mergeHint = df, hw
		mergedIDs = append(mergedIDs, mergeActiveID)
		return nil
	}
	if err := openNext(); err != nil {
		return 0, nil, nil, err
	}

	for _, src := range inputs {
		var loopErr error
		err := src.iterateFrom(0, func(rec *record, recOffset int64, total int) bool {
			if rec.Type == RecordTxnCommit {
				reclaimed += int64(total)
				return true
			}

			livePtr, ok := db.idx.get(rec.Key)
			if !ok || livePtr.FileID != src.id || livePtr.Offset != recOffset {
				reclaimed += int64(total)
				return true
			}

			// A live batch member was already committed; written without its
			// TXN_COMMIT it must not read as pending if the segment is replayed.
			rec.TxnSeq = 0
			encoded := rec.encode()
			if size, _ := mergeActive.size(); size+int64(len(encoded)) > db.opts.MaxFileSize {
				if err := openNext(); err != nil {
					loopErr = err
					return false
				}
			}
			offset, err := mergeActive.append(encoded)
			if err != nil {
				loopErr = err
				return false
			}
			newPtr := recordPointer{FileID: mergeActiveID, Offset: offset, RecordSize: int64(len(encoded))}
			if err := mergeHint.write(rec.Key, newPtr); err != nil {
				loopErr = err
				return false
			}
			pending = append(pending, mergePointerUpdate{key: append([]byte(nil), rec.Key...), old: livePtr, new: newPtr})
			return true
		})
		if err != nil {
			return 0, nil, nil, err
		}
		if loopErr != nil {
			return 0, nil, nil, loopErr
		}
	}

	if err := mergeActive.sync(); err != nil {
		return 0, nil, nil, err
	}
	if err := mergeActive.close(); err != nil {
		return 0, nil, nil, err
	}
	if err := mergeHint.close(); err != nil {
		return 0, nil, nil, err
	}

	return reclaimed, mergedIDs, pending, nil
}

// cutover installs merge's staging output as the live segment set for
// file_ids 0..horizon, under the same lock span a reader needs to resolve
// a recordPointer, so no reader ever observes a half-migrated state.
// pointer updates are applied first (a CAS, so a concurrent foreground
// write that landed on the same key during the scan is never clobbered),
// then segments are renamed into place, then any input segment the merge
// output didn't need to replace is removed.
func (db *DB) cutover(staging string, horizon fileID, mergedIDs []fileID, pending []mergePointerUpdate) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.filesMu.Lock()
	defer db.filesMu.Unlock()

	for _, u := range pending {
		db.idx.compareAndSwap(u.key, u.old, u.new)
	}

	merged := make(map[fileID]bool, len(mergedIDs))
	for _, id := range mergedIDs {
		merged[id] = true
		if old, ok := db.older[id]; ok {
			old.close()
		}
		if err := os.Rename(dataFilePath(staging, id), dataFilePath(db.dir, id)); err != nil {
			return fmt.Errorf("%w: cut over segment %09d: %w", ErrIO, id, err)
		}
		if err := os.Rename(hintFilePath(staging, id), hintFilePath(db.dir, id)); err != nil {
			return fmt.Errorf("%w: cut over hint %09d: %w", ErrIO, id, err)
		}
		df, err := openDataFileReadOnly(db.dir, id)
		if err != nil {
			return err
		}
		db.older[id] = df
	}

	for id := fileID(1); id <= horizon; id++ {
		if merged[id] {
			continue
		}
		old, ok := db.older[id]
		if !ok {
			continue
		}
		old.close()
		delete(db.older, id)
		os.Remove(dataFilePath(db.dir, id))
		os.Remove(hintFilePath(db.dir, id))
	}

	if err := os.Remove(mergeFinishedPath(db.dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove merge-finished marker: %w", ErrIO, err)
	}
	return os.RemoveAll(staging)
}

// completeMergeCutoverIfPending resumes a merge that crashed after the
// merge-finished marker was written but before the cut-over renames
// completed (spec.md §4.8 "Crash safety", §4.9 step 2). It runs before any
// segment is opened, so it talks to the filesystem directly rather than
// through a *DB.
func completeMergeCutoverIfPending(dir string) error {
	markerPath := mergeFinishedPath(dir)
	markerBytes, err := os.ReadFile(markerPath)
	if os.IsNotExist(err) {
		// No pending merge. A staging directory without a marker means the
		// prior merge crashed before finishing its rewrite pass; it is
		// incomplete and must be discarded, never adopted.
		return os.RemoveAll(mergeStagingPath(dir))
	}
	if err != nil {
		return fmt.Errorf("%w: read merge-finished marker: %w", ErrIO, err)
	}

	horizonPlus1, err := decodeFileID(markerBytes)
	if err != nil {
		return err
	}

	staging := mergeStagingPath(dir)
	if _, statErr := os.Stat(staging); os.IsNotExist(statErr) {
		// Marker present but staging already gone: the rename pass
		// finished on a prior attempt and only marker removal was
		// interrupted. Clear it and move on.
		return os.Remove(markerPath)
	}
	ids, err := listSegmentIDs(staging)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := os.Rename(dataFilePath(staging, id), dataFilePath(dir, id)); err != nil {
			return fmt.Errorf("%w: resume cut over segment %09d: %w", ErrIO, id, err)
		}
		if hasHintFile(staging, id) {
			if err := os.Rename(hintFilePath(staging, id), hintFilePath(dir, id)); err != nil {
				return fmt.Errorf("%w: resume cut over hint %09d: %w", ErrIO, id, err)
			}
		}
	}
	merged := make(map[fileID]bool, len(ids))
	for _, id := range ids {
		merged[id] = true
	}
	for id := fileID(1); id < horizonPlus1; id++ {
		if merged[id] {
			continue
		}
		os.Remove(dataFilePath(dir, id))
		os.Remove(hintFilePath(dir, id))
	}

	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("%w: remove merge staging dir: %w", ErrIO, err)
	}
	return os.Remove(markerPath)
}
