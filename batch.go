package cask

import (
	"sync"
	"sync/atomic"
)

// batchOp is one staged mutation. isDelete marks a delete; value alone
// cannot, because a staged empty-value Put also holds a nil value.
type batchOp struct {
	value    []byte
	isDelete bool
}

// Batch stages a group of Put/Delete operations for atomic commit: either
// every staged mutation becomes visible, or (on a crash before Commit
// finishes) none of it does, per spec.md §4.6.
type Batch struct {
	db *DB

	mu        sync.Mutex
	committed bool
	// order preserves insertion order for staging with last-write-wins per
	// key; ops holds the current value per key.
	order []string
	ops   map[string]batchOp
}

// NewBatch creates a new, empty batch bound to db.
func (db *DB) NewBatch() (*Batch, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return &Batch{db: db, ops: make(map[string]batchOp)}, nil
}

// Put stages a write. Last write for a given key inside the batch wins.
func (b *Batch) Put(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		return ErrBatchCommitted
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return b.stage(key, batchOp{value: append([]byte(nil), value...)})
}

// Delete stages a deletion. Last write for a given key inside the batch
// wins, so Put followed by Delete on the same key deletes it.
func (b *Batch) Delete(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		return ErrBatchCommitted
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return b.stage(key, batchOp{isDelete: true})
}

func (b *Batch) stage(key []byte, op batchOp) error {
	k := string(key)
	if _, exists := b.ops[k]; !exists {
		if len(b.order) >= b.db.opts.BatchMaxSize {
			return ErrBatchTooLarge
		}
		b.order = append(b.order, k)
	}
	b.ops[k] = op
	return nil
}

// Commit appends every staged operation to the log under a freshly
// assigned txn_seq, followed by a TXN_COMMIT marker, then atomically
// applies the whole group to the index. A crash at any point before the
// TXN_COMMIT record reaches stable storage leaves the batch entirely
// invisible on reopen (spec.md §4.6's atomicity guarantee).
func (b *Batch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		return ErrBatchCommitted
	}
	b.committed = true

	if len(b.order) == 0 {
		return nil
	}

	db := b.db
	if err := db.checkOpen(); err != nil {
		return err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	txnSeq := atomic.AddUint64(&db.seqNo, 1)

	type pending struct {
		key      []byte
		ptr      recordPointer
		isDelete bool
	}
	members := make([]pending, 0, len(b.order))

	for _, k := range b.order {
		op := b.ops[k]
		key := []byte(k)
		rtype := RecordNormal
		var value []byte
		if op.isDelete {
			rtype = RecordTombstone
		} else {
			value = op.value
		}
		ptr, err := db.appendRecord(&record{Type: rtype, Key: key, Value: value, TxnSeq: txnSeq})
		if err != nil {
			return err
		}
		members = append(members, pending{key: key, ptr: ptr, isDelete: op.isDelete})
	}

	if _, err := db.appendRecord(&record{Type: RecordTxnCommit, TxnSeq: txnSeq}); err != nil {
		return err
	}

	if db.opts.SyncWrites {
		if err := db.active.sync(); err != nil {
			return err
		}
	}

	for _, m := range members {
		if m.isDelete {
			if old, hadOld := db.idx.delete(m.key); hadOld {
				atomic.AddInt64(&db.reclaimable, old.RecordSize)
			}
			continue
		}
		if old, hadOld := db.idx.put(m.key, m.ptr); hadOld {
			atomic.AddInt64(&db.reclaimable, old.RecordSize)
		}
	}

	return nil
}
