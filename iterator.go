package cask

import "bytes"

// IteratorOptions configures Iterator.
type IteratorOptions struct {
	// Prefix, if non-empty, restricts iteration to keys with this prefix.
	Prefix []byte
	// Reverse iterates from the largest matching key to the smallest.
	Reverse bool
}

// Iterator traverses a snapshot of the database's key set taken at
// construction time. Values are resolved against the live index at access
// time, so a value Iterator.Value returns may reflect a write that
// happened after the snapshot was taken; the key set itself never changes
// once the Iterator is constructed (spec.md §9, "Iterator value
// staleness"). An Iterator must not outlive the DB it was built from.
type Iterator struct {
	db      *DB
	keys    [][]byte
	prefix  []byte
	reverse bool
	pos     int
}

// Iterator constructs a new Iterator over db's current key set.
func (db *DB) Iterator(opts IteratorOptions) (*Iterator, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	it := &Iterator{db: db, prefix: opts.Prefix, reverse: opts.Reverse}
	collect := func(key []byte, _ recordPointer) bool {
		if len(it.prefix) == 0 || bytes.HasPrefix(key, it.prefix) {
			it.keys = append(it.keys, key)
		}
		return true
	}
	if opts.Reverse {
		db.idx.descend(collect)
	} else {
		db.idx.ascend(collect)
	}
	return it, nil
}

// Rewind resets the iterator to its first element.
func (it *Iterator) Rewind() {
	it.pos = 0
}

// Seek advances to the first key that is >= key in iteration order (or, for
// a reverse iterator, the first key that is <= key).
func (it *Iterator) Seek(key []byte) {
	for i, k := range it.keys {
		cmp := bytes.Compare(k, key)
		if (!it.reverse && cmp >= 0) || (it.reverse && cmp <= 0) {
			it.pos = i
			return
		}
	}
	it.pos = len(it.keys)
}

// Valid reports whether the iterator is positioned at an element.
func (it *Iterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.keys)
}

// Next advances the iterator by one position.
func (it *Iterator) Next() {
	it.pos++
}

// Key returns the key at the iterator's current position. Only valid
// while Valid() is true.
func (it *Iterator) Key() []byte {
	return it.keys[it.pos]
}

// Value resolves and returns the value for the current key, looking it up
// fresh in the live index (see the staleness note on Iterator).
func (it *Iterator) Value() ([]byte, error) {
	key := it.keys[it.pos]
	ptr, ok := it.db.idx.get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return it.db.readValueAt(key, ptr)
}
