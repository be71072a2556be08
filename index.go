package cask

// IndexType selects which ordered-map implementation backs a DB's index.
type IndexType int

const (
	// IndexBTree is a concurrency-safe balanced ordered tree: predictable
	// O(log n) operations, the default.
	IndexBTree IndexType = iota
	// IndexART is an adaptive radix tree: lower memory for keysets with
	// long shared prefixes, same ordered-traversal contract.
	IndexART
)

// index is the capability set every index variant implements, per
// spec.md §4.4: point lookup, point mutation, and a snapshot ordered
// traversal. Callers bind to this interface, never to a concrete type.
type index interface {
	// put inserts or overwrites key's pointer, returning the previous
	// pointer and whether one existed.
	put(key []byte, ptr recordPointer) (old recordPointer, hadOld bool)
	// get returns key's current pointer, if key is live.
	get(key []byte) (ptr recordPointer, ok bool)
	// delete removes key, returning its pointer if it was present.
	delete(key []byte) (old recordPointer, hadOld bool)
	// compareAndSwap installs new for key only if key's current pointer is
	// exactly old, reporting whether the swap happened. Merge uses this to
	// install a rewritten pointer without clobbering a foreground write
	// that landed on the same key while the merge was in flight.
	compareAndSwap(key []byte, old, new recordPointer) bool
	// size returns the number of live keys.
	size() int
	// ascend/descend take an ordered snapshot of (key, ptr) pairs at call
	// time and invoke fn(key, ptr) for each in order, stopping early if fn
	// returns false. ptr is the pointer as of the snapshot, so it may be
	// stale if the key was overwritten since; Iterator.Value looks the key
	// up again in the live index instead of using it (spec.md §9,
	// "Iterator value staleness" — this repo commits to snapshot-keys,
	// resolve-values-live).
	ascend(fn func(key []byte, ptr recordPointer) bool)
	descend(fn func(key []byte, ptr recordPointer) bool)
}

// newIndex constructs the index variant named by t.
func newIndex(t IndexType) index {
	switch t {
	case IndexART:
		return newARTIndex()
	default:
		return newRBTreeIndex()
	}
}
