package logstore

import (
	"strings"

	"github.com/dchest/siphash"
)

// DefaultBuckets is the recommended hash table size from the design: few
// enough buckets that a full-table cleaner sweep is cheap, large enough
// that chain length stays short for any realistic channel count.
const DefaultBuckets = 1019

// index is a fixed-size, open-chained hash table keyed by the lower-cased
// object name. It never resizes: load factor is bounded by the host's
// object count (channels), which the design note calls out explicitly as
// the reason no resizing is required.
type index struct {
	key     [16]byte
	buckets []*bucketEntry
}

type bucketEntry struct {
	next *bucketEntry
	obj  *Object
}

func newIndex(key [16]byte, numBuckets int) *index {
	if numBuckets <= 0 {
		numBuckets = DefaultBuckets
	}

	return &index{
		key:     key,
		buckets: make([]*bucketEntry, numBuckets),
	}
}

func (ix *index) bucketOf(lowerName string) int {
	h := siphash.Hash(
		leUint64(ix.key[0:8]),
		leUint64(ix.key[8:16]),
		[]byte(lowerName),
	)

	return int(h % uint64(len(ix.buckets)))
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v
}

func lowerName(name string) string {
	return strings.ToLower(name)
}

// find returns the object for name, or nil.
func (ix *index) find(name string) *Object {
	lower := lowerName(name)
	b := ix.bucketOf(lower)

	for e := ix.buckets[b]; e != nil; e = e.next {
		if lowerName(e.obj.Name) == lower {
			return e.obj
		}
	}

	return nil
}

// findOrAdd returns the existing object for name, creating and linking a
// fresh one (with its original case preserved) if none exists yet.
func (ix *index) findOrAdd(name string) *Object {
	if obj := ix.find(name); obj != nil {
		return obj
	}

	obj := newObject(name)
	b := ix.bucketOf(lowerName(name))
	ix.buckets[b] = &bucketEntry{next: ix.buckets[b], obj: obj}

	return obj
}

// remove unlinks the object for name from its bucket, if present.
func (ix *index) remove(name string) {
	lower := lowerName(name)
	b := ix.bucketOf(lower)

	var prev *bucketEntry

	for e := ix.buckets[b]; e != nil; e = e.next {
		if lowerName(e.obj.Name) == lower {
			if prev != nil {
				prev.next = e.next
			} else {
				ix.buckets[b] = e.next
			}

			return
		}

		prev = e
	}
}

// bucketSlice returns every object currently chained off a contiguous range
// of buckets [start, start+n), wrapping modulo the table size. Used by the
// cleaner to visit a fraction of the table per tick.
func (ix *index) bucketSlice(start, n int) []*Object {
	var out []*Object

	total := len(ix.buckets)
	if n > total {
		n = total
	}

	for i := 0; i < n; i++ {
		b := (start + i) % total

		for e := ix.buckets[b]; e != nil; e = e.next {
			out = append(out, e.obj)
		}
	}

	return out
}

func (ix *index) numBuckets() int {
	return len(ix.buckets)
}
