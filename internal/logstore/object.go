package logstore

// Object is one named history container (typically an IRC channel). It
// owns its line list exclusively; the hash index holds only a non-owning
// reference for lookup, and Destroy is the sole path that frees one.
//
// Invariants (enforced by every method below, never by callers):
//   - NumLines equals the number of linked lines; head==nil iff tail==nil
//     iff NumLines==0.
//   - OldestT is either the minimum Time across all lines, or 0 meaning
//     "unknown, recompute before relying on it".
//   - NumLines never exceeds MaxLines once retention has run.
type Object struct {
	Name string

	head, tail *Line
	NumLines   int
	OldestT    int64

	MaxLines uint64
	MaxTime  uint64

	// Dirty is true whenever the in-memory state has diverged from the
	// object's on-disk file. Persistence clears it on a fully successful
	// write; Add sets it again. Retention trimming and SetLimit leave it
	// unchanged.
	Dirty bool
}

func newObject(name string) *Object {
	return &Object{Name: name}
}

// HasLimits reports whether SetLimit has ever been called for this object.
// A zero MaxLines signals a host programming error, not "no history
// wanted": Store.Add on such an object warns, then panics when
// Store.StrictLimits is set and otherwise self-heals to the defaults.
func (o *Object) HasLimits() bool {
	return o.MaxLines != 0
}

func updateOldest(oldest, t int64) int64 {
	if oldest == 0 || t < oldest {
		return t
	}

	return oldest
}

// evictHead unlinks the current head line and recomputes OldestT from the
// survivors. The head is the oldest insertion, but a caller-supplied "time"
// tag can make a later line older than it, so the new head's Time is not
// necessarily the minimum.
func (o *Object) evictHead() {
	victim := o.head
	if victim == nil {
		return
	}

	o.unlink(victim)
	o.recomputeOldest()
}

// unlink splices a line out of the list and fixes NumLines. It does not
// touch OldestT; callers decide how to update that cache.
func (o *Object) unlink(l *Line) {
	if l.prev != nil {
		l.prev.next = l.next
	} else {
		o.head = l.next
	}

	if l.next != nil {
		l.next.prev = l.prev
	} else {
		o.tail = l.prev
	}

	l.prev, l.next = nil, nil
	o.NumLines--
}

// append adds a new line at the tail and updates NumLines/OldestT.
func (o *Object) append(l *Line) {
	l.prev = o.tail
	l.next = nil

	if o.tail != nil {
		o.tail.next = l
	} else {
		o.head = l
	}

	o.tail = l
	o.NumLines++

	o.OldestT = updateOldest(o.OldestT, l.Time)
}

// recomputeOldest rescans the full list, used after a sweep that only
// tracked evicted nodes rather than every survivor.
func (o *Object) recomputeOldest() {
	var oldest int64

	for l := o.head; l != nil; l = l.next {
		oldest = updateOldest(oldest, l.Time)
	}

	o.OldestT = oldest
}

// redline returns the age-retention floor: lines older than this are
// expired.
func (o *Object) redline(now int64) int64 {
	return now - int64(o.MaxTime)
}

// cleanup enforces age then size retention, matching spec semantics
// exactly: the age sweep walks the whole list once (timestamps aren't
// guaranteed strictly increasing when a bogus "time" tag was supplied), the
// size sweep only ever trims from the head. It reports how many lines each
// sweep removed, for the cleaner's statistics.
func (o *Object) cleanup(now int64) (expiredByAge, expiredByCount int) {
	redline := o.redline(now)

	if o.OldestT != 0 && o.OldestT < redline {
		o.OldestT = 0

		var oldest int64

		l := o.head
		for l != nil {
			next := l.next

			if l.Time < redline {
				o.unlink(l)
				expiredByAge++
			} else {
				oldest = updateOldest(oldest, l.Time)
			}

			l = next
		}

		o.OldestT = oldest
	}

	if uint64(o.NumLines) > o.MaxLines {
		o.OldestT = 0

		for uint64(o.NumLines) > o.MaxLines && o.head != nil {
			o.unlink(o.head)
			expiredByCount++
		}

		o.recomputeOldest()
	}

	return expiredByAge, expiredByCount
}

// destroy frees all lines without maintaining OldestT/NumLines along the
// way — there is no point updating denormalized bookkeeping for a list that
// is about to disappear entirely.
func (o *Object) destroy() {
	o.head = nil
	o.tail = nil
	o.NumLines = 0
	o.OldestT = 0
}

// snapshot returns a deep copy of all lines whose Time is >= redline,
// skipping the first `skip` of them. Lines are walked head to tail so the
// result preserves insertion order.
func (o *Object) snapshot(redline int64, skip int) []Line {
	var out []Line

	seen := 0

	for l := o.head; l != nil; l = l.next {
		if l.Time < redline {
			continue
		}

		seen++

		if seen <= skip {
			continue
		}

		out = append(out, l.Copy())
	}

	return out
}

// AllLines returns a deep copy of every line currently held, in insertion
// order, regardless of age. Used by the persistence writer, which persists
// exactly what retention has already left in memory rather than reapplying
// a redline of its own.
func (o *Object) AllLines() []Line {
	return o.snapshot(0, 0)
}

// countSendable counts lines with Time >= redline without copying them.
func (o *Object) countSendable(redline int64) int {
	n := 0

	for l := o.head; l != nil; l = l.next {
		if l.Time >= redline {
			n++
		}
	}

	return n
}
