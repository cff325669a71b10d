// Package logstore is the in-memory half of the history backend: a
// hash-indexed collection of per-object doubly-linked message logs with
// cached retention metadata. It knows nothing about persistence; the
// historydb package replays decoded files back through Add.
package logstore

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"
)

// Defaults self-healed into an object that receives Add before any
// SetLimit call, in release builds only.
const (
	DefaultMaxLines = 50
	DefaultMaxTime  = 86400
)

const timeTagName = "time"

// timeLayout is the ISO-8601 millisecond-precision, Z-suffixed format used
// for the synthesized/parsed "time" tag.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Filter restricts a Request to the most recent window of a log. Zero
// values mean "no additional restriction beyond the object's own limits".
type Filter struct {
	LastSeconds int64
	LastLines   int
}

// Result is a query snapshot: an object name plus an owned, ordered copy
// of its surviving lines. Subsequent mutation of the live log never
// affects a Result already returned.
type Result struct {
	Name  string
	Lines []Line
}

// Store is the backend's in-memory half. StrictLimits mirrors a debug
// build: Add on an object with no limits configured panics instead of
// self-healing, surfacing the host programming error immediately instead
// of masking it with defaults.
type Store struct {
	ix           *index
	StrictLimits bool
	Logger       *slog.Logger

	// Now is overridable for tests; nil means time.Now().
	Now func() time.Time
}

// New creates a Store with a fresh random SipHash key, generated once for
// the process lifetime of this Store as the design requires.
func New() (*Store, error) {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("logstore: generating hash key: %w", err)
	}

	return &Store{
		ix:     newIndex(key, DefaultBuckets),
		Logger: slog.Default(),
	}, nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}

	return time.Now()
}

// Find returns the object for name without creating one.
func (s *Store) Find(name string) *Object {
	return s.ix.find(name)
}

// FindOrAdd returns the object for name, creating an empty, limitless one
// if necessary. Whether SetLimit has registered the object shows in
// Object.HasLimits.
func (s *Store) FindOrAdd(name string) *Object {
	return s.ix.findOrAdd(name)
}

// SetLimit finds or creates the object, assigns its limits, and runs
// retention immediately so the new caps bind at once.
func (s *Store) SetLimit(name string, maxLines, maxTime uint64) *Object {
	obj := s.ix.findOrAdd(name)
	obj.MaxLines = maxLines
	obj.MaxTime = maxTime

	obj.cleanup(s.now().Unix())

	return obj
}

// Add appends one line to name's log, evicting the head line first if the
// object is already at capacity. Tags are deep-copied. A "time" tag, if
// present, is parsed as the line's timestamp; if absent, one is synthesized
// from wall-clock time. Returns the line actually stored so reconciliation
// and tests can inspect it.
func (s *Store) Add(name string, tags []Tag, text string) *Line {
	obj := s.ix.findOrAdd(name)

	if !obj.HasLimits() {
		s.warnNoLimits(name)

		if s.StrictLimits {
			panic(fmt.Sprintf("logstore: add(%q) with no limits configured", name))
		}

		obj.MaxLines = DefaultMaxLines
		obj.MaxTime = DefaultMaxTime
	}

	if uint64(obj.NumLines) >= obj.MaxLines {
		obj.evictHead()
	}

	t, tagsOut := s.resolveLineTime(tags)

	line := &Line{
		Time: t,
		Tags: tagsOut,
		Text: text,
	}

	obj.append(line)
	obj.Dirty = true

	return line
}

func (s *Store) warnNoLimits(name string) {
	if s.Logger != nil {
		s.Logger.Warn("add called before set_limit; object has no retention configured",
			slog.String("object", name))
	}
}

// resolveLineTime implements spec §4.2 step 4: deep-copy the tag list,
// synthesizing or parsing the "time" tag as appropriate, and returns the
// numeric timestamp alongside the tag list that should be stored (always
// including a "time" tag, synthesized if the caller didn't supply one).
func (s *Store) resolveLineTime(tags []Tag) (int64, []Tag) {
	out := cloneTags(tags)

	if tag, ok := findTag(out, timeTagName); ok {
		if t, ok := parseTimeTag(tag.Value); ok {
			return t, out
		}
		// Malformed "time" value: the open question in the design notes
		// resolves this as "use current wall-clock", keeping the original
		// (bad) tag text intact rather than rewriting what the caller sent.
		return s.now().Unix(), out
	}

	now := s.now().UTC()
	out = append(out, Tag{Name: timeTagName, Value: now.Format(timeLayout)})

	return now.Unix(), out
}

func parseTimeTag(value string) (int64, bool) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		// Fall back to RFC3339Nano so well-formed but non-millisecond
		// timestamps (e.g. no fractional seconds) still parse.
		t, err = time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return 0, false
		}
	}

	return t.Unix(), true
}

// Request builds a filtered replay snapshot for name. A nil Result means
// "no history for this object", distinct from a non-nil Result with zero
// lines ("object exists, history is empty").
func (s *Store) Request(name string, filter Filter) *Result {
	obj := s.ix.find(name)
	if obj == nil {
		return nil
	}

	redline := s.effectiveRedline(obj, filter)

	sendable := obj.countSendable(redline)

	skip := 0
	if filter.LastLines > 0 && sendable > filter.LastLines {
		skip = sendable - filter.LastLines
	}

	return &Result{
		Name:  obj.Name,
		Lines: obj.snapshot(redline, skip),
	}
}

// effectiveRedline computes the age floor for a query: the filter may
// narrow the object's own retention window but never widen it.
func (s *Store) effectiveRedline(obj *Object, filter Filter) int64 {
	now := s.now().Unix()

	maxTime := obj.MaxTime

	if filter.LastSeconds > 0 && uint64(filter.LastSeconds) < maxTime {
		maxTime = uint64(filter.LastSeconds)
	}

	return now - int64(maxTime)
}

// Cleanup runs retention for a single object immediately, reporting how
// many lines were trimmed by each rule.
func (s *Store) Cleanup(obj *Object) (expiredByAge, expiredByCount int) {
	return obj.cleanup(s.now().Unix())
}

// Destroy frees name's lines and unlinks the object from the index. It
// returns false if no such object existed (spec's "not found" signal).
func (s *Store) Destroy(name string) bool {
	obj := s.ix.find(name)
	if obj == nil {
		return false
	}

	obj.destroy()
	s.ix.remove(name)

	return true
}

// BucketSlice exposes a contiguous range of bucket chains to the cleaner.
func (s *Store) BucketSlice(start, n int) []*Object {
	return s.ix.bucketSlice(start, n)
}

// NumBuckets reports the hash table size.
func (s *Store) NumBuckets() int {
	return s.ix.numBuckets()
}
