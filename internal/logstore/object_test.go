package logstore

import (
	"fmt"
	"testing"

	"gonum.org/v1/gonum/stat/combin"
)

func addLine(o *Object, t int64, text string) {
	o.append(&Line{Time: t, Text: text})
}

func textsOf(o *Object) []string {
	var out []string

	for l := o.head; l != nil; l = l.next {
		out = append(out, l.Text)
	}

	return out
}

func TestObjectAppendAndEvictHead(t *testing.T) {
	o := newObject("#chan")
	o.MaxLines = 3
	o.MaxTime = 1000

	addLine(o, 10, "a")
	addLine(o, 20, "b")
	addLine(o, 30, "c")

	if o.NumLines != 3 || o.OldestT != 10 {
		t.Fatalf("after 3 appends: NumLines=%d OldestT=%d, want 3, 10", o.NumLines, o.OldestT)
	}

	o.evictHead()

	if o.NumLines != 2 || o.OldestT != 20 {
		t.Fatalf("after evictHead: NumLines=%d OldestT=%d, want 2, 20", o.NumLines, o.OldestT)
	}

	if got := textsOf(o); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("textsOf = %v, want [b c]", got)
	}
}

func TestObjectEvictHeadOnEmpty(t *testing.T) {
	o := newObject("#chan")
	o.evictHead()

	if o.NumLines != 0 || o.head != nil || o.tail != nil {
		t.Fatalf("evictHead on empty object mutated state: %+v", o)
	}
}

// TestObjectCleanupPermutations exercises age and count retention across
// every insertion order of a fixed line set, mirroring the teacher's
// permutation-driven TestVersionSeriesAdd.
func TestObjectCleanupPermutations(t *testing.T) {
	type line struct {
		t    int64
		text string
	}

	lines := []line{
		{t: 100, text: "a"},
		{t: 200, text: "b"},
		{t: 300, text: "c"},
		{t: 400, text: "d"},
	}

	const maxLines = 2
	const maxTime = 250
	const now = 450 // redline = 200: lines with t < 200 expire by age

	for _, order := range combin.Permutations(len(lines), len(lines)) {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			o := newObject("#chan")
			o.MaxLines = maxLines
			o.MaxTime = maxTime

			for _, i := range order {
				addLine(o, lines[i].t, lines[i].text)
			}

			o.cleanup(now)

			if uint64(o.NumLines) > maxLines {
				t.Errorf("NumLines = %d, want <= %d", o.NumLines, maxLines)
			}

			for l := o.head; l != nil; l = l.next {
				if l.Time < now-maxTime {
					t.Errorf("surviving line %q has Time=%d, older than redline %d", l.Text, l.Time, now-maxTime)
				}
			}

			// Recomputing from scratch must agree with the incrementally
			// maintained OldestT cache.
			cached := o.OldestT
			o.recomputeOldest()

			if o.OldestT != cached {
				t.Errorf("OldestT cache diverged: incremental=%d recomputed=%d", cached, o.OldestT)
			}
		})
	}
}

func TestObjectCleanupReportsCounts(t *testing.T) {
	o := newObject("#chan")
	o.MaxLines = 2
	o.MaxTime = 1000

	addLine(o, 1, "old") // expires by age
	addLine(o, 500, "mid")
	addLine(o, 501, "newer")
	addLine(o, 502, "newest") // pushes count over MaxLines after age sweep

	byAge, byCount := o.cleanup(1100) // redline = 100

	if byAge != 1 {
		t.Errorf("expiredByAge = %d, want 1", byAge)
	}

	if byCount != 1 {
		t.Errorf("expiredByCount = %d, want 1", byCount)
	}

	if got := textsOf(o); len(got) != 2 {
		t.Errorf("survivors = %v, want 2 lines", got)
	}
}

func TestObjectSnapshotSkipAndFilter(t *testing.T) {
	o := newObject("#chan")

	addLine(o, 10, "a")
	addLine(o, 20, "b")
	addLine(o, 30, "c")
	addLine(o, 40, "d")

	got := o.snapshot(20, 1)

	var texts []string
	for _, l := range got {
		texts = append(texts, l.Text)
	}

	want := []string{"c", "d"}

	if len(texts) != len(want) || texts[0] != want[0] || texts[1] != want[1] {
		t.Errorf("snapshot(20, 1) = %v, want %v", texts, want)
	}
}

func TestObjectSnapshotIsIndependentCopy(t *testing.T) {
	o := newObject("#chan")
	addLine(o, 10, "a")

	snap := o.AllLines()
	o.head.Text = "mutated"

	if snap[0].Text != "a" {
		t.Errorf("snapshot observed later mutation of the live line: got %q", snap[0].Text)
	}
}

func TestObjectDestroy(t *testing.T) {
	o := newObject("#chan")
	addLine(o, 10, "a")
	addLine(o, 20, "b")

	o.destroy()

	if o.NumLines != 0 || o.head != nil || o.tail != nil || o.OldestT != 0 {
		t.Fatalf("destroy left state: %+v", o)
	}
}

func TestHasLimits(t *testing.T) {
	o := newObject("#chan")

	if o.HasLimits() {
		t.Error("fresh object reports HasLimits() = true")
	}

	o.MaxLines = 10

	if !o.HasLimits() {
		t.Error("object with MaxLines set reports HasLimits() = false")
	}
}
