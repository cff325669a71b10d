package backend

import (
	"context"
	"testing"

	"github.com/irchistory/memhistory/internal/config"
	"github.com/irchistory/memhistory/internal/logstore"
)

func newTestBackend(t *testing.T, persist bool) (*Backend, string) {
	t.Helper()

	base := t.TempDir()

	cfg := config.Config{Persist: persist, Directory: "history", DBSecret: "secret"}
	if !persist {
		cfg.DBSecret = ""
	}

	b, err := New(cfg, base, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return b, base
}

func TestBackendAddAndRequest(t *testing.T) {
	b, _ := newTestBackend(t, false)

	b.SetLimit("#chan", 10, 3600)
	b.Add("#chan", nil, "hello")

	res := b.Request("#chan", logstore.Filter{})
	if res == nil || len(res.Lines) != 1 || res.Lines[0].Text != "hello" {
		t.Errorf("Request = %+v, want one line \"hello\"", res)
	}
}

func TestBackendCapability(t *testing.T) {
	if got := Capability(false); got != capabilityName+"=memory" {
		t.Errorf("Capability(false) = %q", got)
	}

	if got := Capability(true); got != capabilityName+"=memory,disk=encrypted" {
		t.Errorf("Capability(true) = %q", got)
	}
}

func TestBackendPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()

	base := t.TempDir()
	cfg := config.Config{Persist: true, Directory: "history", DBSecret: "secret"}

	b, err := New(cfg, base, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b.SetLimit("#c", 5, 3600)
	b.SetPersistEligible("#c", true)

	if err := b.LoadPersistence(ctx, func(name string) bool { return name == "#c" }); err != nil {
		t.Fatalf("LoadPersistence (first boot): %v", err)
	}

	b.Add("#c", nil, "one")
	b.Add("#c", []logstore.Tag{{Name: "foo", Value: "bar"}}, "two")
	b.Add("#c", nil, "three")

	tickFullSweep(b)

	obj := b.Store.Find("#c")
	if obj == nil || obj.Dirty {
		t.Fatalf("object after tick: %+v, want found and clean", obj)
	}

	// Restart: a fresh Backend against the same directory should recover the
	// three lines after set_limit registers #c and LoadPersistence runs.
	b2, err := New(cfg, base, nil)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}

	b2.SetLimit("#c", 5, 3600)

	if err := b2.LoadPersistence(ctx, func(name string) bool { return name == "#c" }); err != nil {
		t.Fatalf("LoadPersistence (restart): %v", err)
	}

	res := b2.Request("#c", logstore.Filter{})
	if res == nil {
		t.Fatal("Request after restart returned nil")
	}

	if len(res.Lines) != 3 {
		t.Fatalf("len(Lines) after restart = %d, want 3", len(res.Lines))
	}

	if res.Lines[0].Text != "one" || res.Lines[1].Text != "two" || res.Lines[2].Text != "three" {
		t.Errorf("Lines after restart = %v, want [one two three] in order", res.Lines)
	}

	tag, ok := findTagByName(res.Lines[1].Tags, "foo")
	if !ok || tag != "bar" {
		t.Errorf("foo tag on line 2 = %q, %v, want bar, true", tag, ok)
	}

	obj2 := b2.Store.Find("#c")
	if obj2 == nil || obj2.Dirty {
		t.Errorf("object after restart: %+v, want found and clean", obj2)
	}
}

func TestBackendModeToggleCleanup(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	cfg := config.Config{Persist: true, Directory: "history", DBSecret: "secret"}

	b, err := New(cfg, base, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b.SetLimit("#d", 5, 3600)
	b.SetPersistEligible("#d", true)

	if err := b.LoadPersistence(ctx, func(string) bool { return true }); err != nil {
		t.Fatalf("LoadPersistence: %v", err)
	}

	b.Add("#d", nil, "hello")
	tickFullSweep(b)

	if obj := b.Store.Find("#d"); obj == nil || obj.Dirty {
		t.Fatalf("object before mode-del: %+v, want found and clean", obj)
	}

	b.OnModeCharDel("#d", 'P')

	obj := b.Store.Find("#d")
	if obj == nil || !obj.Dirty {
		t.Fatalf("object after mode-del: %+v, want found and dirty", obj)
	}

	// Re-enable persistence eligibility and tick again: the file should
	// reappear since the in-memory log still has the line.
	b.SetPersistEligible("#d", true)
	tickFullSweep(b)

	if obj := b.Store.Find("#d"); obj == nil || obj.Dirty {
		t.Fatalf("object after re-enable tick: %+v, want found and clean", obj)
	}
}

// tickFullSweep calls Tick enough times to guarantee every bucket is
// visited at least once, since a single Tick only visits a fraction of the
// table and the object under test may land anywhere in it.
func tickFullSweep(b *Backend) {
	buckets := b.Store.NumBuckets()

	for i := 0; i*b.cleanPerLoop < buckets+b.cleanPerLoop; i++ {
		b.Tick()
	}
}

func findTagByName(tags []logstore.Tag, name string) (string, bool) {
	for _, t := range tags {
		if t.Name == name {
			return t.Value, true
		}
	}

	return "", false
}
