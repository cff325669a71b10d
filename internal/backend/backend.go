// Package backend wires logstore (the in-memory log) and historydb (the
// persistence layer) together behind the handful of operations a host
// messaging server actually calls, mirroring the way the teacher's main.go
// and cleanup.go compose the S3 client, state store and stats into one
// program-level object.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/irchistory/memhistory/internal/config"
	"github.com/irchistory/memhistory/internal/historydb"
	"github.com/irchistory/memhistory/internal/logstore"
)

// Cleaner pacing, spec §4.7. CleanSpread ticks sweep the whole hash table
// once; MaxOffSecs bounds how stale a bucket's retention can get between
// sweeps. The production values recommended by the design (SPREAD=60,
// MAX_OFF_SECS=300) yield a 5s tick interval and 17 buckets per tick for the
// default 1019-bucket table.
const (
	CleanSpread  = 60
	MaxOffSecs   = 300
	TickInterval = MaxOffSecs / CleanSpread * time.Second
)

const capabilityName = "unrealircd.org/history-storage"

// Backend is the host-facing surface: add/request/destroy/set_limit on the
// in-memory log, periodic Tick-driven retention and persistence, and the
// mode-toggle and capability hooks spec §6 calls out as host-triggered
// events rather than a steady loop.
type Backend struct {
	Store  *logstore.Store
	Stats  *Stats
	Logger *slog.Logger

	cfg     config.Config
	baseDir string
	master  *historydb.MasterDB

	cleanPerLoop int
	cursor       int

	mu              sync.Mutex
	persistEligible map[string]bool
}

// New constructs a Backend from a validated Config, with an empty in-memory
// log and persistence not yet loaded. baseDir is the host's permanent-data
// root config.Config.Directory is resolved against. Callers that want
// persisted history back must call SetLimit for every object they already
// know about, then LoadPersistence — mirroring spec's own ordering
// requirement that set_limit register an object's live metadata before its
// file is replayed.
func New(cfg config.Config, baseDir string, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := logstore.New()
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	store.Logger = logger

	b := &Backend{
		Store:           store,
		Stats:           &Stats{},
		Logger:          logger,
		cfg:             cfg,
		baseDir:         baseDir,
		persistEligible: make(map[string]bool),
	}

	buckets := store.NumBuckets()
	b.cleanPerLoop = max(1, (buckets+CleanSpread-1)/CleanSpread)

	return b, nil
}

// LoadPersistence loads (or creates, on first boot) the master database and
// replays every per-object file whose object knownObject still recognizes.
// Objects knownObject no longer recognizes have their files deleted
// instead, per spec §4.10's read path. It is a no-op when persistence is
// disabled.
func (b *Backend) LoadPersistence(ctx context.Context, knownObject func(name string) bool) error {
	if !b.cfg.Persist {
		return nil
	}

	master, created, err := historydb.LoadOrCreateMasterDB(b.cfg.MasterDBPath(b.baseDir), b.cfg.DBSecret)
	if err != nil {
		return fmt.Errorf("backend: loading master db: %w", err)
	}

	b.master = master

	if created {
		b.Logger.Info("Master database created", slog.String("path", b.cfg.MasterDBPath(b.baseDir)))
		return nil
	}

	// Reconcile decodes files concurrently but calls this callback
	// serially, after every worker has finished, specifically so replay can
	// call Store.Add (not safe for concurrent use, spec §5) without a lock
	// of our own.
	report, err := historydb.Reconcile(ctx, b.cfg.ResolvedDirectory(b.baseDir), b.cfg.DBSecret, master, b.Logger,
		knownObject, func(obj *historydb.DecodedObject) {
			b.replay(obj)
		})
	if err != nil {
		return fmt.Errorf("backend: reconciling history directory: %w", err)
	}

	b.Stats.addReconciled(report.Loaded.Cardinality(), report.Deleted.Cardinality())
	b.Stats.addQuarantined(report.Quarantined.Cardinality())

	return nil
}

// replay re-inserts one object's decoded lines into the live log and marks
// it clean, matching spec §4.10's read path: set_limit must already have
// registered the object (reconcile's knownObject gate guarantees that), so
// this only restores the lines and clears dirty.
func (b *Backend) replay(obj *historydb.DecodedObject) {
	for _, line := range obj.Lines {
		tags := make([]logstore.Tag, len(line.Tags))
		copy(tags, line.Tags)

		b.Store.Add(obj.Name, tags, line.Text)
	}

	if live := b.Store.Find(obj.Name); live != nil {
		live.Dirty = false
	}
}

// SetLimit registers or updates an object's retention limits.
func (b *Backend) SetLimit(name string, maxLines, maxTime uint64) {
	b.Store.SetLimit(name, maxLines, maxTime)
}

// Add records one line. tags is the caller's message-tag list; it is
// deep-copied internally.
func (b *Backend) Add(name string, tags []logstore.Tag, text string) *logstore.Line {
	line := b.Store.Add(name, tags, text)
	b.Stats.addLine()

	return line
}

// Request returns a filtered replay, or nil if the object has no history.
func (b *Backend) Request(name string, filter logstore.Filter) *logstore.Result {
	return b.Store.Request(name, filter)
}

// Destroy removes an object entirely, including its on-disk file if
// persistence is enabled.
func (b *Backend) Destroy(name string) bool {
	if b.cfg.Persist && b.master != nil {
		if err := historydb.RemoveObjectFile(b.cfg.ResolvedDirectory(b.baseDir), b.master, name); err != nil {
			b.Logger.Warn("Removing persisted file on destroy failed",
				slog.String("object", name), slog.Any("error", err))
		}
	}

	b.mu.Lock()
	delete(b.persistEligible, name)
	b.mu.Unlock()

	return b.Store.Destroy(name)
}

// SetPersistEligible records whether name may currently be written to disk
// (in the reference host, whether the channel carries mode +P). Objects
// default to ineligible.
func (b *Backend) SetPersistEligible(name string, eligible bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if eligible {
		b.persistEligible[name] = true
	} else {
		delete(b.persistEligible, name)
	}
}

func (b *Backend) isPersistEligible(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.persistEligible[name]
}

// OnModeCharDel implements spec §6's mode-char-del hook: clearing +P drops
// the on-disk file immediately and marks the object dirty, so a later
// re-enable plus the next tick rewrites it from the still-live in-memory
// log rather than requiring a fresh round of adds.
func (b *Backend) OnModeCharDel(name string, modechar byte) {
	if modechar != 'P' {
		return
	}

	obj := b.Store.Find(name)
	if obj == nil {
		return
	}

	b.SetPersistEligible(name, false)

	if b.cfg.Persist && b.master != nil {
		if err := historydb.RemoveObjectFile(b.cfg.ResolvedDirectory(b.baseDir), b.master, name); err != nil {
			b.Logger.Warn("Removing persisted file on mode-del failed",
				slog.String("object", name), slog.Any("error", err))
		}
	}

	obj.Dirty = true
}

// Tick advances the cleaner by one step: sweeping the next cleanPerLoop
// buckets' worth of objects, trimming expired lines, and writing any object
// that is both dirty and currently persist-eligible. Retention's notion of
// "now" is the Store's own (overridable in tests via Store.Now).
func (b *Backend) Tick() {
	objects := b.Store.BucketSlice(b.cursor, b.cleanPerLoop)
	b.cursor = (b.cursor + b.cleanPerLoop) % max(1, b.Store.NumBuckets())

	for _, obj := range objects {
		byAge, byCount := b.Store.Cleanup(obj)
		b.Stats.addExpiredByAge(byAge)
		b.Stats.addExpiredByCount(byCount)

		if !b.cfg.Persist || !obj.Dirty || !b.isPersistEligible(obj.Name) {
			continue
		}

		b.writeObject(obj)
	}
}

func (b *Backend) writeObject(obj *logstore.Object) {
	lines := obj.AllLines()

	if err := historydb.WriteObject(b.cfg.ResolvedDirectory(b.baseDir), b.cfg.DBSecret, b.master,
		obj.Name, obj.MaxLines, obj.MaxTime, lines); err != nil {
		b.Logger.Error("Writing object failed",
			slog.String("object", obj.Name), slog.Any("error", err))
		b.Stats.addWriteFailure()

		return
	}

	obj.Dirty = false

	size := 0
	for _, l := range lines {
		size += len(l.Text)
	}

	b.Stats.addWriteSuccess(size)
}

// Capability returns the client-visible capability value for the current
// persistence setting, spec §6.
func Capability(persist bool) string {
	if persist {
		return capabilityName + "=memory,disk=encrypted"
	}

	return capabilityName + "=memory"
}
