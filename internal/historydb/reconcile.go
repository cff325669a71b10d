package historydb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentReconcile = 8

const masterDBName = "master.db"

const badDirName = "bad"

// ReconcileReport summarizes one directory scan, for the startup log line
// and for tests asserting on reconciliation behavior.
type ReconcileReport struct {
	// Loaded holds the names of every object whose file decoded cleanly
	// and was handed to the replay callback.
	Loaded mapset.Set[string]

	// Deleted holds the names of objects whose file decoded cleanly but
	// no longer correspond to anything the host reports knowing about.
	Deleted mapset.Set[string]

	// Quarantined holds the basenames (not object names, which are
	// unrecoverable) of files moved into the bad/ subdirectory.
	Quarantined mapset.Set[string]
}

func newReconcileReport() *ReconcileReport {
	return &ReconcileReport{
		Loaded:      mapset.NewThreadUnsafeSet[string](),
		Deleted:     mapset.NewThreadUnsafeSet[string](),
		Quarantined: mapset.NewThreadUnsafeSet[string](),
	}
}

// Reconcile walks dir's per-object files, decrypting and decoding each one.
// Files belonging to objects knownObject reports as no-longer-existing are
// deleted; files that fail to decrypt or decode are quarantined into
// dir/bad/ instead of left to fail the same way on every future start.
// Surviving objects are handed to onObject for replay into a logstore.Store,
// one at a time, after every file has finished decoding.
//
// Decrypting and decoding fans out across a bounded pool, mirroring the
// teacher's retentionAnnotator worker loop — that part is pure CPU/IO with
// no shared mutable state. Replay is not: logstore.Store.Add mutates the
// single-actor index (spec §5), so onObject is only ever called from this
// function's own goroutine, strictly after g.Wait(), never from inside a
// worker. Callers still must not call anything that touches the same Store
// concurrently with Reconcile.
func Reconcile(ctx context.Context, dir, secret string, master *MasterDB, logger *slog.Logger, knownObject func(name string) bool, onObject func(*DecodedObject)) (*ReconcileReport, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return newReconcileReport(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("historydb: listing %q: %w", dir, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	report := newReconcileReport()

	var (
		mu      sync.Mutex
		toReply []*DecodedObject
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReconcile)

	for _, entry := range entries {
		entry := entry

		if entry.IsDir() || entry.Name() == masterDBName || filepath.Ext(entry.Name()) != ".db" {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			obj, fileMaster, err := ReadObject(path, secret)
			if err != nil {
				logger.Warn("Quarantining unreadable history file",
					slog.String("path", path), slog.Any("error", err))

				if qerr := quarantine(dir, entry.Name()); qerr != nil {
					return fmt.Errorf("quarantining %q: %w", path, qerr)
				}

				mu.Lock()
				report.Quarantined.Add(entry.Name())
				mu.Unlock()

				return nil
			}

			if fileMaster.Prehash != master.Prehash || fileMaster.Posthash != master.Posthash {
				// Salt mismatch means the file may belong to a different
				// installation sharing this directory, not that it is
				// corrupt: skip it in place instead of quarantining.
				logger.Warn("Skipping history file with mismatched master salts",
					slog.String("path", path))

				return nil
			}

			if !knownObject(obj.Name) {
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("removing stale file %q: %w", path, err)
				}

				mu.Lock()
				report.Deleted.Add(obj.Name)
				mu.Unlock()

				return nil
			}

			mu.Lock()
			toReply = append(toReply, obj)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	// Replay happens strictly after every worker has finished, one object
	// at a time, so onObject (and whatever Store it mutates) never sees two
	// callers at once.
	for _, obj := range toReply {
		onObject(obj)
		report.Loaded.Add(obj.Name)
	}

	return report, nil
}

// quarantine moves name out of dir and into dir/bad, overwriting any prior
// file left there with the same name.
func quarantine(dir, name string) error {
	badDir := filepath.Join(dir, badDirName)

	if err := os.MkdirAll(badDir, 0o750); err != nil {
		return err
	}

	return os.Rename(filepath.Join(dir, name), filepath.Join(badDir, name))
}
