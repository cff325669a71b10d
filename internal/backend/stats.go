package backend

import (
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
)

// byteStats accumulates a running byte total alongside a human-readable
// rendering, the same shape as the teacher's sizeStats.
type byteStats int64

var _ slog.LogValuer = (*byteStats)(nil)

func (s *byteStats) add(n int) {
	*(*int64)(s) += int64(n)
}

func (s byteStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("bytes", int64(s)),
		slog.String("text", humanize.IBytes(uint64(s))),
	)
}

// Stats tracks backend activity for the startup/shutdown log line, mirroring
// the teacher's mutex-guarded cleanupStats.
type Stats struct {
	mu sync.Mutex

	linesAdded        int64
	expiredByAge      int64
	expiredByCount    int64
	objectsWritten    int64
	writeFailures     int64
	writtenBytes      byteStats
	filesQuarantined  int64
	objectsReconciled int64
	objectsDeleted    int64
}

func (s *Stats) addLine() {
	s.mu.Lock()
	s.linesAdded++
	s.mu.Unlock()
}

func (s *Stats) addExpiredByAge(n int) {
	if n == 0 {
		return
	}

	s.mu.Lock()
	s.expiredByAge += int64(n)
	s.mu.Unlock()
}

func (s *Stats) addExpiredByCount(n int) {
	if n == 0 {
		return
	}

	s.mu.Lock()
	s.expiredByCount += int64(n)
	s.mu.Unlock()
}

func (s *Stats) addWriteSuccess(n int) {
	s.mu.Lock()
	s.objectsWritten++
	s.writtenBytes.add(n)
	s.mu.Unlock()
}

func (s *Stats) addWriteFailure() {
	s.mu.Lock()
	s.writeFailures++
	s.mu.Unlock()
}

func (s *Stats) addQuarantined(n int) {
	if n == 0 {
		return
	}

	s.mu.Lock()
	s.filesQuarantined += int64(n)
	s.mu.Unlock()
}

func (s *Stats) addReconciled(loaded, deleted int) {
	s.mu.Lock()
	s.objectsReconciled += int64(loaded)
	s.objectsDeleted += int64(deleted)
	s.mu.Unlock()
}

// Attrs renders the accumulated counters as slog attributes for a single
// startup/shutdown log line, mirroring the teacher's cleanupStats.attrs.
func (s *Stats) Attrs() []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return []any{
		slog.Group("lines",
			slog.Int64("added", s.linesAdded),
			slog.Int64("expired_by_age", s.expiredByAge),
			slog.Int64("expired_by_count", s.expiredByCount),
		),
		slog.Group("persistence",
			slog.Int64("objects_written", s.objectsWritten),
			slog.Any("bytes_written", s.writtenBytes),
			slog.Int64("write_failures", s.writeFailures),
			slog.Int64("files_quarantined", s.filesQuarantined),
		),
		slog.Group("reconciliation",
			slog.Int64("objects_loaded", s.objectsReconciled),
			slog.Int64("objects_deleted", s.objectsDeleted),
		),
	}
}
