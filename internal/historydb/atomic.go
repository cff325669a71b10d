package historydb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// atomicWriteFile writes data to path via a temp-file-then-rename, so a
// reader never observes a partially written file. natefinch/atomic already
// encapsulates the platform difference spec.md's §9 open question worries
// about (Windows requires unlinking the target before rename); this is the
// one place that difference needs handling, and the library owns it.
func atomicWriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("historydb: creating directory for %q: %w", path, err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("historydb: writing %q: %w", path, err)
	}

	return nil
}
