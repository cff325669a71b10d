// Package config parses and validates the history backend's own
// configuration subtree, grounded on the teacher's flag.FlagSet plus
// environment-variable fallback pattern (see internal/env).
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/irchistory/memhistory/internal/env"
	"github.com/irchistory/memhistory/internal/historydb"
)

// Config is the set.history.channel subtree, spec §6.
type Config struct {
	Persist   bool
	Directory string
	DBSecret  string
}

// RegisterFlags binds c's fields to fs with environment-variable fallbacks,
// mirroring the teacher's program.registerFlags.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.Persist, "persist",
		env.MustGetBool("HISTORY_PERSIST", false),
		"Persist channel history to disk under authenticated encryption. Defaults to $HISTORY_PERSIST.")

	fs.StringVar(&c.Directory, "directory",
		env.GetWithFallback("HISTORY_DIRECTORY", "history"),
		"Root directory for the master and per-object database files, relative to the host's permanent-data root. Defaults to $HISTORY_DIRECTORY.")

	fs.StringVar(&c.DBSecret, "db-secret",
		env.GetWithFallback("HISTORY_DB_SECRET", ""),
		"Opaque passphrase identifier used to derive the per-file encryption key. Defaults to $HISTORY_DB_SECRET.")
}

// PostTest validates cross-field rules and I/O preconditions, spec §6:
// db-secret requires persist and vice versa; the directory must exist or
// be creatable; the master-DB must be readable (or creatable) with the
// given secret. baseDir is the host's permanent-data root; Directory is
// resolved against it if relative.
func (c *Config) PostTest(baseDir string) error {
	var errs []error

	if c.Persist && c.DBSecret == "" {
		errs = append(errs, errors.New("config: persist is enabled but db-secret is empty"))
	}

	if !c.Persist && c.DBSecret != "" {
		errs = append(errs, errors.New("config: db-secret is set but persist is disabled"))
	}

	if !c.Persist || len(errs) > 0 {
		return errors.Join(errs...)
	}

	dir := c.Directory
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		errs = append(errs, fmt.Errorf("config: directory %q does not exist and cannot be created: %w", dir, err))
		return errors.Join(errs...)
	}

	masterPath := filepath.Join(dir, "master.db")

	if _, _, err := historydb.LoadOrCreateMasterDB(masterPath, c.DBSecret); err != nil {
		errs = append(errs, fmt.Errorf("config: master-db not readable with given db-secret: %w", err))
	}

	return errors.Join(errs...)
}

// ResolvedDirectory returns Directory made absolute against baseDir.
func (c *Config) ResolvedDirectory(baseDir string) string {
	if filepath.IsAbs(c.Directory) {
		return c.Directory
	}

	return filepath.Join(baseDir, c.Directory)
}

// MasterDBPath returns the derived master_db_path, spec §3.
func (c *Config) MasterDBPath(baseDir string) string {
	return filepath.Join(c.ResolvedDirectory(baseDir), "master.db")
}
