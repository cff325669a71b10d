package historydb

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/irchistory/memhistory/internal/dbcrypt"
	"github.com/irchistory/memhistory/internal/wire"
)

// CurrentVersion is the on-disk format version this build writes.
// MinSupportedVersion is the oldest version this build will still load,
// giving one predecessor-compatible release of slack per spec.
const (
	CurrentVersion      = 5000
	MinSupportedVersion = 4999

	saltLength = 128

	masterMagic = 0x4D41_5354 // "MAST", arbitrary but stable
)

var saltAlphabet = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

// ErrTooOld is returned when a file's version predates MinSupportedVersion.
var ErrTooOld = errors.New("historydb: file format is too old")

// ErrTooNew is returned when a file's version postdates CurrentVersion.
var ErrTooNew = errors.New("historydb: file is from a newer build")

// MasterDB holds the format version and the two salts that key every
// per-object filename and bind it to one installation.
type MasterDB struct {
	Version  uint32
	Prehash  string
	Posthash string
}

func generateSalt() (string, error) {
	buf := make([]byte, saltLength)

	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(saltAlphabet))))
		if err != nil {
			return "", err
		}

		buf[i] = saltAlphabet[n.Int64()]
	}

	return string(buf), nil
}

func newMasterDB() (*MasterDB, error) {
	prehash, err := generateSalt()
	if err != nil {
		return nil, fmt.Errorf("historydb: generating prehash salt: %w", err)
	}

	posthash, err := generateSalt()
	if err != nil {
		return nil, fmt.Errorf("historydb: generating posthash salt: %w", err)
	}

	return &MasterDB{
		Version:  CurrentVersion,
		Prehash:  prehash,
		Posthash: posthash,
	}, nil
}

func encodeMasterDB(m *MasterDB) []byte {
	w := wire.NewWriter()
	w.Magic(masterMagic)
	w.Uint32(m.Version)
	w.String(m.Prehash)
	w.String(m.Posthash)

	return w.Bytes()
}

func decodeMasterDB(buf []byte) (*MasterDB, error) {
	r := wire.NewReader(buf)

	if err := r.Magic(masterMagic); err != nil {
		return nil, err
	}

	version, err := r.Uint32()
	if err != nil {
		return nil, err
	}

	if version < MinSupportedVersion {
		return nil, fmt.Errorf("%w: version %d", ErrTooOld, version)
	}

	if version > CurrentVersion {
		return nil, fmt.Errorf("%w: version %d", ErrTooNew, version)
	}

	prehash, err := r.String()
	if err != nil {
		return nil, err
	}

	posthash, err := r.String()
	if err != nil {
		return nil, err
	}

	return &MasterDB{
		Version:  version,
		Prehash:  prehash,
		Posthash: posthash,
	}, nil
}

// LoadOrCreateMasterDB loads path if it exists, otherwise generates fresh
// salts and writes them. The second return value reports whether a new
// file was created. Any failure to open that isn't "file absent" is a
// fatal configuration error per spec §7.
func LoadOrCreateMasterDB(path, secret string) (*MasterDB, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		m, err := newMasterDB()
		if err != nil {
			return nil, false, err
		}

		if err := SaveMasterDB(path, secret, m); err != nil {
			return nil, false, err
		}

		return m, true, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("historydb: opening master db %q: %w", path, err)
	}

	plaintext, err := dbcrypt.Open(secret, raw)
	if err != nil {
		return nil, false, fmt.Errorf("historydb: decrypting master db %q: %w", path, err)
	}

	m, err := decodeMasterDB(plaintext)
	if err != nil {
		return nil, false, fmt.Errorf("historydb: decoding master db %q: %w", path, err)
	}

	return m, false, nil
}

// SaveMasterDB encrypts and atomically writes the master DB. The salts
// themselves are never rotated by a later call; rehash only re-reads.
func SaveMasterDB(path, secret string, m *MasterDB) error {
	envelope, err := dbcrypt.Seal(secret, encodeMasterDB(m))
	if err != nil {
		return fmt.Errorf("historydb: sealing master db: %w", err)
	}

	return atomicWriteFile(path, envelope)
}
