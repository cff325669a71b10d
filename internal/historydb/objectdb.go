package historydb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/irchistory/memhistory/internal/dbcrypt"
	"github.com/irchistory/memhistory/internal/logstore"
	"github.com/irchistory/memhistory/internal/wire"
)

// Magic markers for the decrypted per-object record stream, spec §4.10.
const (
	magicFileStart = 0xFEFEFEFE
	magicLineStart = 0xFFFFFFFF
	magicLineEnd   = 0xEEEEEEEE
	magicFileEnd   = 0xEFEFEFEF
)

// ErrCorruptRecord wraps any framing error encountered while decoding a
// per-object record stream; the caller is expected to quarantine the file.
var ErrCorruptRecord = errors.New("historydb: corrupt object record")

// DecodedLine mirrors logstore.Line's exported fields. The write path takes
// logstore.Line values, but decoding produces this flat type, so read-back
// data carries no in-memory list links.
type DecodedLine struct {
	Time int64
	Tags []logstore.Tag
	Text string
}

// DecodedObject is everything read back from one per-object file.
type DecodedObject struct {
	Name     string
	MaxLines uint64
	MaxTime  uint64
	Lines    []DecodedLine
}

func encodeObject(master *MasterDB, name string, maxLines, maxTime uint64, lines []logstore.Line) []byte {
	w := wire.NewWriter()

	w.Magic(magicFileStart)
	w.Uint32(CurrentVersion)
	w.String(master.Prehash)
	w.String(master.Posthash)
	w.String(name)
	w.Uint64(maxLines)
	w.Uint64(maxTime)

	for _, l := range lines {
		w.Magic(magicLineStart)
		w.Uint64(uint64(l.Time))

		for _, tag := range l.Tags {
			w.String(tag.Name)
			w.String(tag.Value)
		}

		w.NullPair()
		w.String(l.Text)
		w.Magic(magicLineEnd)
	}

	w.Magic(magicFileEnd)

	return w.Bytes()
}

func decodeObject(buf []byte) (*DecodedObject, *MasterDB, error) {
	r := wire.NewReader(buf)

	if err := r.Magic(magicFileStart); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	version, err := r.Uint32()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	if version < MinSupportedVersion {
		return nil, nil, fmt.Errorf("%w: version %d", ErrTooOld, version)
	}

	if version > CurrentVersion {
		return nil, nil, fmt.Errorf("%w: version %d", ErrTooNew, version)
	}

	prehash, err := r.String()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	posthash, err := r.String()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	name, err := r.String()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	maxLines, err := r.Uint64()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	maxTime, err := r.Uint64()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	obj := &DecodedObject{Name: name, MaxLines: maxLines, MaxTime: maxTime}

	for {
		marker, err := r.PeekUint32()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}

		if marker == magicFileEnd {
			_, _ = r.Uint32()
			break
		}

		if err := r.Magic(magicLineStart); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}

		line, err := decodeLine(r)
		if err != nil {
			return nil, nil, err
		}

		obj.Lines = append(obj.Lines, line)
	}

	return obj, &MasterDB{Version: version, Prehash: prehash, Posthash: posthash}, nil
}

func decodeLine(r *wire.Reader) (DecodedLine, error) {
	t, err := r.Uint64()
	if err != nil {
		return DecodedLine{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	line := DecodedLine{Time: int64(t)}

	for {
		name, isNull, err := r.NullableString()
		if err != nil {
			return DecodedLine{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}

		if isNull {
			// Terminator is a pair of nulls; consume the second.
			_, isNull2, err := r.NullableString()
			if err != nil || !isNull2 {
				return DecodedLine{}, fmt.Errorf("%w: malformed tag terminator", ErrCorruptRecord)
			}

			break
		}

		value, err := r.String()
		if err != nil {
			return DecodedLine{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}

		line.Tags = append(line.Tags, logstore.Tag{Name: name, Value: value})
	}

	text, err := r.String()
	if err != nil {
		return DecodedLine{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	line.Text = text

	if err := r.Magic(magicLineEnd); err != nil {
		return DecodedLine{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	return line, nil
}

// WriteObject encrypts and atomically writes one object's current state.
// Only objects the host reports persistence-eligible should ever reach
// this call; eligibility is the caller's concern (see backend.Backend).
func WriteObject(dir, secret string, master *MasterDB, name string, maxLines, maxTime uint64, lines []logstore.Line) error {
	body := encodeObject(master, name, maxLines, maxTime, lines)

	framed, err := compressBody(body)
	if err != nil {
		return fmt.Errorf("historydb: compressing object %q: %w", name, err)
	}

	envelope, err := dbcrypt.Seal(secret, framed)
	if err != nil {
		return fmt.Errorf("historydb: sealing object %q: %w", name, err)
	}

	filename := ObjectFilename(master.Prehash, name, master.Posthash)

	return atomicWriteFile(filepath.Join(dir, filename), envelope)
}

// ReadObject opens, decrypts and decodes one per-object file. It returns
// the decoded object and the master salts embedded in the record, so the
// caller can compare them against the live MasterDB without a second pass.
func ReadObject(path, secret string) (*DecodedObject, *MasterDB, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	framed, err := dbcrypt.Open(secret, raw)
	if err != nil {
		return nil, nil, err
	}

	body, err := decompressBody(framed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	return decodeObject(body)
}

// RemoveObjectFile deletes name's on-disk file if present. A missing file
// is not an error: callers use this both for mode-toggle cleanup and for
// reconciliation of objects the host no longer registers.
func RemoveObjectFile(dir string, master *MasterDB, name string) error {
	path := filepath.Join(dir, ObjectFilename(master.Prehash, name, master.Posthash))

	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}
