package historydb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Per-object bodies are small (line counts are already bounded by
// max_lines), so compression operates on the whole body in memory rather
// than streaming to a temp file the way the teacher's gzip snapshot path
// does for its much larger state dumps.
const (
	formatRaw  byte = 0
	formatZstd byte = 1
)

var zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
})

// compressBody prefixes body with a one-byte format tag and, when that
// shrinks it, the zstd-compressed form; otherwise it stores the body raw so
// small records don't pay compression overhead for nothing.
func compressBody(body []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("historydb: building zstd encoder: %w", err)
	}

	compressed := enc.EncodeAll(body, nil)

	if len(compressed) >= len(body) {
		return append([]byte{formatRaw}, body...), nil
	}

	return append([]byte{formatZstd}, compressed...), nil
}

func decompressBody(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, errors.New("historydb: empty record body")
	}

	tag, rest := framed[0], framed[1:]

	switch tag {
	case formatRaw:
		return rest, nil
	case formatZstd:
		dec, err := zstd.NewReader(bytes.NewReader(rest))
		if err != nil {
			return nil, fmt.Errorf("historydb: building zstd decoder: %w", err)
		}
		defer dec.Close()

		out, err := io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("historydb: decompressing record: %w", err)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("historydb: unknown body format tag %#x", tag)
	}
}
