package historydb

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ObjectFilename returns the on-disk filename (basename only, no
// directory) for an object, depending only on the lower-cased name and the
// two installation salts. This hides object names on disk and binds every
// file to this installation's master-DB.
func ObjectFilename(prehash, name, posthash string) string {
	h := sha256.New()
	h.Write([]byte(prehash))
	h.Write([]byte(" "))
	h.Write([]byte(strings.ToLower(name)))
	h.Write([]byte(" "))
	h.Write([]byte(posthash))

	return hex.EncodeToString(h.Sum(nil)) + ".db"
}
