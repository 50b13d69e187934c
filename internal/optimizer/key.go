package optimizer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Key is the hex SHA-256 digest identifying one output variant.
type Key string

// DeriveKey hashes the normalized descriptor. The source is length prefixed
// and the remaining fields are NUL separated, so no two distinct descriptors
// share a preimage. An absent width hashes as the empty string.
func DeriveKey(d Descriptor) Key {
	width := ""
	if d.Width > 0 {
		width = strconv.Itoa(d.Width)
	}

	h := sha256.New()
	h.Write([]byte(strconv.Itoa(len(d.Source))))
	h.Write([]byte{':'})
	h.Write([]byte(d.Source))
	h.Write([]byte{0})
	h.Write([]byte(width))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(d.Quality)))
	h.Write([]byte{0})
	h.Write([]byte(d.Format))

	return Key(hex.EncodeToString(h.Sum(nil)))
}

// EntryName is the name the variant is stored under in both cache tiers.
func (k Key) EntryName(f Format) string {
	return string(k) + "." + string(f)
}
