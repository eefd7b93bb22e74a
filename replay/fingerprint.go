package replay

import (
	"fmt"
	"sort"

	"laplogger/source"

	"github.com/zeebo/xxh3"
)

// Fingerprint hashes a recording's contents so laps logged from the same
// recording can be grouped regardless of its path. Keys are hashed in
// sorted order; each value is hashed with its kind so absent and "" differ.
func Fingerprint(rec source.Recording) uint64 {
	keys := rec.Keys()
	sort.Strings(keys)
	h := xxh3.New()
	var kind [1]byte
	for _, key := range keys {
		_, _ = h.WriteString(key)
		_, _ = h.Write([]byte{0})
		vals, _ := rec.Values(key)
		for _, v := range vals {
			kind[0] = byte(v.Kind())
			_, _ = h.Write(kind[:])
			_, _ = h.WriteString(v.String())
			_, _ = h.Write([]byte{0})
		}
	}
	return h.Sum64()
}

// FingerprintPath opens path, fingerprints it and closes it again.
func FingerprintPath(path string) (string, error) {
	rec, err := Open(path)
	if err != nil {
		return "", err
	}
	defer rec.Close()
	return FormatFingerprint(Fingerprint(rec)), nil
}

// FormatFingerprint renders a fingerprint as fixed-width hex.
func FormatFingerprint(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}
