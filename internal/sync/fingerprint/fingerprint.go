// Package fingerprint computes deterministic content digests for payloads.
//
// Digests are XXH3-128 over the payload's fields in name order. They are
// meant for cheap equality checks between client and server copies of a
// record, not for security.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/zeebo/xxh3"

	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/models"
)

var separator = []byte{0}

// Of returns the hex fingerprint of payload. Field insertion order never
// affects the result; nested objects are encoded with sorted keys as well.
func Of(payload models.Payload) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxh3.New()
	for _, k := range keys {
		value, err := json.Marshal(payload[k])
		if err != nil {
			// Unencodable values still contribute their field name.
			logging.Warn("fingerprint: unencodable field", map[string]interface{}{
				"field": k,
				"error": err.Error(),
			})
			value = nil
		}
		_, _ = h.Write([]byte(k))
		_, _ = h.Write(separator)
		_, _ = h.Write(value)
		_, _ = h.Write(separator)
	}

	return hex.EncodeToString(uint128ToBytes(h.Sum128()))
}

// Equal reports whether two payloads have the same fingerprint.
func Equal(a, b models.Payload) bool {
	return Of(a) == Of(b)
}

// uint128ToBytes converts a uint128 to a big-endian byte slice.
func uint128ToBytes(a xxh3.Uint128) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], a.Hi)
	binary.BigEndian.PutUint64(b[8:16], a.Lo)
	return b
}
