package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// MappedField pairs a System A field id with its canonical value. The
// fingerprint is a function of the mapped subset only; unrelated fields on
// the entry never invalidate it.
type MappedField struct {
	FieldID int64
	Value   Value
}

// Fingerprint computes the hex SHA-256 of the canonicalized mapped field
// subset. Fields are sorted by id so mapping declaration order does not
// matter, and the stable Encode form keeps the hash insensitive to raw
// wire shapes.
func Fingerprint(fields []MappedField) string {
	sorted := make([]MappedField, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FieldID < sorted[j].FieldID })

	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range sorted {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(f.FieldID, 10))
		sb.WriteByte(':')
		sb.WriteString(f.Value.Encode())
	}
	sb.WriteByte(']')

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
