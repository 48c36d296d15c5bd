package writer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/crypto/blake2b"

	"bioetl.dev/bioetl/common"
)

// businessKeySeparator joins business-key values before hashing. The
// unit separator cannot occur in the identifier alphabets the engine
// handles, so concatenation is unambiguous.
const businessKeySeparator = "\x1f"

// HashBusinessKey computes the BLAKE2b-256 hex digest of the row's
// business-key values, concatenated in declared field order. The digest
// depends on the key fields alone.
func HashBusinessKey(row *common.Record, keyFields []string) string {
	h, _ := blake2b.New256(nil)
	for i, field := range keyFields {
		if i > 0 {
			h.Write([]byte(businessKeySeparator))
		}
		h.Write([]byte(row.Get(field).AsString()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashRow computes the BLAKE2b-256 hex digest of the canonical JSON
// serialization of the declared row-hash fields: keys sorted, floats at
// fixed precision, nulls explicit. Row order in the Frame never affects
// the digest.
func HashRow(row *common.Record, hashFields []string, floatPrecision int) string {
	fields := append([]string(nil), hashFields...)
	sort.Strings(fields)

	buf := []byte("{")
	for i, field := range fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, _ := json.Marshal(field)
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, canonicalValue(row.Get(field), floatPrecision)...)
	}
	buf = append(buf, '}')

	h, _ := blake2b.New256(nil)
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalValue renders one Scalar as canonical JSON: fixed-precision
// floats, JSON-escaped strings, bare ints/bools, null for missing.
func canonicalValue(v common.Scalar, floatPrecision int) []byte {
	switch v.Kind {
	case common.ScalarNull:
		return []byte("null")
	case common.ScalarInt:
		return []byte(fmt.Sprintf("%d", v.Int))
	case common.ScalarFloat:
		return []byte(fmt.Sprintf("%.*f", floatPrecision, v.Float))
	case common.ScalarBool:
		if v.Bool {
			return []byte("true")
		}
		return []byte("false")
	default:
		raw, _ := json.Marshal(v.Str)
		return raw
	}
}

// ChecksumFile computes the BLAKE2b-256 hex digest of a finalized file.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h, _ := blake2b.New256(nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumBytes computes the BLAKE2b-256 hex digest of an in-memory
// payload.
func ChecksumBytes(b []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
