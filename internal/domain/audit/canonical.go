package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// CanonicalJSON encodes v deterministically: keys lexicographically sorted,
// no whitespace, "," and ":" separators. The hash chain depends on this
// encoding being byte-for-byte stable, so every hashing path in the system
// goes through here.
//
// The round trip through a generic map is deliberate: encoding/json emits map
// keys in sorted order, which gives us canonical ordering regardless of struct
// field order.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal value").WithCause(err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errors.NewInternalError("failed to normalize value").WithCause(err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.NewInternalError("failed to canonicalize value").WithCause(err)
	}
	return canonical, nil
}

// ComputeRecordHash returns the SHA-256 hex digest of the record's canonical
// JSON with the record_hash field excluded from its own input. A pre-existing
// RecordHash value therefore does not change the result.
func ComputeRecordHash(r *Record) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", errors.NewInternalError("failed to marshal record").WithCause(err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", errors.NewInternalError("failed to normalize record").WithCause(err)
	}
	delete(fields, "record_hash")

	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", errors.NewInternalError("failed to canonicalize record").WithCause(err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes. Used for evidence
// blobs and cold-export sidecars.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
