// Package contentstore implements content addressing: records are stored
// immutably under an identifier derived from their canonical encoding, and the
// identifier doubles as a tamper check across network boundaries.
package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Canonicalize produces a deterministic encoding of a record: the record is
// round-tripped through generic JSON so that object keys come out in sorted
// order regardless of the Go struct's field order.
func Canonicalize(record any) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Address computes the content-derived identifier of a record: sha256 over the
// canonical bytes, lowercase hex. Structurally identical records always map to
// the same identifier.
func Address(record any) (string, error) {
	canonical, err := Canonicalize(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
