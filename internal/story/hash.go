package story

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SpecHashLength is the number of hex characters kept from the digest.
const SpecHashLength = 12

// CanonicalJSON serializes v with sorted object keys, compact separators
// and no HTML escaping. Struct field order is irrelevant: the value is
// round-tripped through generic maps, which encoding/json emits sorted.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SHA256Hex returns the full lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SpecHash fingerprints the canonical scenario set. The input is expected
// sorted by id, as Normalize returns it; Source never takes part.
func SpecHash(scenarios []Scenario) (string, error) {
	if scenarios == nil {
		scenarios = []Scenario{}
	}
	data, err := CanonicalJSON(scenarios)
	if err != nil {
		return "", fmt.Errorf("spec hash: %w", err)
	}
	return SHA256Hex(data)[:SpecHashLength], nil
}
