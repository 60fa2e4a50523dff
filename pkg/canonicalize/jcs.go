// Package canonicalize produces the bit-stable canonical JSON encoding that
// every signed record, Merkle leaf, and certificate extension in TrustChain
// is hashed over. Two independent implementations that canonicalize the same
// logical value must produce byte-identical output.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Canonical returns the RFC 8785 canonical JSON encoding of v.
//
// v is first marshalled with the standard library (so struct tags and
// json.Marshaler implementations are respected), then every string reachable
// from the result is normalised to Unicode NFC, then the document is run
// through gowebpki/jcs to obtain RFC 8785 canonical bytes (sorted object
// keys, no insignificant whitespace, shortest round-tripping numbers, no
// HTML escaping).
//
// NFC normalisation happens before canonicalisation so that two records
// whose string fields differ only in composed vs. decomposed Unicode form
// still hash identically.
func Canonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	normalized, err := normalizeStrings(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: normalize: %w", err)
	}

	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return out, nil
}

// Hash returns the hex-encoded SHA-256 digest of the canonical encoding of v.
func Hash(v interface{}) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the hex-encoded SHA-256 digest of raw.
func HashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// String returns the canonical encoding of v as a string.
func String(v interface{}) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalizeStrings walks a decoded JSON document and rewrites every string
// leaf to its NFC normal form, leaving key ordering and number formatting to
// the subsequent jcs.Transform pass.
func normalizeStrings(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(walkNFC(generic))
}

func walkNFC(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = walkNFC(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[norm.NFC.String(k)] = walkNFC(e)
		}
		return out
	default:
		return v
	}
}
