package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalJSON returns the RFC 8785 canonical JSON form of v: map keys
// sorted, no HTML escaping, deterministic number formatting. All content
// hashing in the spine goes through this so identical values always hash
// identically.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the "sha256:<hex>" digest of the canonical JSON
// form of v.
func CanonicalHash(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// JudgmentContentHash computes the content hash of a judgment over its
// hashable view.
func JudgmentContentHash(j Judgment) (string, error) {
	return CanonicalHash(j.HashableView())
}
