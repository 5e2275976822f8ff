package envelope

import (
	"fmt"

	"github.com/gowebpki/jcs"
)

// canonicalize rewrites JSON into RFC 8785 canonical form: lexically sorted
// object members, minimal number formatting. Used by Encode and by callers
// that hash JSON documents (business dedupe keys, bundle manifests).
func canonicalize(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Canonicalize is the exported form of canonicalize for sibling packages.
func Canonicalize(raw []byte) ([]byte, error) {
	return canonicalize(raw)
}
