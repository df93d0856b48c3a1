// Package cursor implements the opaque continuation token shared by every
// paginated listing.
//
// A token binds a resume position to a fingerprint of the query shape that
// produced it, so a cursor from one listing cannot silently page through
// another. Positions are monotonic sort keys rather than raw offsets: pages
// resume strictly after the last item seen, so interleaved deletes shift
// nothing. Bounded staleness across page boundaries under concurrent writes
// is tolerated by contract, not hidden.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"hash/fnv"

	"schedhub/internal/apperr"
)

// Position is the resume point inside a deterministic ordering.
// Key is the primary sort key (0 when the listing orders by Seq alone) and
// Seq the monotonic tiebreaker.
type Position struct {
	Key int64 `json:"k"`
	Seq int64 `json:"s"`
}

type token struct {
	Position
	Shape uint64 `json:"f"`
}

// Fingerprint reduces a query shape description to the value embedded in
// tokens. Shape must identify the listing kind and its scope (e.g.
// "docs/parent-id"), not volatile knobs like page size.
func Fingerprint(shape string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(shape))
	return h.Sum64()
}

// Encode produces an opaque token for pos under the given query shape.
func Encode(pos Position, shape string) string {
	b, _ := json.Marshal(token{Position: pos, Shape: Fingerprint(shape)})
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode reverses Encode. A malformed token, or one minted for a different
// query shape, fails with InvalidCursor.
func Decode(raw, shape string) (Position, error) {
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Position{}, apperr.E(apperr.KindInvalidCursor, "malformed cursor")
	}
	var t token
	if err := json.Unmarshal(b, &t); err != nil {
		return Position{}, apperr.E(apperr.KindInvalidCursor, "malformed cursor")
	}
	if t.Shape != Fingerprint(shape) {
		return Position{}, apperr.E(apperr.KindInvalidCursor, "cursor does not match this query")
	}
	return t.Position, nil
}
