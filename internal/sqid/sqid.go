// Package sqid encodes internal integer primary keys into reversible short
// alphanumeric IDs for the API boundary, so raw sequential IDs are never
// exposed on the wire.
package sqid

import (
	"fmt"

	"github.com/sqids/sqids-go"
)

const minLength = 8

type Codec struct {
	s *sqids.Sqids
}

// New creates a Codec with the default alphabet. The encoding makes IDs
// opaque, not secret.
func New() (*Codec, error) {
	s, err := sqids.New(sqids.Options{MinLength: minLength})
	if err != nil {
		return nil, fmt.Errorf("init sqids: %w", err)
	}
	return &Codec{s: s}, nil
}

// Encode converts an internal ID to its wire form.
func (c *Codec) Encode(id int64) string {
	encoded, err := c.s.Encode([]uint64{uint64(id)})
	if err != nil {
		// Encode only fails on negative input, which callers never pass.
		return ""
	}
	return encoded
}

// Decode converts a wire-form ID back to the internal integer. Returns an
// error for malformed input.
func (c *Codec) Decode(encoded string) (int64, error) {
	nums := c.s.Decode(encoded)
	if len(nums) != 1 {
		return 0, fmt.Errorf("malformed id %q", encoded)
	}
	return int64(nums[0]), nil
}
