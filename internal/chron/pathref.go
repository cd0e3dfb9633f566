package chron

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

// PathRef is the dual representation of a filesystem path: the exact raw
// byte sequence plus a best-effort printable form. Raw bytes are
// authoritative — they are the only basis for disk operations and equality.
// Display substitutes U+FFFD for byte runs that are not valid UTF-8 and is
// for humans and logs only.
type PathRef struct {
	Display string
	raw     []byte
}

// EncodePath builds a PathRef from exact path bytes. It is total: every
// byte sequence the filesystem can produce yields a valid PathRef, and
// decoding it returns the same bytes.
func EncodePath(raw []byte) PathRef {
	return PathRef{
		Display: displayString(raw),
		raw:     append([]byte(nil), raw...),
	}
}

// EncodePathString builds a PathRef from a Go path string, taking the
// string's bytes verbatim as the raw form.
func EncodePathString(p string) PathRef {
	return EncodePath([]byte(p))
}

// Bytes returns a copy of the exact raw path bytes.
func (p PathRef) Bytes() []byte {
	return append([]byte(nil), p.raw...)
}

// Key returns the raw bytes as a string suitable for map keys and ordering.
// The result is not guaranteed to be printable.
func (p PathRef) Key() string {
	return string(p.raw)
}

// Equal compares two PathRefs by raw bytes. Display is never consulted.
func (p PathRef) Equal(o PathRef) bool {
	return bytes.Equal(p.raw, o.raw)
}

// IsZero reports whether the PathRef carries no path at all.
func (p PathRef) IsZero() bool {
	return len(p.raw) == 0 && p.Display == ""
}

// RawBase64 returns the raw bytes in a reversible text-safe encoding, for
// persistence in line-oriented or SQL text containers that cannot hold
// arbitrary bytes directly.
func (p PathRef) RawBase64() string {
	return base64.StdEncoding.EncodeToString(p.raw)
}

// DecodeRawBase64 reconstructs a PathRef from its base64 raw form.
func DecodeRawBase64(s string) (PathRef, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PathRef{}, fmt.Errorf("decoding raw path: %w", err)
	}
	return EncodePath(raw), nil
}

func (p PathRef) String() string {
	return p.Display
}

// displayString decodes raw bytes as UTF-8, replacing each invalid byte
// with U+FFFD. It never fails and never truncates.
func displayString(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.Write(raw[i : i+size])
		}
		i += size
	}
	return b.String()
}
