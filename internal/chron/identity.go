package chron

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// identifyBufSize is the chunk size for streaming hash reads. Files are
// never loaded whole.
const identifyBufSize = 1 << 20

// ContentIdentity is the tuple used to decide whether a file's content
// changed: a SHA-256 digest plus the size and mtime observed at read time.
type ContentIdentity struct {
	Hash    string // lowercase hex SHA-256
	Size    int64
	MTimeNS int64
}

// IdentityPolicy selects the equality rule applied by Decide.
type IdentityPolicy int

const (
	// PolicyHash treats the hash alone as authoritative. Size and mtime are
	// recorded, and a size+mtime match may serve upstream as a cheap skip
	// heuristic, but a touched mtime without a content change is Unchanged.
	// This is the default policy.
	PolicyHash IdentityPolicy = iota

	// PolicyStrict requires hash, size and mtime to all match.
	PolicyStrict
)

// ParseIdentityPolicy maps a config string to a policy. The empty string
// means the default.
func ParseIdentityPolicy(s string) (IdentityPolicy, error) {
	switch s {
	case "", "hash":
		return PolicyHash, nil
	case "strict":
		return PolicyStrict, nil
	default:
		return PolicyHash, fmt.Errorf("unknown identity policy: %q", s)
	}
}

// EqualUnder reports identity equality under the given policy.
func (c ContentIdentity) EqualUnder(o ContentIdentity, policy IdentityPolicy) bool {
	if policy == PolicyStrict {
		return c.Hash == o.Hash && c.Size == o.Size && c.MTimeNS == o.MTimeNS
	}
	return c.Hash == o.Hash
}

// Decision classifies an observation against the previously recorded state.
type Decision int

const (
	DecisionNew Decision = iota
	DecisionChanged
	DecisionUnchanged
)

func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "new"
	case DecisionChanged:
		return "changed"
	case DecisionUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Identify streams r through SHA-256 and returns the content identity. Size
// is the byte count actually read; mtimeNS is the modification time
// observed by the caller at read time.
func Identify(r io.Reader, mtimeNS int64) (ContentIdentity, error) {
	h := sha256.New()
	buf := make([]byte, identifyBufSize)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return ContentIdentity{}, fmt.Errorf("hashing content: %w", err)
	}
	return ContentIdentity{
		Hash:    hex.EncodeToString(h.Sum(nil)),
		Size:    n,
		MTimeNS: mtimeNS,
	}, nil
}

// Decide classifies the current identity against the previous one. It is a
// pure function of its inputs and is the sole trigger for revision
// creation: New when no previous identity exists, Unchanged when the two
// are equal under the policy, Changed otherwise.
func Decide(prev *ContentIdentity, cur ContentIdentity, policy IdentityPolicy) Decision {
	if prev == nil {
		return DecisionNew
	}
	if prev.EqualUnder(cur, policy) {
		return DecisionUnchanged
	}
	return DecisionChanged
}
