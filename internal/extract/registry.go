// Package extract holds the format-specific content extractors and the
// registry that dispatches to them by mime type.
package extract

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"chron-go/internal/chron"
)

// VersionedExtractor is an extractor that identifies its own behavior
// version. Bumping the version signals that previously extracted content
// may be stale.
type VersionedExtractor interface {
	chron.Extractor
	Version() string
}

// Registry dispatches extraction to the first registered extractor that
// supports the item's mime type. Registration order matters.
type Registry struct {
	extractors []VersionedExtractor
}

// NewRegistry returns a registry with the default extractors installed.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(NewPlainText())
	return r
}

// Register appends an extractor. Later registrations are consulted after
// earlier ones.
func (r *Registry) Register(e VersionedExtractor) {
	r.extractors = append(r.extractors, e)
}

// Supports reports whether any registered extractor handles the mime type.
func (r *Registry) Supports(mime string) bool {
	for _, e := range r.extractors {
		if e.Supports(mime) {
			return true
		}
	}
	return false
}

// Extract dispatches to the first extractor supporting the item's mime
// hint.
func (r *Registry) Extract(item chron.SourceItem, rd io.Reader) (*chron.ExtractedResult, error) {
	for _, e := range r.extractors {
		if e.Supports(item.MimeHint) {
			return e.Extract(item, rd)
		}
	}
	return nil, fmt.Errorf("no extractor for mime type %q", item.MimeHint)
}

// Version combines the versions of all registered extractors into one
// stable tag, so any extractor change is visible as a registry change.
func (r *Registry) Version() string {
	versions := make([]string, 0, len(r.extractors))
	for _, e := range r.extractors {
		versions = append(versions, e.Version())
	}
	sort.Strings(versions)
	return strings.Join(versions, ",")
}

// Compile-time check that Registry implements chron.Extractor.
var _ chron.Extractor = (*Registry)(nil)
