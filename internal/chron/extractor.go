package chron

import "io"

// ExtractedResult is what an extractor produces for one source item. The
// core stores it tagged by revision without interpreting it.
type ExtractedResult struct {
	Title    string
	Text     string
	Metadata map[string]string
}

// Extractor is the capability interface for format-specific extraction.
// Implementations live outside the core; the service only asks whether a
// mime type is supported and stores whatever comes back.
type Extractor interface {
	Supports(mime string) bool
	Extract(item SourceItem, r io.Reader) (*ExtractedResult, error)
}
