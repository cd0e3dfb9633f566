package extract

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"chron-go/internal/chron"
)

// plainTextVersion tags the plain text extractor's behavior. Bump it when
// decoding or truncation rules change.
const plainTextVersion = "plaintext/1"

// maxTextBytes caps how much of a file the plain text extractor reads.
// Larger files are truncated, not rejected.
const maxTextBytes = 4 << 20

// PlainText extracts text/* content. Valid UTF-8 passes through verbatim;
// anything else is decoded byte-per-rune as Latin-1 so extraction never
// fails on encoding.
type PlainText struct{}

func NewPlainText() *PlainText { return &PlainText{} }

func (*PlainText) Version() string { return plainTextVersion }

func (*PlainText) Supports(mime string) bool {
	return strings.HasPrefix(mime, "text/")
}

func (*PlainText) Extract(item chron.SourceItem, r io.Reader) (*chron.ExtractedResult, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxTextBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", item.Path, err)
	}

	text := string(data)
	if !utf8.Valid(data) {
		text = latin1String(data)
	}

	res := &chron.ExtractedResult{
		Text:  text,
		Title: firstLine(text),
		Metadata: map[string]string{
			"mime": item.MimeHint,
		},
	}
	if int64(len(data)) == maxTextBytes && item.Size > maxTextBytes {
		res.Metadata["truncated"] = "true"
	}
	return res, nil
}

// latin1String maps each byte to the Unicode code point of the same value.
// Total and reversible for display purposes.
func latin1String(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		b.WriteRune(rune(c))
	}
	return b.String()
}

// firstLine returns the first non-blank line, trimmed, as a title guess.
func firstLine(text string) string {
	for len(text) > 0 {
		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line = text[:i]
			text = text[i+1:]
		} else {
			text = ""
		}
		line = strings.TrimSpace(line)
		if line != "" {
			const maxTitle = 120
			if len(line) > maxTitle {
				line = line[:maxTitle]
			}
			return line
		}
	}
	return ""
}

var _ VersionedExtractor = (*PlainText)(nil)
