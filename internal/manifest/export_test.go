package manifest

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"

	"chron-go/internal/chron"
)

func decodeExport(t *testing.T, data []byte) []exportRecord {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	defer zr.Close()

	var recs []exportRecord
	dec := json.NewDecoder(zr)
	for {
		var rec exportRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("decoding record: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestExport(t *testing.T) {
	t.Run("one record per entry in walk order", func(t *testing.T) {
		s := openTestStore(t)
		info := buildSnapshot(t, s, "docs",
			file("sub/b.txt", "h2", 2),
			file("a.txt", "h1", 1),
		)

		var buf bytes.Buffer
		if err := Export(s, info.ID, &buf); err != nil {
			t.Fatalf("Export() error = %v", err)
		}

		recs := decodeExport(t, buf.Bytes())
		if len(recs) != 2 {
			t.Fatalf("records = %d, want 2", len(recs))
		}
		if recs[0].Path != "sub/b.txt" || recs[1].Path != "a.txt" {
			t.Errorf("paths = %s, %s, want walk order", recs[0].Path, recs[1].Path)
		}
		if recs[0].Name != "b.txt" {
			t.Errorf("Name = %s, want b.txt", recs[0].Name)
		}
		if recs[0].SHA256 != "h2" || recs[0].Bytes != 2 {
			t.Errorf("record = %+v, want hash h2 size 2", recs[0])
		}
		if recs[0].SnapshotID != info.ID || recs[0].RootLabel != "docs" {
			t.Errorf("record tags = %s/%s, want %s/docs", recs[0].SnapshotID, recs[0].RootLabel, info.ID)
		}
	})

	t.Run("lossy paths carry the base64 raw form", func(t *testing.T) {
		s := openTestStore(t)
		rawPath := chron.EncodePath([]byte{'d', 0xff, '.', 'b', 'i', 'n'})
		info := buildSnapshot(t, s, "docs", chron.SnapshotEntry{
			Path: rawPath,
			Kind: chron.KindFile,
			Hash: "h1",
			Size: 1,
		})

		var buf bytes.Buffer
		if err := Export(s, info.ID, &buf); err != nil {
			t.Fatalf("Export() error = %v", err)
		}

		recs := decodeExport(t, buf.Bytes())
		if len(recs) != 1 {
			t.Fatalf("records = %d, want 1", len(recs))
		}
		if recs[0].PathB64 == "" {
			t.Fatal("PathB64 empty for a lossy path")
		}
		got, err := chron.DecodeRawBase64(recs[0].PathB64)
		if err != nil {
			t.Fatalf("DecodeRawBase64() error = %v", err)
		}
		if !got.Equal(rawPath) {
			t.Errorf("decoded raw = %v, want original bytes", got.Bytes())
		}
	})

	t.Run("clean utf-8 paths omit the base64 form", func(t *testing.T) {
		s := openTestStore(t)
		info := buildSnapshot(t, s, "docs", file("plain.txt", "h1", 1))

		var buf bytes.Buffer
		if err := Export(s, info.ID, &buf); err != nil {
			t.Fatalf("Export() error = %v", err)
		}

		recs := decodeExport(t, buf.Bytes())
		if recs[0].PathB64 != "" || recs[0].NameB64 != "" {
			t.Errorf("b64 fields = %q/%q, want empty for clean paths", recs[0].PathB64, recs[0].NameB64)
		}
	})

	t.Run("unknown snapshot errors", func(t *testing.T) {
		s := openTestStore(t)
		var buf bytes.Buffer
		if err := Export(s, "no-such-id", &buf); err == nil {
			t.Error("Export() error = nil, want error")
		}
	})
}
