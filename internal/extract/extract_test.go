package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/trident-re/mailroom/internal/ai"
	"github.com/trident-re/mailroom/internal/config"
)

type fakeSplitter struct {
	ranges []ai.PageRange
	err    error
}

func (f *fakeSplitter) ProposeSplits(_ context.Context, _ string, _ []string) ([]ai.PageRange, error) {
	return f.ranges, f.err
}

func TestValidRanges(t *testing.T) {
	tests := []struct {
		name      string
		ranges    []ai.PageRange
		pageCount int
		wantOK    bool
	}{
		{"full coverage", []ai.PageRange{{Start: 1, End: 3}, {Start: 4, End: 5}}, 5, true},
		{"single range", []ai.PageRange{{Start: 1, End: 4}}, 4, true},
		{"empty", nil, 3, false},
		{"gap", []ai.PageRange{{Start: 1, End: 2}, {Start: 4, End: 5}}, 5, false},
		{"overlap", []ai.PageRange{{Start: 1, End: 3}, {Start: 3, End: 5}}, 5, false},
		{"short coverage", []ai.PageRange{{Start: 1, End: 3}}, 5, false},
		{"past the end", []ai.PageRange{{Start: 1, End: 6}}, 5, false},
		{"inverted", []ai.PageRange{{Start: 1, End: 0}}, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validRanges(tt.ranges, tt.pageCount)
			if (got != nil) != tt.wantOK {
				t.Errorf("validRanges() = %v, wantOK %v", got, tt.wantOK)
			}
		})
	}
}

func TestSplitRangesFallsBackOnSplitterError(t *testing.T) {
	e := NewExtractor(config.PipelineConfig{}, &fakeSplitter{err: errors.New("service down")})

	pages := []string{
		"PURCHASE AGREEMENT\nterms",
		"more terms",
		"Closing Disclosure\nfigures",
	}
	got := e.splitRanges(context.Background(), "bundle.pdf", pages)
	want := []ai.PageRange{{Start: 1, End: 2}, {Start: 3, End: 3}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("splitRanges() = %+v, want %+v", got, want)
	}
}

func TestSplitRangesRejectsInvalidProposal(t *testing.T) {
	// Proposal skips page 2, so the heuristic result should win
	e := NewExtractor(config.PipelineConfig{}, &fakeSplitter{
		ranges: []ai.PageRange{{Start: 1, End: 1}, {Start: 3, End: 3}},
	})

	got := e.splitRanges(context.Background(), "bundle.pdf", []string{"a", "b", "c"})
	if len(got) != 1 || got[0] != (ai.PageRange{Start: 1, End: 3}) {
		t.Errorf("splitRanges() = %+v, want single full range", got)
	}
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		filename string
		mimeType string
		want     attachmentKind
	}{
		{"contract.pdf", "application/pdf", kindPDF},
		{"contract.PDF", "application/octet-stream", kindPDF},
		{"scan.jpg", "image/jpeg", kindImage},
		{"scan.tiff", "", kindImage},
		{"letter.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", kindDocx},
		{"page.html", "text/html", kindHTML},
		{"notes.txt", "text/plain", kindOther},
	}

	for _, tt := range tests {
		if got := detectKind(tt.filename, tt.mimeType); got != tt.want {
			t.Errorf("detectKind(%q, %q) = %d, want %d", tt.filename, tt.mimeType, got, tt.want)
		}
	}
}

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractDocx(t *testing.T) {
	content := buildDocx(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Purchase Agreement</w:t></w:r></w:p>
    <w:p><w:r><w:t>Buyer: Sarah Chen</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	text, err := extractDocx(content)
	if err != nil {
		t.Fatalf("extractDocx: %v", err)
	}
	if !strings.Contains(text, "Purchase Agreement") || !strings.Contains(text, "Buyer: Sarah Chen") {
		t.Errorf("text = %q", text)
	}
	if !strings.Contains(text, "Purchase Agreement\n") {
		t.Errorf("paragraph break lost: %q", text)
	}
}

func TestExtractDocxRejectsGarbage(t *testing.T) {
	if _, err := extractDocx([]byte("not a zip")); err == nil {
		t.Error("garbage accepted as docx")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.Create("other.xml")
	zw.Close()
	if _, err := extractDocx(buf.Bytes()); err == nil {
		t.Error("zip without document.xml accepted")
	}
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>p { color: red }</style></head><body>
<p>Contract attached for <b>123 Oak Street</b>.</p>
<script>alert("x")</script>
<div>Closing is on September 30.</div>
</body></html>`

	text, err := HTMLToText(html)
	if err != nil {
		t.Fatalf("HTMLToText: %v", err)
	}
	if !strings.Contains(text, "Contract attached for 123 Oak Street.") {
		t.Errorf("text = %q", text)
	}
	if strings.Contains(text, "alert") || strings.Contains(text, "color") {
		t.Errorf("script/style leaked into text: %q", text)
	}
	if !strings.Contains(text, "\nClosing is on September 30.") {
		t.Errorf("block break missing: %q", text)
	}
}

func TestExtractPlainText(t *testing.T) {
	e := NewExtractor(config.PipelineConfig{}, nil)

	docs, err := e.Extract(context.Background(), "notes.txt", "text/plain", []byte("  hello world  "))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents", len(docs))
	}
	if docs[0].Text != "hello world" {
		t.Errorf("Text = %q", docs[0].Text)
	}
	if docs[0].Hash != HashContent([]byte("  hello world  ")) {
		t.Error("hash not content-addressed")
	}
	if docs[0].PageStart != 0 {
		t.Errorf("PageStart = %d for whole-file document", docs[0].PageStart)
	}
}

func TestExtractRejectsEmptyAttachment(t *testing.T) {
	e := NewExtractor(config.PipelineConfig{}, nil)
	if _, err := e.Extract(context.Background(), "empty.pdf", "application/pdf", nil); err == nil {
		t.Error("empty attachment accepted")
	}
}
