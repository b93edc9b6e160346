package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/trident-re/mailroom/internal/ai"
	"github.com/trident-re/mailroom/internal/config"
)

// Document is one logical document produced from an attachment. A bundled
// PDF yields several; everything else yields one.
type Document struct {
	Filename  string
	MimeType  string
	Content   []byte
	Hash      string
	PageStart int // 1-based range within the source PDF; 0 for whole-file documents
	PageEnd   int
	Text      string
}

// Splitter proposes sub-document boundaries for a bundled PDF. The AI
// client satisfies this; extraction falls back to rule-based detection when
// the call fails.
type Splitter interface {
	ProposeSplits(ctx context.Context, filename string, pageTexts []string) ([]ai.PageRange, error)
}

// Extractor converts raw attachments into plain-text documents
type Extractor struct {
	splitter      Splitter
	pdfToTextCmd  string
	pdfToImageCmd string
	ocrCmd        string
}

func NewExtractor(cfg config.PipelineConfig, splitter Splitter) *Extractor {
	return &Extractor{
		splitter:      splitter,
		pdfToTextCmd:  cfg.PDFToTextCmd,
		pdfToImageCmd: cfg.PDFToImageCmd,
		ocrCmd:        cfg.OCRCmd,
	}
}

// HashContent returns the content-addressed hash used for resend dedup
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Extract dispatches on mime type and returns one document per logical
// form. PDFs are split along detected boundaries; image attachments go
// through OCR; HTML and word-processor files get structured text
// extraction.
func (e *Extractor) Extract(ctx context.Context, filename, mimeType string, content []byte) ([]Document, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("attachment %s is empty", filename)
	}

	kind := detectKind(filename, mimeType)
	switch kind {
	case kindPDF:
		return e.extractPDF(ctx, filename, mimeType, content)
	case kindImage:
		text, err := e.runOCR(ctx, filename, content)
		if err != nil {
			return nil, fmt.Errorf("OCR failed for %s: %w", filename, err)
		}
		return []Document{singleDocument(filename, mimeType, content, text)}, nil
	case kindDocx:
		text, err := extractDocx(content)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", filename, err)
		}
		return []Document{singleDocument(filename, mimeType, content, text)}, nil
	case kindHTML:
		text, err := HTMLToText(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", filename, err)
		}
		return []Document{singleDocument(filename, mimeType, content, text)}, nil
	default:
		// Treat anything else as plain text
		return []Document{singleDocument(filename, mimeType, content, string(content))}, nil
	}
}

func singleDocument(filename, mimeType string, content []byte, text string) Document {
	return Document{
		Filename: filename,
		MimeType: mimeType,
		Content:  content,
		Hash:     HashContent(content),
		Text:     strings.TrimSpace(text),
	}
}

// extractPDF pulls page-by-page text, OCRs pages with no text layer, then
// splits the bundle into logical sub-documents.
func (e *Extractor) extractPDF(ctx context.Context, filename, mimeType string, content []byte) ([]Document, error) {
	pages, err := e.pdfPageTexts(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from %s: %w", filename, err)
	}

	// Pages without a text layer are scanned images; OCR them individually
	for i, page := range pages {
		if strings.TrimSpace(page) != "" {
			continue
		}
		text, err := e.ocrPDFPage(ctx, content, i+1)
		if err != nil {
			log.Printf("[extract] OCR failed for %s page %d: %v", filename, i+1, err)
			continue
		}
		pages[i] = text
	}

	ranges := e.splitRanges(ctx, filename, pages)

	docs := make([]Document, 0, len(ranges))
	for i, r := range ranges {
		text := strings.TrimSpace(strings.Join(pages[r.Start-1:r.End], "\n\f\n"))

		name := filename
		if len(ranges) > 1 {
			name = fmt.Sprintf("%s (part %d, pages %d-%d)", filename, i+1, r.Start, r.End)
		}

		docs = append(docs, Document{
			Filename:  name,
			MimeType:  mimeType,
			Content:   content,
			Hash:      hashRange(content, r),
			PageStart: r.Start,
			PageEnd:   r.End,
			Text:      text,
		})
	}
	return docs, nil
}

// hashRange derives a distinct hash per sub-document so two parts of one
// bundle don't collide, while a whole-file document keeps the plain content
// hash.
func hashRange(content []byte, r ai.PageRange) string {
	h := sha256.New()
	h.Write(content)
	if r.Start > 0 {
		fmt.Fprintf(h, ":%d-%d", r.Start, r.End)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// splitRanges tries AI-assisted boundary detection first and falls back to
// the rule-based heuristic, so a non-empty PDF never yields zero documents.
func (e *Extractor) splitRanges(ctx context.Context, filename string, pages []string) []ai.PageRange {
	if len(pages) <= 1 {
		return []ai.PageRange{{Start: 1, End: len(pages)}}
	}

	if e.splitter != nil {
		ranges, err := e.splitter.ProposeSplits(ctx, filename, pages)
		if err == nil {
			if valid := validRanges(ranges, len(pages)); valid != nil {
				return valid
			}
			log.Printf("[extract] discarding invalid split proposal for %s", filename)
		} else {
			log.Printf("[extract] AI split failed for %s, using heuristic: %v", filename, err)
		}
	}

	return DetectBoundaries(pages)
}

// validRanges checks a split proposal covers pages 1..n contiguously
func validRanges(ranges []ai.PageRange, pageCount int) []ai.PageRange {
	if len(ranges) == 0 {
		return nil
	}
	next := 1
	for _, r := range ranges {
		if r.Start != next || r.End < r.Start || r.End > pageCount {
			return nil
		}
		next = r.End + 1
	}
	if next != pageCount+1 {
		return nil
	}
	return ranges
}

type attachmentKind int

const (
	kindOther attachmentKind = iota
	kindPDF
	kindImage
	kindDocx
	kindHTML
)

func detectKind(filename, mimeType string) attachmentKind {
	mt := strings.ToLower(mimeType)
	lower := strings.ToLower(filename)

	switch {
	case strings.Contains(mt, "pdf") || strings.HasSuffix(lower, ".pdf"):
		return kindPDF
	case strings.HasPrefix(mt, "image/") ||
		strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".jpg") ||
		strings.HasSuffix(lower, ".jpeg") || strings.HasSuffix(lower, ".tif") ||
		strings.HasSuffix(lower, ".tiff"):
		return kindImage
	case strings.Contains(mt, "wordprocessingml") || strings.Contains(mt, "msword") ||
		strings.HasSuffix(lower, ".docx"):
		return kindDocx
	case strings.Contains(mt, "html") || strings.HasSuffix(lower, ".html") ||
		strings.HasSuffix(lower, ".htm"):
		return kindHTML
	default:
		return kindOther
	}
}
