package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// pdfPageTexts shells out to pdftotext (poppler) and splits its output on
// form feeds, yielding one string per page. -layout keeps tabular forms
// readable as tab-ish columns.
func (e *Extractor) pdfPageTexts(ctx context.Context, content []byte) ([]string, error) {
	tmpDir, err := os.MkdirTemp("", "mailroom-pdf-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, content, 0600); err != nil {
		return nil, fmt.Errorf("failed to write temp pdf: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.pdfToTextCmd, "-layout", pdfPath, "-")
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w (%s)", e.pdfToTextCmd, err, strings.TrimSpace(stderr.String()))
	}

	// pdftotext emits \f between pages and after the last page
	pages := strings.Split(out.String(), "\f")
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf produced no pages")
	}
	return pages, nil
}

// ocrPDFPage renders one page to an image with pdftoppm and runs OCR on it.
// Used for scanned pages that have no extractable text layer.
func (e *Extractor) ocrPDFPage(ctx context.Context, content []byte, page int) (string, error) {
	tmpDir, err := os.MkdirTemp("", "mailroom-ocr-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, content, 0600); err != nil {
		return "", fmt.Errorf("failed to write temp pdf: %w", err)
	}

	pageArg := strconv.Itoa(page)
	imgPrefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, e.pdfToImageCmd,
		"-png", "-r", "300", "-f", pageArg, "-l", pageArg, pdfPath, imgPrefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w (%s)", e.pdfToImageCmd, err, strings.TrimSpace(stderr.String()))
	}

	// pdftoppm names output page-N.png with zero padding that varies by
	// page count, so glob for it
	matches, err := filepath.Glob(imgPrefix + "*.png")
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no page image produced")
	}

	img, err := os.ReadFile(matches[0])
	if err != nil {
		return "", fmt.Errorf("failed to read page image: %w", err)
	}
	return e.runOCR(ctx, filepath.Base(matches[0]), img)
}
