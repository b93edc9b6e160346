package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// runOCR shells out to tesseract with stdout output. OCR engine choice is a
// deployment concern; any command with a `cmd <image> stdout` contract works.
func (e *Extractor) runOCR(ctx context.Context, filename string, image []byte) (string, error) {
	tmpDir, err := os.MkdirTemp("", "mailroom-img-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".png"
	}
	imgPath := filepath.Join(tmpDir, "input"+ext)
	if err := os.WriteFile(imgPath, image, 0600); err != nil {
		return "", fmt.Errorf("failed to write temp image: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.ocrCmd, imgPath, "stdout")
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w (%s)", e.ocrCmd, err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}
