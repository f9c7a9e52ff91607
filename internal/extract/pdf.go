package extract

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// scannedTextThreshold is the minimum number of extractable characters below
// which a PDF is treated as a scan rather than a digital export.
const scannedTextThreshold = 200

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty,
// "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext -layout over the PDF bytes and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "cma-*.pdf")
	if err != nil {
		return "", eris.Wrap(err, "extract: create temp pdf")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", eris.Wrap(err, "extract: write temp pdf")
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", tmp.Name(), "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "extract: pdftotext failed for %s: %s", filepath.Base(tmp.Name()), stderr.String())
	}

	return stdout.String(), nil
}

// IsScanned reports whether extracted PDF text is too sparse to be a
// digital export.
func IsScanned(text string) bool {
	return len(strings.TrimSpace(text)) < scannedTextThreshold
}
