package extract

import (
	"context"
	"strings"
)

// Page is the text of one document page. Number is 0-based.
type Page struct {
	Number int
	Text   string
}

// PDFPages runs pdftotext and splits its output on form feeds.
func PDFPages(ctx context.Context, r CommandRunner, bin, path string) ([]Page, error) {
	out, err := r.Run(ctx, bin, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return nil, err
	}
	parts := strings.Split(string(out), "\f")
	// pdftotext terminates the last page with a form feed too
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]Page, len(parts))
	for i, p := range parts {
		pages[i] = Page{Number: i, Text: strings.TrimSpace(p)}
	}
	return pages, nil
}

// ImagePages OCRs an image with tesseract into a single page.
func ImagePages(ctx context.Context, r CommandRunner, bin, path string) ([]Page, error) {
	out, err := r.Run(ctx, bin, path, "stdout")
	if err != nil {
		return nil, err
	}
	return []Page{{Number: 0, Text: strings.TrimSpace(string(out))}}, nil
}

// Chunk splits text into windows of at most size runes that overlap by
// overlap runes. Windows end on whitespace when one is available.
func Chunk(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSpace(runes[start:end]); cut > size/2 {
			end = start + cut
		}
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == ' ' || r[i] == '\n' || r[i] == '\t' {
			return i
		}
	}
	return -1
}
