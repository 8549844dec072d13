package training

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const maxPDFPages = 200

// pdfWordCount extracts the plain text of every page and counts its words.
// Pages whose text cannot be extracted are skipped.
func pdfWordCount(data []byte) (words int, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			words, err = 0, fmt.Errorf("training: parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("training: open pdf: %w", err)
	}
	pages := reader.NumPage()
	if pages > maxPDFPages {
		pages = maxPDFPages
	}
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		words += len(strings.Fields(strings.ReplaceAll(text, "\x00", "")))
	}
	return words, nil
}
