package extractor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDF extracts text from a PDF, one Page per physical page.
// Pages without text are skipped; a PDF that yields no text at all is an error.
func ExtractPDF(filePath string) ([]Page, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	fileName := filepath.Base(filePath)

	var pages []Page
	numPages := r.NumPage()

	for pageIndex := 1; pageIndex <= numPages; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}

		if len(strings.TrimSpace(text)) > 0 {
			pages = append(pages, Page{
				Document:   fileName,
				PageNumber: pageIndex,
				Text:       text,
			})
		}
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w from %s (scanned PDF?)", ErrNoText, fileName)
	}

	return pages, nil
}
