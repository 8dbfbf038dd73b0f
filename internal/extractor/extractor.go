package extractor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither PDF nor DOCX.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrNoText is returned when a document has pages but none of them carry text.
	ErrNoText = errors.New("no text extracted")
)

// Page is the text of one physical (PDF) or logical (DOCX) page of a document.
type Page struct {
	Document   string
	PageNumber int
	Text       string
}

var allowedExtensions = map[string]bool{
	"pdf":  true,
	"docx": true,
}

// AllowedFile reports whether name has a pdf or docx extension.
func AllowedFile(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return ext != "" && allowedExtensions[strings.ToLower(ext)]
}

// Extract loads a document and returns its pages, choosing the loader by extension.
func Extract(path string) ([]Page, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return ExtractPDF(path)
	case ".docx":
		return ExtractDOCX(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}
