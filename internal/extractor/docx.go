package extractor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// charsPerPage is the size of a logical DOCX page.
const charsPerPage = 3000

// ExtractDOCX extracts text from a DOCX file, splitting into logical pages.
// DOCX files have no physical page breaks, so paragraphs are grouped into
// ~3000-character blocks to give citations a page number.
func ExtractDOCX(filePath string) ([]Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read docx: %w", err)
	}
	defer r.Close()

	pages := paginate(filepath.Base(filePath), splitDOCXParagraphs(r.Editable().GetContent()))
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w from %s", ErrNoText, filepath.Base(filePath))
	}
	return pages, nil
}

// paginate groups paragraphs into pages of at most charsPerPage bytes.
// A single paragraph longer than that becomes its own page.
func paginate(document string, paragraphs []string) []Page {
	var pages []Page
	var pageBuf strings.Builder
	pageNum := 1

	flush := func() {
		pages = append(pages, Page{
			Document:   document,
			PageNumber: pageNum,
			Text:       strings.TrimSpace(pageBuf.String()),
		})
		pageNum++
		pageBuf.Reset()
	}

	for _, para := range paragraphs {
		text := strings.TrimSpace(para)
		if text == "" {
			continue
		}
		if pageBuf.Len() > 0 && pageBuf.Len()+len(text) > charsPerPage {
			flush()
		}
		if pageBuf.Len() > 0 {
			pageBuf.WriteString("\n")
		}
		pageBuf.WriteString(text)
	}

	if pageBuf.Len() > 0 {
		flush()
	}
	return pages
}

// paragraphRe matches one <w:p> element; <w:pPr> and friends are not paragraphs.
var paragraphRe = regexp.MustCompile(`(?s)<w:p[\s>].*?</w:p>`)

// splitDOCXParagraphs extracts the text of each <w:p> paragraph in DOCX XML.
func splitDOCXParagraphs(xmlStr string) []string {
	var paragraphs []string
	for _, part := range paragraphRe.FindAllString(xmlStr, -1) {
		cleaned := strings.TrimSpace(unescapeXML(stripTags(part)))
		if cleaned != "" {
			paragraphs = append(paragraphs, cleaned)
		}
	}
	return paragraphs
}

func stripTags(xmlStr string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range xmlStr {
		if r == '<' {
			inTag = true
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
