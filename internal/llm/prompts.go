package llm

import (
	"fmt"
	"strings"

	"docchat/internal/retriever"
)

const documentTemplate = `You are an expert at answering questions.

Here is some reference data:
%s

Here is the question to answer:
%s`

const generalTemplate = `You are a smart and helpful AI assistant. Answer the question naturally and in a friendly way.

Question: %s`

// DocumentPrompt grounds the question in retrieved chunks.
func DocumentPrompt(question string, results []retriever.Result) string {
	return fmt.Sprintf(documentTemplate, FormatContext(results), question)
}

// GeneralPrompt is used when no document is active.
func GeneralPrompt(question string) string {
	return fmt.Sprintf(generalTemplate, question)
}

// FormatContext renders retrieved chunks with source headers, in rank order.
func FormatContext(results []retriever.Result) string {
	if len(results) == 0 {
		return "(no matching excerpts)"
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Source %d] Document: %s | Page: %d\n%s", i+1, r.Document, r.PageNumber, r.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
