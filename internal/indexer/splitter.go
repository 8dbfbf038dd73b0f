package indexer

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, in characters.
const (
	DefaultChunkSize    = 3000
	DefaultChunkOverlap = 400
)

// separators are tried in order; "" splits into single characters.
var separators = []string{"\n\n", "\n", " ", ""}

// SplitText splits text recursively: it splits on the coarsest separator present,
// recurses into pieces that are still too large with the finer separators, and
// merges small pieces back into chunks of at most size characters, carrying up to
// overlap characters from the end of one chunk into the next. Separators are
// kept at the start of the piece after them and count toward its length.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	s := splitter{size: size, overlap: overlap}
	return s.split(text, separators)
}

type splitter struct {
	size    int
	overlap int
}

func (s splitter) split(text string, seps []string) []string {
	separator := seps[len(seps)-1]
	var finer []string
	for i, sep := range seps {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			finer = seps[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		// The separator stays attached to the piece that follows it, so
		// merged chunks are rebuilt without inserting anything.
		for i, p := range strings.Split(text, separator) {
			if i > 0 {
				p = separator + p
			}
			if p != "" {
				pieces = append(pieces, p)
			}
		}
	}

	var chunks, small []string
	for _, p := range pieces {
		if runeLen(p) < s.size {
			small = append(small, p)
			continue
		}
		if len(small) > 0 {
			chunks = append(chunks, s.merge(small, "")...)
			small = nil
		}
		if len(finer) == 0 {
			chunks = append(chunks, p)
		} else {
			chunks = append(chunks, s.split(p, finer)...)
		}
	}
	if len(small) > 0 {
		chunks = append(chunks, s.merge(small, "")...)
	}
	return chunks
}

// merge joins pieces with separator into chunks no longer than size, keeping
// a tail of at most overlap characters as the start of the next chunk.
func (s splitter) merge(pieces []string, separator string) []string {
	sepLen := runeLen(separator)
	var chunks []string
	var current []string
	total := 0

	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		l := runeLen(p)
		if total+l+joinLen() > s.size && len(current) > 0 {
			if c := strings.TrimSpace(strings.Join(current, separator)); c != "" {
				chunks = append(chunks, c)
			}
			for len(current) > 0 && (total > s.overlap || (total+l+joinLen() > s.size && total > 0)) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
		if len(current) > 1 {
			total += sepLen
		}
	}
	if c := strings.TrimSpace(strings.Join(current, separator)); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
