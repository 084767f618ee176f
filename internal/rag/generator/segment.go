package generator

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '؟', '۔', '\n':
		return true
	}
	return false
}

// splitSentences cuts text after each sentence terminator and the whitespace
// that follows it. Concatenating the result gives back text unchanged.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	offset := 0
	for i := 0; i < len(runes); i++ {
		offset += utf8.RuneLen(runes[i])
		if !isTerminator(runes[i]) {
			continue
		}
		for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			i++
			offset += utf8.RuneLen(runes[i])
		}
		out = append(out, text[start:offset])
		start = offset
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// Segment splits an answer into stream increments. Sentences are merged until
// a piece reaches size runes; a longer sentence is sent whole.
func Segment(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	var (
		out []string
		buf strings.Builder
		n   int
	)
	for _, s := range splitSentences(text) {
		buf.WriteString(s)
		n += utf8.RuneCountInString(s)
		if n >= size {
			out = append(out, buf.String())
			buf.Reset()
			n = 0
		}
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}
