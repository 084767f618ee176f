package normalize

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DecodeError reports text that is not valid UTF-8.
type DecodeError struct {
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed utf-8 at byte offset %d", e.Offset)
}

// Normalizer prepares raw Arabic text before chunking: Unicode NFKC, then
// optional contextual reshaping to presentation forms and visual reordering.
// The same input always yields the same output.
type Normalizer struct {
	reshape bool
	reorder bool
}

func New(reshape, reorder bool) *Normalizer {
	return &Normalizer{reshape: reshape, reorder: reorder}
}

func (n *Normalizer) Normalize(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if !utf8.ValidString(raw) {
		return "", &DecodeError{Offset: invalidOffset(raw)}
	}

	text := norm.NFKC.String(raw)
	if n.reshape {
		text = reshape(text)
	}
	if n.reorder {
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			lines[i] = reorderLine(line)
		}
		text = strings.Join(lines, "\n")
	}
	return text, nil
}

// NormalizeBytes is Normalize for file contents.
func (n *Normalizer) NormalizeBytes(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", &DecodeError{Offset: invalidOffset(string(raw))}
	}
	return n.Normalize(string(raw))
}

func invalidOffset(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(s)
}
