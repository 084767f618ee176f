package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"fiqh-rag/internal/rag/schema"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// DefaultSeparators are tried in order: paragraphs, lines, Latin sentences,
// Arabic comma and semicolon clauses, words, then single runes.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "، ", "؛ ", " ", ""}

var ErrNoChunks = errors.New("document produced no chunks")

// ChunkError reports a document that could not be split.
type ChunkError struct {
	Source string
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %s failed: %v", e.Source, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Splitter cuts text recursively on a separator hierarchy until every piece
// fits the size cap, then greedily merges neighbouring pieces back together
// with a bounded overlap. Lengths are counted in runes. The separator stays at
// the start of the piece that follows it, and chunk edges are trimmed.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	return &Splitter{size: size, overlap: overlap, separators: DefaultSeparators}, nil
}

// Default returns a splitter with size 1000 and overlap 100.
func Default() *Splitter {
	s, _ := New(DefaultChunkSize, DefaultChunkOverlap)
	return s
}

func (s *Splitter) SplitText(text string) []string {
	return s.splitText(text, s.separators)
}

// SplitDocument splits one document and copies its metadata onto every chunk.
func (s *Splitter) SplitDocument(doc schema.Document) ([]schema.Document, error) {
	texts := s.SplitText(doc.Text)
	if len(texts) == 0 {
		return nil, &ChunkError{Source: doc.Metadata[schema.MetaSource], Err: ErrNoChunks}
	}
	out := make([]schema.Document, 0, len(texts))
	for _, t := range texts {
		out = append(out, schema.Document{Text: t, Metadata: schema.CopyMetadata(doc.Metadata)})
	}
	return out, nil
}

// Split splits every document in order. Documents without text contribute
// nothing.
func (s *Splitter) Split(docs []schema.Document) []schema.Document {
	var out []schema.Document
	for _, d := range docs {
		chunks, err := s.SplitDocument(d)
		if err != nil {
			continue
		}
		out = append(out, chunks...)
	}
	return out
}

func (s *Splitter) splitText(text string, separators []string) []string {
	var final []string

	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.splitText(piece, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge joins pieces into chunks no longer than the size cap where possible.
// Pieces already carry their separator, so they are joined with nothing.
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.size && len(current) > 0 {
			if doc := join(current); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := join(current); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func join(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

// splitKeepingSeparator splits text on sep and glues each separator onto the
// start of the piece after it. An empty sep splits into runes. Empty pieces
// are dropped.
func splitKeepingSeparator(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		raw := strings.Split(text, sep)
		parts = make([]string, 0, len(raw))
		parts = append(parts, raw[0])
		for _, r := range raw[1:] {
			parts = append(parts, sep+r)
		}
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
