package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"fiqh-rag/internal/pkg/pdfextract"
	"fiqh-rag/internal/rag/normalize"
	"fiqh-rag/internal/rag/schema"
)

func textLoader(n *normalize.Normalizer) LoadFunc {
	return func(path string) ([]schema.Document, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		text, err := n.NormalizeBytes(raw)
		if err != nil {
			return nil, err
		}
		return []schema.Document{{Text: text, Metadata: map[string]string{}}}, nil
	}
}

// loadPDF yields one document per page that has text.
func loadPDF(path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pages, err := pdfextract.ExtractPages(f)
	if err != nil {
		return nil, err
	}
	docs := make([]schema.Document, 0, len(pages))
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, schema.Document{
			Text:     text,
			Metadata: map[string]string{"page": strconv.Itoa(i)},
		})
	}
	return docs, nil
}

// loadCSV yields one document per data row, formatted as "header: value"
// lines in column order.
func loadCSV(path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header failed: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var docs []schema.Document
	for row := 0; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d failed: %w", row, err)
		}
		lines := make([]string, 0, len(header))
		for i, name := range header {
			value := ""
			if i < len(record) {
				value = record[i]
			}
			lines = append(lines, strings.TrimSpace(name)+": "+strings.TrimSpace(value))
		}
		docs = append(docs, schema.Document{
			Text:     strings.Join(lines, "\n"),
			Metadata: map[string]string{"row": strconv.Itoa(row)},
		})
	}
	return docs, nil
}

// loadHTML extracts visible text, one line per non-empty text block.
func loadHTML(path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse html failed: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	md := map[string]string{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		md["title"] = title
	}
	doc.Find("head").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return []schema.Document{{Text: strings.Join(lines, "\n"), Metadata: md}}, nil
}
