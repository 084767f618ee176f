package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/pkg/logger"
	"fiqh-rag/internal/rag/normalize"
	"fiqh-rag/internal/rag/schema"
)

var ErrUnsupportedType = errors.New("unsupported file type")

// LoadError wraps any failure to turn a single file into documents.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s failed: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadFunc turns one file into raw documents. Every document it returns must
// carry the source metadata.
type LoadFunc func(path string) ([]schema.Document, error)

type Loader struct {
	handlers map[string]LoadFunc
	log      logrus.FieldLogger
}

// New returns a loader for .txt, .pdf, .csv, .html and .htm files. Plain text
// goes through n before it is returned.
func New(n *normalize.Normalizer, log logrus.FieldLogger) *Loader {
	l := &Loader{
		handlers: make(map[string]LoadFunc),
		log:      logger.OrDiscard(log).WithField("component", "loader"),
	}
	l.Register(".txt", textLoader(n))
	l.Register(".pdf", loadPDF)
	l.Register(".csv", loadCSV)
	l.Register(".html", loadHTML)
	l.Register(".htm", loadHTML)
	return l
}

// Register binds a loading function to a file extension, replacing any
// previous binding.
func (l *Loader) Register(ext string, fn LoadFunc) {
	l.handlers[strings.ToLower(ext)] = fn
}

func (l *Loader) Supports(path string) bool {
	_, ok := l.handlers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// LoadFile loads a single file. All failures are returned as *LoadError.
func (l *Loader) LoadFile(path string) ([]schema.Document, error) {
	fn, ok := l.handlers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, &LoadError{Path: path, Err: ErrUnsupportedType}
	}
	docs, err := fn(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]string{}
		}
		docs[i].Metadata[schema.MetaSource] = path
	}
	return docs, nil
}

// Load walks dir recursively and loads every file it can. Files that fail are
// logged and skipped. An empty result is not an error; only a missing or
// unreadable root is.
func (l *Loader) Load(ctx context.Context, dir string) ([]schema.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s failed: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var docs []schema.Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			l.log.WithError(walkErr).WithField("path", path).Warn("skip unreadable path")
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		loaded, err := l.LoadFile(path)
		if err != nil {
			l.log.WithError(err).WithField("path", path).Warn("skip file")
			return nil
		}
		docs = append(docs, loaded...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{"dir": dir, "documents": len(docs)}).Info("directory loaded")
	return docs, nil
}
