package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/metrics"
	"fiqh-rag/internal/model"
	"fiqh-rag/internal/pkg/logger"
	"fiqh-rag/internal/platform/filestore"
	"fiqh-rag/internal/rag/loader"
	"fiqh-rag/internal/rag/schema"
)

const defaultMIMEType = "application/octet-stream"

// UploadStorage keeps raw uploaded files. Paths are relative to its root.
type UploadStorage interface {
	Save(conversationUID, filename string, r io.Reader, limit int64) (rel string, size int64, err error)
	Resolve(rel string) (string, error)
	Open(rel string) (string, error)
	Remove(rel string) error
}

// UploadFile is one file of a multipart upload.
type UploadFile struct {
	Filename    string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

type UploadError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// UploadBatchResult itemizes a batch upload. A document stored without
// being indexed appears in both lists.
type UploadBatchResult struct {
	Message   string           `json:"message"`
	Documents []model.Document `json:"documents"`
	Errors    []UploadError    `json:"errors"`
}

// Status is 207 for a mixed batch, 400 when nothing succeeded and 200
// otherwise.
func (r *UploadBatchResult) Status() int {
	switch {
	case len(r.Errors) > 0 && len(r.Documents) > 0:
		return http.StatusMultiStatus
	case len(r.Errors) > 0:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

type DocumentService struct {
	authorizer
	documents      DocumentStore
	index          VectorWriter
	loader         FileLoader
	splitter       DocumentSplitter
	files          UploadStorage
	notifier       UploadNotifier
	maxUploadBytes int64
	log            logrus.FieldLogger
}

func NewDocumentService(
	conversations ConversationStore,
	documents DocumentStore,
	index VectorWriter,
	fileLoader FileLoader,
	splitter DocumentSplitter,
	files UploadStorage,
	notifier UploadNotifier,
	maxUploadBytes int64,
	log logrus.FieldLogger,
) *DocumentService {
	return &DocumentService{
		authorizer:     authorizer{conversations: conversations},
		documents:      documents,
		index:          index,
		loader:         fileLoader,
		splitter:       splitter,
		files:          files,
		notifier:       notifier,
		maxUploadBytes: maxUploadBytes,
		log:            logger.OrDiscard(log).WithField("component", "document_service"),
	}
}

// ResolveActiveDocuments reads the active document UIDs of a conversation.
func (s *DocumentService) ResolveActiveDocuments(ctx context.Context, conversationUID string) ([]string, error) {
	uids, err := s.documents.ActiveUIDs(ctx, conversationUID)
	if err != nil {
		return nil, err
	}
	if uids == nil {
		uids = []string{}
	}
	return uids, nil
}

// Upload stores, chunks and indexes every file of the batch. A failing file
// never aborts the others.
func (s *DocumentService) Upload(ctx context.Context, userUID, conversationUID string, files []UploadFile) (*UploadBatchResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	conv, err := s.authorize(ctx, userUID, conversationUID)
	if err != nil {
		return nil, err
	}
	return s.ingest(ctx, conv.UID, files), nil
}

// Import ingests files into an existing conversation without an owner
// check. Used by the indexer command.
func (s *DocumentService) Import(ctx context.Context, conversationUID string, files []UploadFile) (*UploadBatchResult, error) {
	conv, err := s.conversations.GetByUID(ctx, conversationUID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return s.ingest(ctx, conv.UID, files), nil
}

func (s *DocumentService) ingest(ctx context.Context, conversationUID string, files []UploadFile) *UploadBatchResult {
	result := &UploadBatchResult{Documents: []model.Document{}, Errors: []UploadError{}}
	for _, f := range files {
		log := s.log.WithFields(logrus.Fields{"conversation_uid": conversationUID, "filename": f.Filename})

		doc, err := s.processFile(ctx, conversationUID, f)
		switch {
		case doc == nil:
			metrics.ObserveUpload("rejected")
			log.WithError(err).Warn("upload rejected")
		case err != nil:
			metrics.ObserveUpload("metadata_only")
			log.WithError(err).WithField("document_uid", doc.UID).Error("document stored but not indexed")
		default:
			metrics.ObserveUpload("indexed")
			log.WithFields(logrus.Fields{"document_uid": doc.UID, "chunks": doc.ChunkCount}).Info("document indexed")
		}

		if doc != nil {
			result.Documents = append(result.Documents, *doc)
		}
		if err != nil {
			result.Errors = append(result.Errors, UploadError{Filename: f.Filename, Error: err.Error()})
		}
	}
	result.Message = fmt.Sprintf("Processed %d document(s) successfully", len(result.Documents))
	return result
}

// processFile handles one upload. A nil document means nothing was kept; a
// document with an error was stored but is not searchable.
func (s *DocumentService) processFile(ctx context.Context, conversationUID string, f UploadFile) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := SanitizeFilename(f.Filename)
	if !s.loader.Supports(name) {
		return nil, fmt.Errorf("%w: %q", loader.ErrUnsupportedType, filepath.Ext(name))
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload failed: %w", err)
	}
	rel, size, err := s.files.Save(conversationUID, name, rc, s.maxUploadBytes)
	_ = rc.Close()
	if err != nil {
		return nil, err
	}
	full, err := s.files.Resolve(rel)
	if err != nil {
		_ = s.files.Remove(rel)
		return nil, err
	}
	stored := path.Base(rel)

	chunks, err := s.chunkFile(full, conversationUID, stored)
	if err != nil {
		_ = s.files.Remove(rel)
		return nil, err
	}

	doc := &model.Document{
		ConversationUID: conversationUID,
		Filename:        stored,
		FilePath:        rel,
		Size:            size,
		MimeType:        detectMIME(f.ContentType, full),
		IsActive:        true,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		_ = s.files.Remove(rel)
		return nil, err
	}

	n, idxErr := s.index.Insert(ctx, chunks, doc.UID)
	if idxErr != nil {
		if err := s.documents.MarkIndexed(ctx, doc.UID, false, 0); err != nil {
			s.log.WithError(err).WithField("document_uid", doc.UID).Error("mark document unsearchable failed")
		}
		s.notify(ctx, doc.UID, 0, idxErr)
		return doc, idxErr
	}

	if err := s.documents.MarkIndexed(ctx, doc.UID, true, n); err != nil {
		s.notify(ctx, doc.UID, n, err)
		return doc, err
	}
	doc.Searchable = true
	doc.ChunkCount = n
	metrics.ObserveIndexedChunks(n)
	s.notify(ctx, doc.UID, n, nil)
	return doc, nil
}

// chunkFile loads and splits a stored file. Every chunk is tagged with the
// conversation and the stored filename as its source.
func (s *DocumentService) chunkFile(full, conversationUID, stored string) ([]schema.Document, error) {
	raw, err := s.loader.LoadFile(full)
	if err != nil {
		return nil, err
	}

	var (
		chunks   []schema.Document
		firstErr error
	)
	for _, d := range raw {
		parts, err := s.splitter.SplitDocument(d)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		chunks = append(chunks, parts...)
	}
	if len(chunks) == 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("no text could be extracted from %s", stored)
		}
		return nil, firstErr
	}

	for i := range chunks {
		md := schema.CopyMetadata(chunks[i].Metadata)
		md[schema.MetaSource] = stored
		md[schema.MetaConversationUID] = conversationUID
		chunks[i].Metadata = md
	}
	return chunks, nil
}

func (s *DocumentService) notify(ctx context.Context, documentUID string, chunkCount int, err error) {
	if s.notifier == nil {
		return
	}
	if nErr := s.notifier.NotifyUploadResult(ctx, documentUID, chunkCount, err); nErr != nil {
		s.log.WithError(nErr).WithField("document_uid", documentUID).Warn("upload notification failed")
	}
}

func (s *DocumentService) ListDocuments(ctx context.Context, userUID, conversationUID string) ([]model.Document, error) {
	conv, err := s.authorize(ctx, userUID, conversationUID)
	if err != nil {
		return nil, err
	}
	return s.documents.ListByConversation(ctx, conv.UID)
}

func (s *DocumentService) ListActiveDocuments(ctx context.Context, userUID, conversationUID string) ([]model.Document, error) {
	conv, err := s.authorize(ctx, userUID, conversationUID)
	if err != nil {
		return nil, err
	}
	return s.documents.ListActive(ctx, conv.UID)
}

func (s *DocumentService) document(ctx context.Context, userUID, conversationUID, documentUID string) (*model.Document, error) {
	conv, err := s.authorize(ctx, userUID, conversationUID)
	if err != nil {
		return nil, err
	}
	doc, err := s.documents.GetInConversation(ctx, documentUID, conv.UID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// SetActive includes or excludes a document from the conversation's
// retrieval scope. The next request sees the change.
func (s *DocumentService) SetActive(ctx context.Context, userUID, conversationUID, documentUID string, active bool) (*model.Document, error) {
	doc, err := s.document(ctx, userUID, conversationUID, documentUID)
	if err != nil {
		return nil, err
	}
	if err := s.documents.SetActive(ctx, doc.UID, active); err != nil {
		return nil, err
	}
	doc.IsActive = active
	s.log.WithFields(logrus.Fields{"document_uid": doc.UID, "is_active": active}).Info("document status changed")
	return doc, nil
}

// DeleteDocument removes the chunks, then the row, then the stored file.
func (s *DocumentService) DeleteDocument(ctx context.Context, userUID, conversationUID, documentUID string) error {
	doc, err := s.document(ctx, userUID, conversationUID, documentUID)
	if err != nil {
		return err
	}
	n, err := s.index.Delete(ctx, doc.UID)
	if err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, doc.UID); err != nil {
		return err
	}
	if err := s.files.Remove(doc.FilePath); err != nil {
		s.log.WithError(err).WithField("document_uid", doc.UID).Warn("remove stored file failed")
	}
	s.log.WithFields(logrus.Fields{"document_uid": doc.UID, "chunks": n}).Info("document deleted")
	return nil
}

// Download returns the document and the absolute path of its stored file.
func (s *DocumentService) Download(ctx context.Context, userUID, conversationUID, documentUID string) (*model.Document, string, error) {
	doc, err := s.document(ctx, userUID, conversationUID, documentUID)
	if err != nil {
		return nil, "", err
	}
	full, err := s.files.Open(doc.FilePath)
	if err != nil {
		if errors.Is(err, filestore.ErrOutsideRoot) {
			s.log.WithField("document_uid", doc.UID).Error("stored path escapes the upload dir")
		}
		return nil, "", ErrFileNotFound
	}
	return doc, full, nil
}

// SanitizeFilename keeps letters, digits and "._-" and replaces anything
// else with "_". A name that ends up empty, or made only of dots, gets a
// generated one that keeps the extension.
func SanitizeFilename(name string) string {
	clean := strings.Map(keepRune, name)
	if strings.Trim(clean, ".") != "" {
		return clean
	}
	ext := strings.Map(keepRune, filepath.Ext(name))
	if strings.Trim(ext, ".") == "" {
		ext = ""
	}
	return "upload_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ext
}

func keepRune(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-' {
		return r
	}
	return '_'
}

func detectMIME(header, full string) string {
	header = strings.TrimSpace(header)
	if header != "" && header != defaultMIMEType {
		return header
	}
	if m, err := mimetype.DetectFile(full); err == nil && m != nil {
		return m.String()
	}
	return defaultMIMEType
}
