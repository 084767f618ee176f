package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/pkg/lazy"
	"fiqh-rag/internal/pkg/logger"
	"fiqh-rag/internal/rag/schema"
)

// EmptyScopeSentinel replaces an empty allow-list so the document filter is
// always present and matches nothing.
const EmptyScopeSentinel = "invalid_id_placeholder"

const embedBatchSize = 64

var ErrNoEmbedding = errors.New("embedder returned no vector")

// Embedder turns text into vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Record is one stored chunk with its vector.
type Record struct {
	ID              string
	DocumentUID     string
	ConversationUID string
	Source          string
	Content         string
	Metadata        map[string]string
	Embedding       []float32
}

// Store persists records and answers filtered nearest-neighbour queries.
// Search must only consider records whose DocumentUID is in documentUIDs.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	DeleteByDocument(ctx context.Context, documentUID string) (int64, error)
	Search(ctx context.Context, query []float32, documentUIDs []string, k int) ([]schema.Document, error)
}

// IndexWriteError reports a failed insert or delete for one document.
type IndexWriteError struct {
	DocumentUID string
	Op          string
	Err         error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index %s for document %s failed: %v", e.Op, e.DocumentUID, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// Index is the single shared chunk index. Every chunk is tagged with the id of
// the document that owns it, and every search is filtered on that tag.
type Index struct {
	store    Store
	embedder *lazy.Value[Embedder]
	log      logrus.FieldLogger
}

func New(store Store, embedder *lazy.Value[Embedder], log logrus.FieldLogger) *Index {
	return &Index{
		store:    store,
		embedder: embedder,
		log:      logger.OrDiscard(log).WithField("component", "vectorindex"),
	}
}

// Insert embeds chunks and stores them under ids "{documentUID}_{i}". It
// returns the number of chunks written.
func (x *Index) Insert(ctx context.Context, chunks []schema.Document, documentUID string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	wrap := func(err error) error {
		return &IndexWriteError{DocumentUID: documentUID, Op: "insert", Err: err}
	}

	emb, err := x.embedder.Get(ctx)
	if err != nil {
		return 0, wrap(fmt.Errorf("init embedder failed: %w", err))
	}

	records := make([]Record, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		md := schema.CopyMetadata(c.Metadata)
		md[schema.MetaDocumentUID] = documentUID
		records[i] = Record{
			ID:              documentUID + "_" + strconv.Itoa(i),
			DocumentUID:     documentUID,
			ConversationUID: md[schema.MetaConversationUID],
			Source:          md[schema.MetaSource],
			Content:         c.Text,
			Metadata:        md,
		}
		texts[i] = c.Text
	}

	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		vectors, err := emb.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return 0, wrap(err)
		}
		if len(vectors) != end-start {
			return 0, wrap(fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), end-start))
		}
		for i, v := range vectors {
			if len(v) == 0 {
				return 0, wrap(ErrNoEmbedding)
			}
			records[start+i].Embedding = v
		}
	}

	if err := x.store.Upsert(ctx, records); err != nil {
		return 0, wrap(err)
	}
	x.log.WithFields(logrus.Fields{"document_uid": documentUID, "chunks": len(records)}).Info("chunks indexed")
	return len(records), nil
}

// Delete removes every chunk of the document. Deleting an unknown document
// is a no-op.
func (x *Index) Delete(ctx context.Context, documentUID string) (int64, error) {
	n, err := x.store.DeleteByDocument(ctx, documentUID)
	if err != nil {
		return 0, &IndexWriteError{DocumentUID: documentUID, Op: "delete", Err: err}
	}
	x.log.WithFields(logrus.Fields{"document_uid": documentUID, "chunks": n}).Debug("chunks deleted")
	return n, nil
}

// Search returns the k chunks closest to query among those owned by allowed
// documents. An empty allow-list yields no results.
func (x *Index) Search(ctx context.Context, query string, allowed []string, k int) ([]schema.Document, error) {
	if k <= 0 {
		return nil, nil
	}
	scope := allowed
	if len(scope) == 0 {
		scope = []string{EmptyScopeSentinel}
	}

	emb, err := x.embedder.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("init embedder failed: %w", err)
	}
	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}
	if len(vec) == 0 {
		return nil, ErrNoEmbedding
	}

	hits, err := x.store.Search(ctx, vec, scope, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hits, nil
}

// Retriever binds a search scope and k for use by a chain.
type Retriever struct {
	index   *Index
	allowed []string
	k       int
}

// Retriever copies allowed, so later changes by the caller do not widen or
// narrow the scope.
func (x *Index) Retriever(allowed []string, k int) *Retriever {
	scope := make([]string, len(allowed))
	copy(scope, allowed)
	return &Retriever{index: x, allowed: scope, k: k}
}

func (r *Retriever) Retrieve(ctx context.Context, query string) ([]schema.Document, error) {
	return r.index.Search(ctx, query, r.allowed, r.k)
}
