package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fiqh-rag/internal/model"
	"fiqh-rag/internal/rag/schema"
	"fiqh-rag/internal/rag/vectorindex"
)

const chunkBatchSize = 200

// ChunkRepository is the MySQL-backed vector store. The document filter runs
// in SQL; similarity ranking runs in process over the filtered rows.
type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

var _ vectorindex.Store = (*ChunkRepository)(nil)

func (r *ChunkRepository) Upsert(ctx context.Context, records []vectorindex.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]model.Chunk, len(records))
	for i, rec := range records {
		rows[i] = chunkFromRecord(rec)
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(&rows, chunkBatchSize).Error
	if err != nil {
		return fmt.Errorf("upsert chunks failed: %w", err)
	}
	return nil
}

func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentUID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("document_uid = ?", documentUID).Delete(&model.Chunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chunks by document failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ChunkRepository) Search(ctx context.Context, query []float32, documentUIDs []string, k int) ([]schema.Document, error) {
	if len(documentUIDs) == 0 {
		return nil, nil
	}
	var rows []model.Chunk
	if err := r.db.WithContext(ctx).Where("document_uid IN ?", documentUIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list chunks by document ids failed: %w", err)
	}
	candidates := make([]vectorindex.Record, len(rows))
	for i := range rows {
		candidates[i] = recordFromChunk(&rows[i])
	}
	return vectorindex.Rank(query, candidates, k), nil
}

func chunkFromRecord(rec vectorindex.Record) model.Chunk {
	row := model.Chunk{
		ID:              rec.ID,
		DocumentUID:     rec.DocumentUID,
		ConversationUID: rec.ConversationUID,
		Source:          rec.Source,
		Content:         rec.Content,
	}
	row.SetMetadata(rec.Metadata)
	row.SetEmbedding(rec.Embedding)
	return row
}

func recordFromChunk(row *model.Chunk) vectorindex.Record {
	md := row.MetadataMap()
	if md == nil {
		md = map[string]string{}
	}
	md[schema.MetaDocumentUID] = row.DocumentUID
	if row.ConversationUID != "" {
		md[schema.MetaConversationUID] = row.ConversationUID
	}
	if row.Source != "" {
		md[schema.MetaSource] = row.Source
	}
	return vectorindex.Record{
		ID:              row.ID,
		DocumentUID:     row.DocumentUID,
		ConversationUID: row.ConversationUID,
		Source:          row.Source,
		Content:         row.Content,
		Metadata:        md,
		Embedding:       row.EmbeddingVector(),
	}
}
