package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Chunk stores one indexed piece of a document with its embedding. ID is
// "{document_uid}_{index}".
type Chunk struct {
	ID              string         `gorm:"primaryKey;size:80" json:"id"`
	DocumentUID     string         `gorm:"size:36;not null;index" json:"document_uid"`
	ConversationUID string         `gorm:"size:36;index" json:"conversation_uid"`
	Source          string         `gorm:"size:255" json:"source"`
	Content         string         `gorm:"type:text;not null" json:"content"`
	Metadata        datatypes.JSON `json:"metadata"`
	Embedding       datatypes.JSON `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if len(c.Embedding) == 0 {
		return nil
	}
	var v []float32
	if err := json.Unmarshal(c.Embedding, &v); err != nil {
		return nil
	}
	return v
}

// SetEmbedding stores the embedding as a JSON array.
func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = datatypes.JSON("[]")
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = datatypes.JSON(b)
}

// MetadataMap decodes the stored metadata; nil when absent or invalid.
func (c *Chunk) MetadataMap() map[string]string {
	if len(c.Metadata) == 0 {
		return nil
	}
	var md map[string]string
	if err := json.Unmarshal(c.Metadata, &md); err != nil {
		return nil
	}
	return md
}

func (c *Chunk) SetMetadata(md map[string]string) {
	if len(md) == 0 {
		c.Metadata = nil
		return
	}
	b, _ := json.Marshal(md)
	c.Metadata = datatypes.JSON(b)
}
