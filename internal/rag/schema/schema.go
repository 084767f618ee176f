package schema

// Metadata keys stamped on every indexed chunk. Retrieval filtering depends
// on these exact names.
const (
	MetaDocumentUID     = "document_uid"
	MetaConversationUID = "conversation_uid"
	MetaSource          = "source"
)

// Document is a unit of text with metadata. Loaders return one Document per
// file (or per row for tabular files), the chunker returns one per chunk.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float32           `json:"score,omitempty"`
}

// Turn is one completed prompt/response exchange of a conversation.
type Turn struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// CopyMetadata returns a shallow copy of md that is safe to mutate.
func CopyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md)+3)
	for k, v := range md {
		out[k] = v
	}
	return out
}
