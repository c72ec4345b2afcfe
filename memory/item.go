package memory

import (
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-memory/internal/digest"
)

// DefaultMemoryType is the type tag given to memories added without one.
const DefaultMemoryType = "general"

// MemoryItem is a single stored memory.
// Items are created by Add, mutated by Update and removed by Delete.
type MemoryItem struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	AgentID    string            `json:"agent_id,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
	Content    string            `json:"content"`
	MemoryType string            `json:"memory_type"`
	Hash       string            `json:"hash"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Metadata   map[string]string `json:"metadata"`
}

// SearchResultItem pairs a memory with its similarity to the query.
type SearchResultItem struct {
	Memory MemoryItem `json:"memory"`
	Score  float32    `json:"score"`
}

// VectorMetadata is the projection of a MemoryItem persisted next to its
// vector. The content hash is not persisted.
type VectorMetadata struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	AgentID        string            `json:"agent_id,omitempty"`
	RunID          string            `json:"run_id,omitempty"`
	Text           string            `json:"text"`
	MemoryType     string            `json:"memory_type"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
}

// VectorRecord is the unit of storage: an ID, its vector and its metadata.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata VectorMetadata
}

// SearchResult is a single hit returned by VectorStore.Search.
type SearchResult struct {
	ID       string
	Score    float32
	Metadata VectorMetadata
}

// NewItem creates a MemoryItem with a fresh ID, content hash and
// identical creation and update timestamps.
func NewItem(userID, content, memoryType string, now time.Time) *MemoryItem {
	if memoryType == "" {
		memoryType = DefaultMemoryType
	}
	now = now.UTC()
	return &MemoryItem{
		ID:         uuid.New().String(),
		UserID:     userID,
		Content:    content,
		MemoryType: memoryType,
		Hash:       ComputeHash(content),
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   map[string]string{},
	}
}

// ComputeHash returns the content hash used for deduplication.
func ComputeHash(content string) string {
	return digest.Sum(content)
}

// ToVectorMetadata projects the item into its persisted form.
func (m *MemoryItem) ToVectorMetadata() VectorMetadata {
	return VectorMetadata{
		ID:             m.ID,
		UserID:         m.UserID,
		AgentID:        m.AgentID,
		RunID:          m.RunID,
		Text:           m.Content,
		MemoryType:     m.MemoryType,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		CustomMetadata: cloneMap(m.Metadata),
	}
}

// ItemFromMetadata reconstructs a MemoryItem from stored metadata.
// Hash is left empty because it is not persisted.
func ItemFromMetadata(md VectorMetadata) MemoryItem {
	meta := cloneMap(md.CustomMetadata)
	if meta == nil {
		meta = map[string]string{}
	}
	return MemoryItem{
		ID:         md.ID,
		UserID:     md.UserID,
		AgentID:    md.AgentID,
		RunID:      md.RunID,
		Content:    md.Text,
		MemoryType: md.MemoryType,
		CreatedAt:  md.CreatedAt,
		UpdatedAt:  md.UpdatedAt,
		Metadata:   meta,
	}
}

// Clone returns a deep copy of the metadata.
func (md VectorMetadata) Clone() VectorMetadata {
	md.CustomMetadata = cloneMap(md.CustomMetadata)
	return md
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
