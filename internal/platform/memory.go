package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/stellarlinkco/aiplatform/internal/store"
)

const (
	msgMemoryRequired = "Key and value are required"
	msgMemoryStored   = "Memory stored successfully"
	memoryDescription = "Stored memories for context and learning"
)

// StoreMemoryInput carries the raw JSON of the request's key and value.
// A nil field means the member was absent.
type StoreMemoryInput struct {
	Key   json.RawMessage
	Value json.RawMessage
}

type StoreMemoryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type MemoryEntry struct {
	Content      json.RawMessage `json:"content"`
	CreatedAt    string          `json:"created_at"`
	LastAccessed string          `json:"last_accessed"`
}

// MemoryPair encodes as a two-element array: [key, entry].
type MemoryPair struct {
	Key   string
	Entry MemoryEntry
}

func (m MemoryPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{m.Key, m.Entry})
}

func (m *MemoryPair) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("memory pair has %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &m.Key); err != nil {
		return err
	}
	return json.Unmarshal(parts[1], &m.Entry)
}

type MemoryList struct {
	Memories    []MemoryPair `json:"memories"`
	Count       int          `json:"count"`
	Description string       `json:"description"`
}

// StoreMemory creates or overwrites one entry. The key may be a non-empty
// string, a number or a boolean; numbers and booleans are stored under
// their literal JSON text. Any value other than null is accepted.
func (p *Platform) StoreMemory(ctx context.Context, in StoreMemoryInput) (*StoreMemoryResult, error) {
	key, ok := memoryKey(in.Key)
	if !ok || !present(in.Value) || !json.Valid(in.Value) {
		return nil, &ValidationError{Message: msgMemoryRequired}
	}

	if err := p.memory.Put(ctx, key, bytes.TrimSpace(in.Value), p.now().UTC()); err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}
	return &StoreMemoryResult{Success: true, Message: msgMemoryStored}, nil
}

func (p *Platform) GetMemory(ctx context.Context) (*MemoryList, error) {
	records, err := p.memory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}

	pairs := make([]MemoryPair, 0, len(records))
	for _, rec := range records {
		pairs = append(pairs, MemoryPair{Key: rec.Key, Entry: memoryEntryView(rec.Entry)})
	}
	return &MemoryList{Memories: pairs, Count: len(pairs), Description: memoryDescription}, nil
}

func memoryEntryView(e store.MemoryEntry) MemoryEntry {
	return MemoryEntry{
		Content:      e.Content,
		CreatedAt:    FormatTime(e.CreatedAt),
		LastAccessed: FormatTime(e.LastAccessed),
	}
}

func memoryKey(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	case '{', '[', 'n':
		return "", false
	default:
		// numbers and booleans
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", false
		}
		return string(raw), true
	}
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
