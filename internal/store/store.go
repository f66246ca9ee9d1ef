// Package store holds the two process-lifetime state stores: memory entries
// keyed by client-supplied names and immutable plans keyed by generated IDs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stellarlinkco/aiplatform/internal/config"
)

// ErrDuplicatePlan is returned by PlanStore.Insert when the ID is taken.
var ErrDuplicatePlan = errors.New("store: duplicate plan id")

type MemoryEntry struct {
	Content      json.RawMessage
	CreatedAt    time.Time
	LastAccessed time.Time
}

type MemoryRecord struct {
	Key   string
	Entry MemoryEntry
}

type Plan struct {
	ID              string
	TaskDescription string
	Steps           json.RawMessage
	CreatedAt       time.Time
	Status          string
}

// MemoryStore keeps entries in first-insertion order. Put on an existing key
// replaces the content in place, keeps CreatedAt and never moves
// LastAccessed backwards.
type MemoryStore interface {
	Put(ctx context.Context, key string, content json.RawMessage, now time.Time) error
	List(ctx context.Context) ([]MemoryRecord, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// PlanStore keeps plans in creation order.
type PlanStore interface {
	Insert(ctx context.Context, plan Plan) error
	List(ctx context.Context) ([]Plan, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

type Backend interface {
	Memory() MemoryStore
	Plans() PlanStore
	Close() error
}

// Open returns the backend selected by cfg.Backend.
func Open(cfg config.StoreConfig) (Backend, error) {
	switch cfg.Backend {
	case "", config.StoreInMem:
		return NewInMem(), nil
	case config.StoreSQLite:
		return NewSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
