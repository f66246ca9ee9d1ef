// Package platform is the application core shared by every transport. It
// validates input, stamps and identifies records, and reads the injected
// stores and catalog. It knows nothing about HTTP.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/stellarlinkco/aiplatform/internal/catalog"
	"github.com/stellarlinkco/aiplatform/internal/store"
)

// TimeFormat is ISO-8601 in UTC with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Catalog is the read-only provider of system configuration and tools.
type Catalog interface {
	System() *catalog.SystemConfig
	Tools() []json.RawMessage
}

// ValidationError reports a request the core refused before touching state.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type Options struct {
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

type Platform struct {
	memory  store.MemoryStore
	plans   store.PlanStore
	catalog Catalog
	now     func() time.Time
	started time.Time

	lastPlanID  atomic.Int64
	initialized atomic.Bool
}

func New(memory store.MemoryStore, plans store.PlanStore, cat Catalog) *Platform {
	return NewWithOptions(memory, plans, cat, Options{})
}

func NewWithOptions(memory store.MemoryStore, plans store.PlanStore, cat Catalog, opts Options) *Platform {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Platform{
		memory:  memory,
		plans:   plans,
		catalog: cat,
		now:     now,
		started: now(),
	}
}

// MarkInitialized records that start-up has finished.
func (p *Platform) MarkInitialized() {
	p.initialized.Store(true)
}

func (p *Platform) Initialized() bool {
	return p.initialized.Load()
}

type Stats struct {
	Memories int
	Plans    int
	Tools    int
}

func (p *Platform) Stats(ctx context.Context) (Stats, error) {
	mems, err := p.memory.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	plans, err := p.plans.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Memories: mems, Plans: plans, Tools: len(p.catalog.Tools())}, nil
}
