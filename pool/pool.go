// Package pool holds extraction results in an arena and hands out views
// into it.
//
// A View is a handle plus generation, not a pointer: it stays safe to hold
// after Reset or Close, and its accessors then report StatusStale or
// StatusClosed instead of reading reused memory. Accessors return Spans that
// alias the pool's own buffers; a Span is valid until the pool is Reset or
// Closed and must not be modified.
//
// The zero View stands for a failed extraction: its accessors return an
// empty Span with StatusOK.
package pool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/idgen"
)

// Status is the outcome of a View accessor.
type Status int32

const (
	StatusOK Status = iota
	StatusStale
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusStale:
		return "stale"
	case StatusClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Span is a read-only (pointer, length) pair into pool memory.
type Span struct {
	b []byte
}

// Bytes returns the aliased memory. Do not modify it.
func (s Span) Bytes() []byte { return s.b }

// Len is the byte length.
func (s Span) Len() int { return len(s.b) }

// IsNull reports whether the span points at nothing.
func (s Span) IsNull() bool { return s.b == nil }

func (s Span) String() string { return string(s.b) }

// Stats describe the pool's occupancy.
type Stats struct {
	CurrentCount         int   `json:"current_count"`
	Capacity             int   `json:"capacity"`
	TotalAllocations     int64 `json:"total_allocations"`
	GrowthEvents         int64 `json:"growth_events"`
	EstimatedMemoryBytes int64 `json:"estimated_memory_bytes"`
}

type slot struct {
	gen      uint64
	res      *document.Result
	content  []byte
	mime     []byte
	metadata []byte
	tables   []byte
	size     int64
}

// Pool is safe for concurrent use.
type Pool struct {
	ID string

	mu       sync.RWMutex
	slots    []slot
	capacity int
	nextGen  uint64
	closed   bool
	stats    Stats
}

// New creates a pool with room for capacity results before it grows.
func New(capacity int) *Pool {
	capacity = max(capacity, 0)
	return &Pool{
		ID:       idgen.Prefixed("pool_", idgen.Default)(),
		slots:    make([]slot, 0, capacity),
		capacity: capacity,
		stats:    Stats{Capacity: capacity},
	}
}

// ErrClosed is returned by Put on a closed pool.
var ErrClosed = fmt.Errorf("pool: closed")

// Put stores a copy of res and returns its View. A full pool doubles its
// capacity, which counts as a growth event.
func (p *Pool) Put(res *document.Result) (View, error) {
	if res == nil {
		return View{}, fmt.Errorf("pool: nil result")
	}
	stored := res.Clone()
	meta, err := json.Marshal(stored.Metadata)
	if err != nil {
		return View{}, fmt.Errorf("pool: encode metadata: %w", err)
	}
	tables, err := json.Marshal(stored.Tables)
	if err != nil {
		return View{}, fmt.Errorf("pool: encode tables: %w", err)
	}
	s := slot{
		res:      stored,
		content:  []byte(stored.Content),
		mime:     []byte(stored.MIMEType),
		metadata: meta,
		tables:   tables,
	}
	s.size = int64(len(s.content) + len(s.mime) + len(s.metadata) + len(s.tables))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return View{}, ErrClosed
	}
	if len(p.slots) == p.capacity {
		p.capacity = max(2*p.capacity, 1)
		grown := make([]slot, len(p.slots), p.capacity)
		copy(grown, p.slots)
		p.slots = grown
		p.stats.GrowthEvents++
	}
	p.nextGen++
	s.gen = p.nextGen
	p.slots = append(p.slots, s)

	p.stats.TotalAllocations++
	p.stats.EstimatedMemoryBytes += s.size
	return View{pool: p, index: len(p.slots) - 1, gen: s.gen}, nil
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.stats
	s.CurrentCount = len(p.slots)
	s.Capacity = p.capacity
	return s
}

// Reset drops every result and invalidates outstanding views. Capacity is
// kept.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.slots)
	p.slots = p.slots[:0]
	p.stats.EstimatedMemoryBytes = 0
}

// Close releases the pool. Views then report StatusClosed. Closing twice
// is a no-op; a nil pool is accepted.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.slots = nil
	p.capacity = 0
	p.stats.EstimatedMemoryBytes = 0
}

// View is a non-owning reference to a pooled result.
type View struct {
	pool  *Pool
	index int
	gen   uint64
}

// IsZero reports whether v is the failed-extraction view.
func (v View) IsZero() bool { return v.pool == nil }

// lookup resolves v; the caller holds the read lock.
func (v View) lookup() (*slot, Status) {
	if v.pool.closed {
		return nil, StatusClosed
	}
	if v.index >= len(v.pool.slots) || v.pool.slots[v.index].gen != v.gen {
		return nil, StatusStale
	}
	return &v.pool.slots[v.index], StatusOK
}

func (v View) span(field func(*slot) []byte) (Span, Status) {
	if v.pool == nil {
		return Span{}, StatusOK
	}
	v.pool.mu.RLock()
	defer v.pool.mu.RUnlock()
	s, st := v.lookup()
	if st != StatusOK {
		return Span{}, st
	}
	return Span{b: field(s)}, StatusOK
}

// Content returns the extracted text.
func (v View) Content() (Span, Status) { return v.span(func(s *slot) []byte { return s.content }) }

// MIMEType returns the result's MIME type.
func (v View) MIMEType() (Span, Status) { return v.span(func(s *slot) []byte { return s.mime }) }

// MetadataJSON returns the metadata as a JSON object.
func (v View) MetadataJSON() (Span, Status) { return v.span(func(s *slot) []byte { return s.metadata }) }

// TablesJSON returns the tables as a JSON array.
func (v View) TablesJSON() (Span, Status) { return v.span(func(s *slot) []byte { return s.tables }) }

func (v View) count(n func(*document.Result) int) (int, Status) {
	if v.pool == nil {
		return 0, StatusOK
	}
	v.pool.mu.RLock()
	defer v.pool.mu.RUnlock()
	s, st := v.lookup()
	if st != StatusOK {
		return 0, st
	}
	return n(s.res), StatusOK
}

// TableCount returns the number of tables.
func (v View) TableCount() (int, Status) {
	return v.count(func(r *document.Result) int { return len(r.Tables) })
}

// ChunkCount returns the number of chunks.
func (v View) ChunkCount() (int, Status) {
	return v.count(func(r *document.Result) int { return len(r.Chunks) })
}

// Result returns the pooled result itself. It is shared; do not modify it.
func (v View) Result() (*document.Result, Status) {
	if v.pool == nil {
		return nil, StatusOK
	}
	v.pool.mu.RLock()
	defer v.pool.mu.RUnlock()
	s, st := v.lookup()
	if st != StatusOK {
		return nil, st
	}
	return s.res, StatusOK
}
