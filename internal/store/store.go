package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tlw-bit/cherbot/internal/models"
)

// Backend persists the serialized document somewhere durable. Load
// returns (nil, nil) when no document exists yet.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte) error
}

// Store owns the in-memory document and serializes all access. Every
// mutation runs as a single critical section from read to persisted
// write, so handlers never observe a half-applied change.
type Store struct {
	mu      sync.Mutex
	backend Backend
	doc     *models.Document
	log     zerolog.Logger
}

func Open(ctx context.Context, backend Backend, log zerolog.Logger) (*Store, error) {
	raw, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	doc := models.NewDocument()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		doc.Normalize()
	}

	return &Store{backend: backend, doc: doc, log: log}, nil
}

// Update runs fn against the document and, when fn succeeds, rewrites
// the full document through the backend before returning. When fn
// returns an error nothing is persisted and in-memory changes made by
// fn are discarded by reloading nothing: fn must not mutate on error.
func (s *Store) Update(ctx context.Context, fn func(doc *models.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.doc); err != nil {
		return err
	}
	return s.persistLocked(ctx)
}

// View runs fn with the lock held, without persisting. Reads that prune
// expired records may still mutate in memory; the next Update writes
// those prunes out.
func (s *Store) View(fn func(doc *models.Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// Persist forces a rewrite of the current document.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := s.backend.Save(ctx, raw); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}
