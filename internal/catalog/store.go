package catalog

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrNoDataset is returned when no body table has been loaded yet.
	ErrNoDataset = errors.New("no catalog loaded")
	// ErrUnknownBody is returned for IDs that are not in the current table.
	ErrUnknownBody = errors.New("unknown body")
)

// Store provides thread-safe access to the current catalog dataset.
type Store struct {
	dataset atomic.Pointer[Dataset]
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Set atomically replaces the current dataset.
func (s *Store) Set(ds *Dataset) {
	s.dataset.Store(ds)
}

// Body returns a body from the current dataset.
func (s *Store) Body(id string) (Body, error) {
	ds := s.dataset.Load()
	if ds == nil {
		return Body{}, ErrNoDataset
	}
	b, ok := ds.Lookup(id)
	if !ok {
		return Body{}, ErrUnknownBody
	}
	return b, nil
}

// AgeSeconds returns the age of the current dataset in seconds.
// Returns -1 if no dataset is loaded.
func (s *Store) AgeSeconds() float64 {
	ds := s.dataset.Load()
	if ds == nil {
		return -1
	}
	return time.Since(ds.LoadedAt).Seconds()
}
