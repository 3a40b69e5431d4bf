package contract

import (
	"sync/atomic"

	"github.com/ppiankov/dcawatch/internal/model"
)

// Source serves lookups from the current Repository and lets a reloader
// swap in a new one. Readers never see a partially loaded contract set.
type Source struct {
	current atomic.Pointer[Repository]
}

// NewSource creates a Source serving repo.
func NewSource(repo *Repository) *Source {
	s := &Source{}
	s.current.Store(repo)
	return s
}

// Current returns the active Repository.
func (s *Source) Current() *Repository {
	return s.current.Load()
}

// Swap replaces the active Repository.
func (s *Source) Swap(repo *Repository) {
	s.current.Store(repo)
}

// Lookup delegates to the active Repository.
func (s *Source) Lookup(dcaID string) ([]model.SLARule, error) {
	return s.current.Load().Lookup(dcaID)
}
