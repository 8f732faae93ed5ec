package csi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// pageTokenTTL bounds how long a ListVolumes paging token stays valid
// (spec.md §4.6: "its lifetime is bounded (at least 60 s)").
const pageTokenTTL = 60 * time.Second

type page struct {
	offset   int
	deadline time.Time
}

// pageStore allocates and resolves opaque ListVolumes continuation tokens.
type pageStore struct {
	mu    sync.Mutex
	pages map[string]page
}

func newPageStore() *pageStore {
	return &pageStore{pages: make(map[string]page)}
}

func (p *pageStore) alloc(offset int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked()
	token := uuid.NewString()
	p.pages[token] = page{offset: offset, deadline: time.Now().Add(pageTokenTTL)}
	return token
}

// resolve returns the offset for token, or 0 for an empty token (first
// page). An expired or unknown non-empty token reports false, which the
// caller (ListVolumes) turns into ABORTED.
func (p *pageStore) resolve(token string) (int, bool) {
	if token == "" {
		return 0, true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pg, ok := p.pages[token]
	if !ok || time.Now().After(pg.deadline) {
		delete(p.pages, token)
		return 0, false
	}
	return pg.offset, true
}

func (p *pageStore) evictLocked() {
	now := time.Now()
	for tok, pg := range p.pages {
		if now.After(pg.deadline) {
			delete(p.pages, tok)
		}
	}
}
