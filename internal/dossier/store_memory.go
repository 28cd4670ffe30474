package dossier

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"certreg/pkg/platform/sentinel"
)

// InMemoryStore backs tests and single-process dev.
type InMemoryStore struct {
	mu        sync.RWMutex
	companies map[int64]*CompanyInfo // keyed by application id
	directors map[int64]*Director
	documents map[int64]*Document
	nextID    int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		companies: make(map[int64]*CompanyInfo),
		directors: make(map[int64]*Director),
		documents: make(map[int64]*Document),
	}
}

func (s *InMemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *InMemoryStore) UpsertCompanyInfo(_ context.Context, info *CompanyInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.companies[info.ApplicationID]; ok {
		info.ID = existing.ID
		info.CreatedAt = existing.CreatedAt
	} else {
		info.ID = s.id()
	}
	cp := *info
	s.companies[info.ApplicationID] = &cp
	return nil
}

func (s *InMemoryStore) GetCompanyInfo(_ context.Context, applicationID int64) (*CompanyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.companies[applicationID]
	if !ok {
		return nil, fmt.Errorf("company info for application %d: %w", applicationID, sentinel.ErrNotFound)
	}
	cp := *info
	return &cp, nil
}

func (s *InMemoryStore) AddDirector(_ context.Context, d *Director) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.id()
	cp := *d
	s.directors[d.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListDirectors(_ context.Context, applicationID int64) ([]*Director, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Director
	for _, d := range s.directors {
		if d.ApplicationID == applicationID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) DeleteDirector(_ context.Context, applicationID, directorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.directors[directorID]
	if !ok || d.ApplicationID != applicationID {
		return fmt.Errorf("director %d: %w", directorID, sentinel.ErrNotFound)
	}
	delete(s.directors, directorID)
	return nil
}

func (s *InMemoryStore) AddDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ID = s.id()
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListDocuments(_ context.Context, applicationID int64) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Document
	for _, doc := range s.documents {
		if doc.ApplicationID == applicationID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) DeleteDocument(_ context.Context, applicationID, documentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok || doc.ApplicationID != applicationID {
		return fmt.Errorf("document %d: %w", documentID, sentinel.ErrNotFound)
	}
	delete(s.documents, documentID)
	return nil
}
