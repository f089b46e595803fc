package website

import (
	"context"
	"sync"

	"github.com/signetd/signet/pkg/cerr"
)

// Store serializes read-modify-write cycles on a domain's record. The
// underlying repository persists whole records, so two interleaved
// load/store sequences for the same domain would lose one of the writes;
// Store holds a per-domain mutex across the whole cycle instead.
type Store struct {
	repo Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(repo Repository) *Store {
	return &Store{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lock(domain string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[domain]
	if !ok {
		l = &sync.Mutex{}
		s.locks[domain] = l
	}
	return l
}

// Get returns a snapshot of the domain's record, or nil if none exists.
func (s *Store) Get(ctx context.Context, domain string) (*WebSite, error) {
	l := s.lock(domain)
	l.Lock()
	defer l.Unlock()

	site, err := s.repo.Get(ctx, domain)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return site, nil
}

// Update loads the domain's record (creating the default one if absent),
// applies fn to it and persists the result when fn reports a change. The
// per-domain lock is held for the whole cycle. The possibly mutated record
// is returned either way.
func (s *Store) Update(ctx context.Context, domain string, fn func(site *WebSite) (bool, error)) (*WebSite, error) {
	l := s.lock(domain)
	l.Lock()
	defer l.Unlock()

	site, err := s.repo.Get(ctx, domain)
	if err != nil {
		if !cerr.IsCode(err, cerr.NotFound) {
			return nil, err
		}
		site = NewWebSite(domain)
	}

	changed, err := fn(site)
	if err != nil {
		return site, err
	}
	if !changed {
		return site, nil
	}
	if err := s.repo.Upsert(ctx, site); err != nil {
		return site, err
	}
	return site, nil
}
