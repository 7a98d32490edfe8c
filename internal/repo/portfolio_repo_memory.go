package repo

import (
	"context"
	"sync"
	"time"

	"devfolio/internal/domain"
)

// MemoryPortfolioStore 进程内实现，语义与 gorm 版一致（含 CAS 与独立计数器）。
// 用于测试和本地免数据库启动。
type MemoryPortfolioStore struct {
	mu   sync.Mutex
	byID map[string]*domain.Portfolio // key: portfolio id
	ids  map[string]string            // ownerID -> portfolio id
}

func NewMemoryPortfolioStore() *MemoryPortfolioStore {
	return &MemoryPortfolioStore{
		byID: map[string]*domain.Portfolio{},
		ids:  map[string]string{},
	}
}

func (s *MemoryPortfolioStore) GetByOwner(_ context.Context, ownerID string) (*domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[ownerID]
	if !ok {
		return nil, nil
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryPortfolioStore) Create(_ context.Context, p *domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[p.OwnerID]; exists {
		return &domain.StoreError{Op: "create", Err: domain.ErrStaleWrite}
	}
	s.byID[p.ID] = p.Clone()
	s.ids[p.OwnerID] = p.ID
	return nil
}

func (s *MemoryPortfolioStore) SaveCAS(_ context.Context, p *domain.Portfolio, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[p.ID]
	if !ok {
		return &domain.NotFoundError{Kind: "portfolio", ID: p.ID}
	}
	if cur.Version != expectedVersion {
		return domain.ErrStaleWrite
	}
	saved := p.Clone()
	// 计数器不随文档整体覆盖
	saved.Stats = cur.Stats
	s.byID[p.ID] = saved
	return nil
}

func (s *MemoryPortfolioStore) IncrementView(_ context.Context, id string, unique bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return &domain.NotFoundError{Kind: "portfolio", ID: id}
	}
	p.Stats.Views++
	if unique {
		p.Stats.UniqueViews++
	}
	now := time.Now().UTC()
	p.Stats.LastViewed = &now
	return nil
}

func (s *MemoryPortfolioStore) IncrementShare(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return &domain.NotFoundError{Kind: "portfolio", ID: id}
	}
	p.Stats.Shares++
	return nil
}

func (s *MemoryPortfolioStore) DeleteByOwner(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[ownerID]; ok {
		delete(s.byID, id)
		delete(s.ids, ownerID)
	}
	return nil
}
