package service

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"devfolio/internal/domain"
)

// casAttempts 读-改-CAS 循环的重试预算；耗尽后以冲突收场而不是无限自旋
const casAttempts = 3

var conflictTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "portfolio_conflicts_total",
	Help: "Rejected writes due to version conflicts",
})

func init() { prometheus.MustRegister(conflictTotal) }

// mutation 一次对聚合的纯变更：apply 全部校验通过才落任何状态
type mutation func(p *domain.Portfolio) error

// mutate 乐观并发控制的核心回路：
//  1. 装载当前文档（缺失则惰性建默认文档）
//  2. expectedVersion 给了就比对，落后/超前一律按冲突处理并带回权威文档
//  3. 应用变更（变更自身负责 version+1），以装载时的版本做 CAS 提交
//  4. CAS 落空说明读写窗口里有并发提交，整轮重来；预算耗尽返回冲突
//
// 每个版本迁移至多提交一个变更，已接受的写不会被过期写静默覆盖。
func (s *PortfolioService) mutate(ctx context.Context, ownerID string, expectedVersion *int64, apply mutation) (*domain.Portfolio, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		p, err := s.loadOrCreate(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if expectedVersion != nil && *expectedVersion != p.Version {
			conflictTotal.Inc()
			return nil, &domain.ConflictError{
				ExpectedVersion: *expectedVersion,
				CurrentVersion:  p.Version,
				Current:         p,
			}
		}
		loadedVersion := p.Version
		if err := apply(p); err != nil {
			return nil, err
		}
		err = s.store.SaveCAS(ctx, p, loadedVersion)
		if errors.Is(err, domain.ErrStaleWrite) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	conflictTotal.Inc()
	cur, err := s.loadOrCreate(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	expected := cur.Version
	if expectedVersion != nil {
		expected = *expectedVersion
	}
	return nil, &domain.ConflictError{
		ExpectedVersion: expected,
		CurrentVersion:  cur.Version,
		Current:         cur,
	}
}

// loadOrCreate 首次访问惰性建档；并发首建撞车时回读胜者
func (s *PortfolioService) loadOrCreate(ctx context.Context, ownerID string) (*domain.Portfolio, error) {
	p, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	p = domain.NewPortfolio(ownerID)
	if err := s.store.Create(ctx, p); err != nil {
		if existing, gerr := s.store.GetByOwner(ctx, ownerID); gerr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return p, nil
}
