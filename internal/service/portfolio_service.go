package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"devfolio/internal/domain"
	"devfolio/internal/realtime"
	"devfolio/pkg/utils"
)

// PortfolioService API 层的唯一入口：所有写路径都经 mutate 的并发控制，
// 提交成功后才广播，广播失败只记日志，绝不拖累提交
type PortfolioService struct {
	store domain.PortfolioStore
	bc    realtime.Broadcaster
	log   *zap.Logger
}

func NewPortfolioService(store domain.PortfolioStore, bc realtime.Broadcaster, log *zap.Logger) *PortfolioService {
	return &PortfolioService{store: store, bc: bc, log: log}
}

func (s *PortfolioService) Get(ctx context.Context, ownerID string) (*domain.Portfolio, error) {
	return s.loadOrCreate(ctx, ownerID)
}

// UpdateInput PUT /portfolio 的整体/部分更新：blocks 给了就整组替换，
// layout/theme/seo 浅合并，customDomain 单独落发布配置
type UpdateInput struct {
	Blocks       []domain.BlockInput `json:"blocks,omitempty"`
	Layout       map[string]any      `json:"layout,omitempty"`
	Theme        map[string]any      `json:"theme,omitempty"`
	SEO          map[string]any      `json:"seo,omitempty"`
	CustomDomain *string             `json:"custom_domain,omitempty"`
}

func (s *PortfolioService) Update(ctx context.Context, ownerID string, expectedVersion *int64, in UpdateInput) (*domain.Portfolio, error) {
	p, err := s.mutate(ctx, ownerID, expectedVersion, func(p *domain.Portfolio) error {
		if in.Blocks != nil {
			replaced := make([]domain.Block, 0, len(in.Blocks))
			for i, bi := range in.Blocks {
				if !domain.ValidBlockType(bi.Type) {
					return domain.Invalid("blocks", "unknown block type "+string(bi.Type))
				}
				if err := domain.ValidateContent(bi.Type, bi.Content); err != nil {
					return err
				}
				visible := true
				if bi.Visible != nil {
					visible = *bi.Visible
				}
				replaced = append(replaced, domain.Block{
					ID:      utils.NewID(),
					Type:    bi.Type,
					Content: bi.Content,
					Order:   i,
					Visible: visible,
				})
			}
			p.Blocks = replaced
		}
		// 浅合并，未提及的键保留；整个请求只算一次版本迁移
		merge := func(target *map[string]any, patch map[string]any) {
			if patch == nil {
				return
			}
			if *target == nil {
				*target = map[string]any{}
			}
			for k, v := range patch {
				(*target)[k] = v
			}
		}
		merge(&p.Layout, in.Layout)
		merge(&p.Theme, in.Theme)
		merge(&p.SEO, in.SEO)
		if in.CustomDomain != nil {
			p.Publishing.CustomDomain = *in.CustomDomain
		}
		p.Version++
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, p, realtime.KindPortfolioUpdated, p)
	return p, nil
}

func (s *PortfolioService) AddBlock(ctx context.Context, ownerID string, expectedVersion *int64, in domain.BlockInput, position *int) (*domain.Portfolio, *domain.Block, error) {
	var added domain.Block
	p, err := s.mutate(ctx, ownerID, expectedVersion, func(p *domain.Portfolio) error {
		b, err := p.AddBlock(in, position)
		if err != nil {
			return err
		}
		added = *b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.broadcast(ctx, p, realtime.KindBlockAdded, added)
	return p, &added, nil
}

func (s *PortfolioService) UpdateBlock(ctx context.Context, ownerID string, expectedVersion *int64, blockID string, patch domain.BlockPatch) (*domain.Portfolio, *domain.Block, error) {
	var updated domain.Block
	p, err := s.mutate(ctx, ownerID, expectedVersion, func(p *domain.Portfolio) error {
		b, err := p.UpdateBlock(blockID, patch)
		if err != nil {
			return err
		}
		updated = *b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.broadcast(ctx, p, realtime.KindBlockUpdated, updated)
	return p, &updated, nil
}

func (s *PortfolioService) DeleteBlock(ctx context.Context, ownerID string, expectedVersion *int64, blockID string) (*domain.Portfolio, error) {
	p, err := s.mutate(ctx, ownerID, expectedVersion, func(p *domain.Portfolio) error {
		return p.DeleteBlock(blockID)
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, p, realtime.KindBlockDeleted, map[string]any{"blockId": blockID})
	return p, nil
}

func (s *PortfolioService) ReorderBlocks(ctx context.Context, ownerID string, expectedVersion *int64, orderedIDs []string) (*domain.Portfolio, error) {
	p, err := s.mutate(ctx, ownerID, expectedVersion, func(p *domain.Portfolio) error {
		p.ReorderBlocks(orderedIDs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(p.Blocks))
	for i, b := range p.Blocks {
		ids[i] = b.ID
	}
	s.broadcast(ctx, p, realtime.KindBlocksReordered, map[string]any{"blockIds": ids})
	return p, nil
}

func (s *PortfolioService) MergeConfig(ctx context.Context, ownerID string, expectedVersion *int64, field string, patch map[string]any) (*domain.Portfolio, error) {
	p, err := s.mutate(ctx, ownerID, expectedVersion, func(p *domain.Portfolio) error {
		return p.MergeConfig(field, patch)
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, p, realtime.KindPortfolioUpdated, p)
	return p, nil
}

func (s *PortfolioService) Publish(ctx context.Context, ownerID string, expectedVersion *int64, opts domain.PublishOptions) (*domain.Portfolio, error) {
	p, err := s.mutate(ctx, ownerID, expectedVersion, func(p *domain.Portfolio) error {
		return p.Publish(opts)
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, p, realtime.KindPortfolioPublished, map[string]any{
		"status":      p.Status,
		"publishedAt": p.Publishing.PublishedAt,
	})
	return p, nil
}

func (s *PortfolioService) Unpublish(ctx context.Context, ownerID string, expectedVersion *int64) (*domain.Portfolio, error) {
	p, err := s.mutate(ctx, ownerID, expectedVersion, func(p *domain.Portfolio) error {
		return p.Unpublish()
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, p, realtime.KindPortfolioUnpublished, map[string]any{"status": p.Status})
	return p, nil
}

// Public 公开投影：仅发布态可见；受保护时校验明文密码，散列永不出门
func (s *PortfolioService) Public(ctx context.Context, ownerID, password string) (*domain.Portfolio, error) {
	p, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status != domain.StatusPublished {
		return nil, &domain.NotFoundError{Kind: "portfolio", ID: ownerID}
	}
	if p.Publishing.PasswordProtected {
		if password == "" {
			return nil, &domain.UnauthorizedError{Reason: "password required"}
		}
		if !utils.CheckPassword(password, p.Publishing.PasswordHash) {
			return nil, &domain.UnauthorizedError{Reason: "wrong password"}
		}
	}
	return p.PublicView(), nil
}

// RecordView / RecordShare 绕开版本控制的原子计数
func (s *PortfolioService) RecordView(ctx context.Context, portfolioID string, unique bool) error {
	return s.store.IncrementView(ctx, portfolioID, unique)
}

func (s *PortfolioService) RecordShare(ctx context.Context, portfolioID string) error {
	return s.store.IncrementShare(ctx, portfolioID)
}

// PurgeOwner 账号删除级联：硬删该用户的文档
func (s *PortfolioService) PurgeOwner(ctx context.Context, ownerID string) error {
	return s.store.DeleteByOwner(ctx, ownerID)
}

func (s *PortfolioService) broadcast(ctx context.Context, p *domain.Portfolio, kind realtime.Kind, payload any) {
	ev := realtime.Event{
		PortfolioID: p.ID,
		Kind:        kind,
		Payload:     payload,
		Version:     p.Version,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.bc.Publish(ctx, ev); err != nil {
		s.log.Warn("broadcast failed",
			zap.String("portfolio_id", p.ID),
			zap.String("kind", string(kind)),
			zap.Int64("version", p.Version),
			zap.Error(err))
	}
}
