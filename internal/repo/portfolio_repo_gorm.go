package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"devfolio/internal/domain"
	"devfolio/internal/feature/portfolio"
)

type PortfolioRepo struct{ db *gorm.DB }

func NewPortfolioRepo(db *gorm.DB) *PortfolioRepo { return &PortfolioRepo{db: db} }

func (r *PortfolioRepo) GetByOwner(ctx context.Context, ownerID string) (*domain.Portfolio, error) {
	var m portfolio.PortfolioModel
	err := r.db.WithContext(ctx).First(&m, "owner_id = ?", ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "get", Err: err}
	}
	return m.ToDomain(), nil
}

func (r *PortfolioRepo) Create(ctx context.Context, p *domain.Portfolio) error {
	if err := r.db.WithContext(ctx).Create(portfolio.FromDomain(p)).Error; err != nil {
		return &domain.StoreError{Op: "create", Err: err}
	}
	return nil
}

// SaveCAS 单条带版本条件的 UPDATE：RowsAffected==0 即有人抢先提交。
// 计数器列刻意不在更新集合里，与 IncrementView/IncrementShare 并发互不干扰。
func (r *PortfolioRepo) SaveCAS(ctx context.Context, p *domain.Portfolio, expectedVersion int64) error {
	m := portfolio.FromDomain(p)
	res := r.db.WithContext(ctx).
		Model(&portfolio.PortfolioModel{}).
		Where("id = ? AND version = ?", m.ID, expectedVersion).
		Updates(map[string]any{
			"blocks":             m.Blocks,
			"layout":             m.Layout,
			"theme":              m.Theme,
			"seo":                m.SEO,
			"status":             m.Status,
			"version":            m.Version,
			"published_at":       m.PublishedAt,
			"custom_domain":      m.CustomDomain,
			"is_indexable":       m.IsIndexable,
			"password_protected": m.PasswordProtected,
			"password_hash":      m.PasswordHash,
			"updated_at":         m.UpdatedAt,
		})
	if res.Error != nil {
		return &domain.StoreError{Op: "save", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}

func (r *PortfolioRepo) IncrementView(ctx context.Context, id string, unique bool) error {
	cols := map[string]any{
		"views":       gorm.Expr("views + 1"),
		"last_viewed": time.Now().UTC(),
	}
	if unique {
		cols["unique_views"] = gorm.Expr("unique_views + 1")
	}
	res := r.db.WithContext(ctx).
		Model(&portfolio.PortfolioModel{}).
		Where("id = ?", id).
		UpdateColumns(cols)
	if res.Error != nil {
		return &domain.StoreError{Op: "increment_view", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Kind: "portfolio", ID: id}
	}
	return nil
}

func (r *PortfolioRepo) IncrementShare(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&portfolio.PortfolioModel{}).
		Where("id = ?", id).
		UpdateColumn("shares", gorm.Expr("shares + 1"))
	if res.Error != nil {
		return &domain.StoreError{Op: "increment_share", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Kind: "portfolio", ID: id}
	}
	return nil
}

func (r *PortfolioRepo) DeleteByOwner(ctx context.Context, ownerID string) error {
	res := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Delete(&portfolio.PortfolioModel{})
	if res.Error != nil {
		return &domain.StoreError{Op: "delete", Err: res.Error}
	}
	return nil
}
