package portfolio

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"devfolio/internal/domain"
)

// JSONMap / BlockList 以 JSON 列落库，mysql/postgres 通吃
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

func (m *JSONMap) Scan(v any) error {
	b, err := rawBytes(v)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(b, (*map[string]any)(m))
}

type BlockList []domain.Block

func (l BlockList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]domain.Block(l))
}

func (l *BlockList) Scan(v any) error {
	b, err := rawBytes(v)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*l = BlockList{}
		return nil
	}
	return json.Unmarshal(b, (*[]domain.Block)(l))
}

func rawBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, errors.New("unsupported json column source")
	}
}

// PortfolioModel 一行一份文档：blocks/配置走 JSON 列，
// version 与计数器保持普通列，CAS 和原子自增都是单条 SQL
type PortfolioModel struct {
	ID      string `gorm:"primaryKey;type:varchar(32)"`
	OwnerID string `gorm:"uniqueIndex;type:varchar(32);not null"`

	Blocks BlockList `gorm:"type:json"`
	Layout JSONMap   `gorm:"type:json"`
	Theme  JSONMap   `gorm:"type:json"`
	SEO    JSONMap   `gorm:"type:json;column:seo"`

	Status  string `gorm:"size:16;not null;default:draft;index"`
	Version int64  `gorm:"not null;default:1"`

	PublishedAt       *time.Time
	CustomDomain      string `gorm:"size:255"`
	IsIndexable       bool
	PasswordProtected bool
	PasswordHash      string `gorm:"size:100"`

	Views       int64 `gorm:"not null;default:0"`
	UniqueViews int64 `gorm:"not null;default:0"`
	Shares      int64 `gorm:"not null;default:0"`
	LastViewed  *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time
}

func (PortfolioModel) TableName() string { return "portfolios" }

func FromDomain(p *domain.Portfolio) *PortfolioModel {
	return &PortfolioModel{
		ID:                p.ID,
		OwnerID:           p.OwnerID,
		Blocks:            BlockList(p.Blocks),
		Layout:            JSONMap(p.Layout),
		Theme:             JSONMap(p.Theme),
		SEO:               JSONMap(p.SEO),
		Status:            string(p.Status),
		Version:           p.Version,
		PublishedAt:       p.Publishing.PublishedAt,
		CustomDomain:      p.Publishing.CustomDomain,
		IsIndexable:       p.Publishing.IsIndexable,
		PasswordProtected: p.Publishing.PasswordProtected,
		PasswordHash:      p.Publishing.PasswordHash,
		Views:             p.Stats.Views,
		UniqueViews:       p.Stats.UniqueViews,
		Shares:            p.Stats.Shares,
		LastViewed:        p.Stats.LastViewed,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (m *PortfolioModel) ToDomain() *domain.Portfolio {
	return &domain.Portfolio{
		ID:      m.ID,
		OwnerID: m.OwnerID,
		Blocks:  []domain.Block(m.Blocks),
		Layout:  map[string]any(m.Layout),
		Theme:   map[string]any(m.Theme),
		SEO:     map[string]any(m.SEO),
		Status:  domain.Status(m.Status),
		Version: m.Version,
		Publishing: domain.Publishing{
			PublishedAt:       m.PublishedAt,
			CustomDomain:      m.CustomDomain,
			IsIndexable:       m.IsIndexable,
			PasswordProtected: m.PasswordProtected,
			PasswordHash:      m.PasswordHash,
		},
		Stats: domain.Stats{
			Views:       m.Views,
			UniqueViews: m.UniqueViews,
			Shares:      m.Shares,
			LastViewed:  m.LastViewed,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
