package domain

import (
	"context"
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Publishing 发布相关字段；unpublish 时整体清空
type Publishing struct {
	PublishedAt       *time.Time `json:"publishedAt,omitempty"`
	CustomDomain      string     `json:"customDomain,omitempty"`
	IsIndexable       bool       `json:"isIndexable"`
	PasswordProtected bool       `json:"passwordProtected"`
	PasswordHash      string     `json:"-"`
}

// Stats 只增计数器；不参与版本控制，绕过整文档覆盖单独累加
type Stats struct {
	Views       int64      `json:"views"`
	UniqueViews int64      `json:"uniqueViews"`
	LastViewed  *time.Time `json:"lastViewed,omitempty"`
	Shares      int64      `json:"shares"`
}

// Portfolio 每用户一份的版本化文档；version 是乐观并发令牌，
// 所有结构性变更（块增删改排、配置合并、发布状态）都让它 +1
type Portfolio struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"ownerId"`
	Blocks     []Block        `json:"blocks"`
	Layout     map[string]any `json:"layout"`
	Theme      map[string]any `json:"theme"`
	SEO        map[string]any `json:"seo"`
	Status     Status         `json:"status"`
	Version    int64          `json:"version"`
	Publishing Publishing     `json:"publishing"`
	Stats      Stats          `json:"stats"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func DefaultLayout() map[string]any {
	return map[string]any{"template": "classic", "maxWidth": "960px", "spacing": "normal"}
}

func DefaultTheme() map[string]any {
	return map[string]any{"mode": "light", "accent": "#2563eb", "font": "inter"}
}

// Clone 深拷贝；store 的读路径必须返回副本，避免并发修改共享切片/映射
func (p *Portfolio) Clone() *Portfolio {
	out := *p
	out.Blocks = make([]Block, len(p.Blocks))
	for i := range p.Blocks {
		out.Blocks[i] = p.Blocks[i].clone()
	}
	out.Layout = cloneMap(p.Layout)
	out.Theme = cloneMap(p.Theme)
	out.SEO = cloneMap(p.SEO)
	if p.Publishing.PublishedAt != nil {
		t := *p.Publishing.PublishedAt
		out.Publishing.PublishedAt = &t
	}
	if p.Stats.LastViewed != nil {
		t := *p.Stats.LastViewed
		out.Stats.LastViewed = &t
	}
	return &out
}

// PublicView 公开投影：去掉密码散列、过滤隐藏块、不暴露 ownerId 之外的内部信息
func (p *Portfolio) PublicView() *Portfolio {
	out := p.Clone()
	out.Publishing.PasswordHash = ""
	visible := out.Blocks[:0]
	for _, b := range out.Blocks {
		if b.Visible {
			visible = append(visible, b)
		}
	}
	out.Blocks = visible
	return out
}

// PortfolioStore 持久化边界。GetByOwner 未命中返回 (nil, nil)；
// SaveCAS 仅当存储中的 version 仍等于 expectedVersion 时提交，否则 ErrStaleWrite。
// 计数器增量独立于 CAS，可与结构性写并发。
type PortfolioStore interface {
	GetByOwner(ctx context.Context, ownerID string) (*Portfolio, error)
	Create(ctx context.Context, p *Portfolio) error
	SaveCAS(ctx context.Context, p *Portfolio, expectedVersion int64) error
	IncrementView(ctx context.Context, id string, unique bool) error
	IncrementShare(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, ownerID string) error
}
