package domain

import (
	"time"

	"devfolio/pkg/utils"
)

// MinPublishPasswordLen 受保护发布的密码最短长度
const MinPublishPasswordLen = 6

type BlockInput struct {
	Type    BlockType      `json:"type"`
	Content map[string]any `json:"content"`
	Visible *bool          `json:"visible,omitempty"`
}

type BlockPatch struct {
	Content map[string]any `json:"content,omitempty"`
	Visible *bool          `json:"visible,omitempty"`
}

type PublishOptions struct {
	CustomDomain      string `json:"customDomain,omitempty"`
	IsIndexable       bool   `json:"isIndexable"`
	PasswordProtected bool   `json:"passwordProtected"`
	Password          string `json:"password,omitempty"`
}

// NewPortfolio 惰性创建的默认文档，version 从 1 起
func NewPortfolio(ownerID string) *Portfolio {
	now := time.Now().UTC()
	return &Portfolio{
		ID:        utils.NewID(),
		OwnerID:   ownerID,
		Blocks:    []Block{},
		Layout:    DefaultLayout(),
		Theme:     DefaultTheme(),
		SEO:       map[string]any{},
		Status:    StatusDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CloneFor 以新 owner 重建文档：新 ID、version 重置为 1、发布态与统计清零
func (p *Portfolio) CloneFor(ownerID string) *Portfolio {
	out := p.Clone()
	out.ID = utils.NewID()
	out.OwnerID = ownerID
	out.Status = StatusDraft
	out.Version = 1
	out.Publishing = Publishing{}
	out.Stats = Stats{}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now
	return out
}

func (p *Portfolio) bump() {
	p.Version++
	p.UpdatedAt = time.Now().UTC()
}

func (p *Portfolio) findBlock(id string) int {
	for i := range p.Blocks {
		if p.Blocks[i].ID == id {
			return i
		}
	}
	return -1
}

// AddBlock 校验通过后插入；position 越界按追加处理，插入后统一重排 order
func (p *Portfolio) AddBlock(in BlockInput, position *int) (*Block, error) {
	if !ValidBlockType(in.Type) {
		return nil, Invalid("type", "unknown block type "+string(in.Type))
	}
	if err := ValidateContent(in.Type, in.Content); err != nil {
		return nil, err
	}
	visible := true
	if in.Visible != nil {
		visible = *in.Visible
	}
	b := Block{
		ID:      utils.NewID(),
		Type:    in.Type,
		Content: cloneMap(in.Content),
		Visible: visible,
	}
	if position != nil && *position >= 0 && *position < len(p.Blocks) {
		idx := *position
		p.Blocks = append(p.Blocks, Block{})
		copy(p.Blocks[idx+1:], p.Blocks[idx:])
		p.Blocks[idx] = b
	} else {
		p.Blocks = append(p.Blocks, b)
	}
	p.renumber()
	p.bump()
	for i := range p.Blocks {
		if p.Blocks[i].ID == b.ID {
			return &p.Blocks[i], nil
		}
	}
	return nil, Invalid("block", "insert failed") // unreachable
}

// UpdateBlock 浅合并 content 键并可切换可见性；合并结果仍需过类型校验
func (p *Portfolio) UpdateBlock(id string, patch BlockPatch) (*Block, error) {
	i := p.findBlock(id)
	if i < 0 {
		return nil, &NotFoundError{Kind: "block", ID: id}
	}
	b := &p.Blocks[i]
	if patch.Content != nil {
		merged := cloneMap(b.Content)
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range patch.Content {
			merged[k] = v
		}
		if err := ValidateContent(b.Type, merged); err != nil {
			return nil, err
		}
		b.Content = merged
	}
	if patch.Visible != nil {
		b.Visible = *patch.Visible
	}
	p.bump()
	return b, nil
}

// DeleteBlock 严格语义：重复删除同一 id 返回 NotFound，便于调用方发现自己已过期
func (p *Portfolio) DeleteBlock(id string) error {
	i := p.findBlock(id)
	if i < 0 {
		return &NotFoundError{Kind: "block", ID: id}
	}
	p.Blocks = append(p.Blocks[:i], p.Blocks[i+1:]...)
	p.bump()
	return nil
}

// ReorderBlocks 按给定 id 序列重排；未提及的块保持相对顺序追加在末尾，绝不丢块
func (p *Portfolio) ReorderBlocks(orderedIDs []string) {
	rank := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		if _, dup := rank[id]; !dup {
			rank[id] = i
		}
	}
	listed := make([]Block, 0, len(p.Blocks))
	rest := make([]Block, 0)
	for _, b := range p.Blocks {
		if _, ok := rank[b.ID]; ok {
			listed = append(listed, b)
		} else {
			rest = append(rest, b)
		}
	}
	sortStableByRank(listed, rank)
	p.Blocks = append(listed, rest...)
	p.renumber()
	p.bump()
}

func sortStableByRank(blocks []Block, rank map[string]int) {
	// 插入排序足够：块数量小且序列近乎有序
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && rank[blocks[j].ID] < rank[blocks[j-1].ID]; j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}

func (p *Portfolio) renumber() {
	for i := range p.Blocks {
		p.Blocks[i].Order = i
	}
}

// MergeConfig 浅合并 layout/theme/seo，未提及的键一律保留
func (p *Portfolio) MergeConfig(field string, patch map[string]any) error {
	var target *map[string]any
	switch field {
	case "layout":
		target = &p.Layout
	case "theme":
		target = &p.Theme
	case "seo":
		target = &p.SEO
	default:
		return Invalid("field", "unknown config field "+field)
	}
	if *target == nil {
		*target = map[string]any{}
	}
	for k, v := range patch {
		(*target)[k] = v
	}
	p.bump()
	return nil
}

// Publish 设置发布态并打时间戳；受保护发布要求密码达到最短长度，散列后存储
func (p *Portfolio) Publish(opts PublishOptions) error {
	hash := ""
	if opts.PasswordProtected {
		if len(opts.Password) < MinPublishPasswordLen {
			return Invalid("password", "must be at least 6 characters")
		}
		hash = utils.HashPassword(opts.Password)
	}
	now := time.Now().UTC()
	p.Status = StatusPublished
	p.Publishing = Publishing{
		PublishedAt:       &now,
		CustomDomain:      opts.CustomDomain,
		IsIndexable:       opts.IsIndexable,
		PasswordProtected: opts.PasswordProtected,
		PasswordHash:      hash,
	}
	p.bump()
	return nil
}

// Unpublish 回到草稿并原子清空全部发布字段；未发布时拒绝
func (p *Portfolio) Unpublish() error {
	if p.Status != StatusPublished {
		return Invalid("status", "portfolio is not published")
	}
	p.Status = StatusDraft
	p.Publishing = Publishing{}
	p.bump()
	return nil
}
