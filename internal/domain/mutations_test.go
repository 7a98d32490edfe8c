package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bioInput() BlockInput {
	return BlockInput{Type: BlockBio, Content: map[string]any{"headline": "Gopher at large"}}
}

func projectsInput() BlockInput {
	return BlockInput{Type: BlockProjects, Content: map[string]any{"items": []any{map[string]any{"name": "devfolio"}}}}
}

func TestNewPortfolioDefaults(t *testing.T) {
	p := NewPortfolio("owner-1")

	assert.Equal(t, "owner-1", p.OwnerID)
	assert.Equal(t, StatusDraft, p.Status)
	assert.Equal(t, int64(1), p.Version)
	assert.Empty(t, p.Blocks)
	assert.NotEmpty(t, p.Layout)
	assert.NotEmpty(t, p.Theme)
}

func TestAddBlockValidatesTypeAndContent(t *testing.T) {
	p := NewPortfolio("o")

	_, err := p.AddBlock(BlockInput{Type: "banner", Content: map[string]any{}}, nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, int64(1), p.Version, "failed add must not advance version")

	_, err = p.AddBlock(BlockInput{Type: BlockBio, Content: map[string]any{"summary": "no headline"}}, nil)
	require.ErrorAs(t, err, &ve)

	b, err := p.AddBlock(bioInput(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.True(t, b.Visible)
	assert.Equal(t, int64(2), p.Version)
}

func TestAddBlockInsertPosition(t *testing.T) {
	p := NewPortfolio("o")
	first, _ := p.AddBlock(bioInput(), nil)
	second, _ := p.AddBlock(projectsInput(), nil)

	pos := 1
	mid, err := p.AddBlock(BlockInput{Type: BlockSkills, Content: map[string]any{"items": []any{"go"}}}, &pos)
	require.NoError(t, err)

	require.Len(t, p.Blocks, 3)
	assert.Equal(t, first.ID, p.Blocks[0].ID)
	assert.Equal(t, mid.ID, p.Blocks[1].ID)
	assert.Equal(t, second.ID, p.Blocks[2].ID)
	for i, b := range p.Blocks {
		assert.Equal(t, i, b.Order)
	}

	// 越界 position 按追加处理
	far := 99
	tail, err := p.AddBlock(bioInput(), &far)
	require.NoError(t, err)
	assert.Equal(t, tail.ID, p.Blocks[3].ID)
}

func TestUpdateBlockMergesContent(t *testing.T) {
	p := NewPortfolio("o")
	b, _ := p.AddBlock(bioInput(), nil)

	_, err := p.UpdateBlock("missing", BlockPatch{})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	updated, err := p.UpdateBlock(b.ID, BlockPatch{Content: map[string]any{"summary": "ten years of Go"}})
	require.NoError(t, err)
	assert.Equal(t, "Gopher at large", updated.Content["headline"], "unmentioned keys survive")
	assert.Equal(t, "ten years of Go", updated.Content["summary"])

	hidden := false
	updated, err = p.UpdateBlock(b.ID, BlockPatch{Visible: &hidden})
	require.NoError(t, err)
	assert.False(t, updated.Visible)

	// 合并后仍要过类型校验：headline 改成非字符串被拒
	_, err = p.UpdateBlock(b.ID, BlockPatch{Content: map[string]any{"headline": 42}})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestDeleteBlockStrict(t *testing.T) {
	p := NewPortfolio("o")
	keep, _ := p.AddBlock(bioInput(), nil)
	b, _ := p.AddBlock(projectsInput(), nil)
	v := p.Version

	require.NoError(t, p.DeleteBlock(b.ID))
	assert.Equal(t, v+1, p.Version)
	require.Len(t, p.Blocks, 1)
	assert.Equal(t, keep.ID, p.Blocks[0].ID)

	// 二次删除不是幂等：返回 NotFound 让过期客户端察觉自己落后
	err := p.DeleteBlock(b.ID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, v+1, p.Version)
}

func TestAddThenDeleteAdvancesVersionByTwo(t *testing.T) {
	p := NewPortfolio("o")
	p.AddBlock(bioInput(), nil)
	before := p.Version
	ids := blockIDs(p)

	b, err := p.AddBlock(projectsInput(), nil)
	require.NoError(t, err)
	require.NoError(t, p.DeleteBlock(b.ID))

	assert.Equal(t, before+2, p.Version, "history never rewinds")
	assert.Equal(t, ids, blockIDs(p))
}

func TestReorderBlocks(t *testing.T) {
	p := NewPortfolio("o")
	a, _ := p.AddBlock(bioInput(), nil)
	b, _ := p.AddBlock(projectsInput(), nil)
	c, _ := p.AddBlock(BlockInput{Type: BlockSkills, Content: map[string]any{"items": []any{}}}, nil)

	p.ReorderBlocks([]string{c.ID, a.ID, b.ID})
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, blockIDs(p))
	for i, blk := range p.Blocks {
		assert.Equal(t, i, blk.Order)
	}

	// 幂等：同一序列再来一遍结果不变
	v := p.Version
	p.ReorderBlocks([]string{c.ID, a.ID, b.ID})
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, blockIDs(p))
	assert.Equal(t, v+1, p.Version)

	// 漏掉的 id 不会被丢：保持相对顺序追加在末尾
	p.ReorderBlocks([]string{b.ID})
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, blockIDs(p))
}

func TestMergeConfigKeepsUnmentionedKeys(t *testing.T) {
	p := NewPortfolio("o")
	require.NoError(t, p.MergeConfig("theme", map[string]any{"mode": "dark"}))

	assert.Equal(t, "dark", p.Theme["mode"])
	assert.Equal(t, "#2563eb", p.Theme["accent"], "partial update must not drop keys")

	err := p.MergeConfig("stats", map[string]any{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestPublishPasswordRules(t *testing.T) {
	p := NewPortfolio("o")

	err := p.Publish(PublishOptions{PasswordProtected: true, Password: "abc"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, StatusDraft, p.Status)

	require.NoError(t, p.Publish(PublishOptions{PasswordProtected: true, Password: "abcdef"}))
	assert.Equal(t, StatusPublished, p.Status)
	require.NotNil(t, p.Publishing.PublishedAt)
	assert.NotEmpty(t, p.Publishing.PasswordHash)
	assert.NotEqual(t, "abcdef", p.Publishing.PasswordHash)
}

func TestUnpublishClearsPublishing(t *testing.T) {
	p := NewPortfolio("o")

	err := p.Unpublish()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve, "unpublish of a draft is a domain error")

	require.NoError(t, p.Publish(PublishOptions{CustomDomain: "me.example.com", IsIndexable: true}))
	require.NoError(t, p.Unpublish())
	assert.Equal(t, StatusDraft, p.Status)
	assert.Equal(t, Publishing{}, p.Publishing, "status and publishedAt clear atomically")
}

func TestPublicViewStripsSecretsAndHiddenBlocks(t *testing.T) {
	p := NewPortfolio("o")
	shown, _ := p.AddBlock(bioInput(), nil)
	hidden := false
	p.AddBlock(BlockInput{Type: BlockContact, Content: map[string]any{"email": "a@b.c"}, Visible: &hidden}, nil)
	require.NoError(t, p.Publish(PublishOptions{PasswordProtected: true, Password: "secret-1"}))

	view := p.PublicView()
	assert.Empty(t, view.Publishing.PasswordHash)
	require.Len(t, view.Blocks, 1)
	assert.Equal(t, shown.ID, view.Blocks[0].ID)
	// 原文档不受投影影响
	assert.Len(t, p.Blocks, 2)
	assert.NotEmpty(t, p.Publishing.PasswordHash)
}

func TestPortfolioJSONRoundTrip(t *testing.T) {
	p := NewPortfolio("o")
	p.AddBlock(bioInput(), nil)
	p.AddBlock(projectsInput(), nil)
	require.NoError(t, p.MergeConfig("seo", map[string]any{"title": "me"}))
	require.NoError(t, p.Publish(PublishOptions{IsIndexable: true}))

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var back Portfolio
	require.NoError(t, json.Unmarshal(raw, &back))

	// PasswordHash 不参与序列化，比对前抹平
	expect := p.Clone()
	expect.Publishing.PasswordHash = ""
	raw2, _ := json.Marshal(expect)
	raw3, _ := json.Marshal(&back)
	assert.JSONEq(t, string(raw2), string(raw3))
	assert.Equal(t, expect.Version, back.Version)
	assert.Equal(t, len(expect.Blocks), len(back.Blocks))
}

func TestCloneForResetsLifecycle(t *testing.T) {
	p := NewPortfolio("o")
	p.AddBlock(bioInput(), nil)
	require.NoError(t, p.Publish(PublishOptions{}))
	p.Stats.Views = 42

	c := p.CloneFor("other")
	assert.Equal(t, "other", c.OwnerID)
	assert.NotEqual(t, p.ID, c.ID)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, StatusDraft, c.Status)
	assert.Equal(t, Stats{}, c.Stats)
	assert.Len(t, c.Blocks, 1)
}

func blockIDs(p *Portfolio) []string {
	ids := make([]string, len(p.Blocks))
	for i, b := range p.Blocks {
		ids[i] = b.ID
	}
	return ids
}
