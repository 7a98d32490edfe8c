package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devfolio/internal/domain"
)

func TestModelRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	p := &domain.Portfolio{
		ID:      "p1",
		OwnerID: "u1",
		Blocks: []domain.Block{
			{ID: "b1", Type: domain.BlockBio, Content: map[string]any{"headline": "hi"}, Order: 0, Visible: true},
		},
		Layout:  map[string]any{"columns": float64(2)},
		Theme:   map[string]any{"mode": "dark"},
		SEO:     map[string]any{"title": "me"},
		Status:  domain.StatusPublished,
		Version: 7,
		Publishing: domain.Publishing{
			PublishedAt:       &now,
			CustomDomain:      "me.example.com",
			IsIndexable:       true,
			PasswordProtected: true,
			PasswordHash:      "$2a$fakehash",
		},
		Stats:     domain.Stats{Views: 10, UniqueViews: 4, Shares: 2, LastViewed: &now},
		CreatedAt: now,
		UpdatedAt: now,
	}

	back := FromDomain(p).ToDomain()
	assert.Equal(t, p, back)
}

func TestJSONColumnScanValue(t *testing.T) {
	m := JSONMap{"a": float64(1)}
	v, err := m.Value()
	require.NoError(t, err)

	var scanned JSONMap
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, m, scanned)

	// mysql 驱动可能给 string，postgres 给 []byte
	var fromStr JSONMap
	require.NoError(t, fromStr.Scan(`{"b":2}`))
	assert.Equal(t, float64(2), fromStr["b"])

	// 空列按空容器处理
	var empty JSONMap
	require.NoError(t, empty.Scan(nil))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	var bad JSONMap
	assert.Error(t, bad.Scan(42))
}

func TestBlockListScanValue(t *testing.T) {
	var nilList BlockList
	v, err := nilList.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)

	l := BlockList{{ID: "b1", Type: domain.BlockSkills, Content: map[string]any{"items": []any{"go"}}, Visible: true}}
	v, err = l.Value()
	require.NoError(t, err)

	var scanned BlockList
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, l, scanned)

	var empty BlockList
	require.NoError(t, empty.Scan([]byte{}))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
