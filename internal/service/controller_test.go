package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devfolio/internal/domain"
	"devfolio/internal/realtime"
	"devfolio/internal/repo"
)

// recordingBroadcaster 收集发布的事件供断言
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *recordingBroadcaster) Publish(_ context.Context, ev realtime.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBroadcaster) all() []realtime.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]realtime.Event, len(b.events))
	copy(out, b.events)
	return out
}

// flakyStore 前 n 次 SaveCAS 假装撞上并发提交
type flakyStore struct {
	domain.PortfolioStore
	mu    sync.Mutex
	stale int
}

func (s *flakyStore) SaveCAS(ctx context.Context, p *domain.Portfolio, expected int64) error {
	s.mu.Lock()
	if s.stale > 0 {
		s.stale--
		s.mu.Unlock()
		return domain.ErrStaleWrite
	}
	s.mu.Unlock()
	return s.PortfolioStore.SaveCAS(ctx, p, expected)
}

func newTestService() (*PortfolioService, *recordingBroadcaster) {
	bc := &recordingBroadcaster{}
	return NewPortfolioService(repo.NewMemoryPortfolioStore(), bc, zap.NewNop()), bc
}

func TestGetLazilyCreates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", p.OwnerID)
	assert.Equal(t, int64(1), p.Version)

	again, err := svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID, "second read returns the same document")
}

func TestPinnedVersionExactlyOneWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Get(ctx, "o")
	require.NoError(t, err)
	v := p.Version

	// 两个客户端都基于同一快照提交
	_, _, err1 := svc.AddBlock(ctx, "o", &v, domain.BlockInput{
		Type: domain.BlockBio, Content: map[string]any{"headline": "first"},
	}, nil)
	_, _, err2 := svc.AddBlock(ctx, "o", &v, domain.BlockInput{
		Type: domain.BlockBio, Content: map[string]any{"headline": "second"},
	}, nil)

	require.NoError(t, err1)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err2, &conflict)
	assert.Equal(t, v, conflict.ExpectedVersion)
	assert.Equal(t, v+1, conflict.CurrentVersion)
	require.NotNil(t, conflict.Current, "conflict carries the authoritative document")
	assert.Len(t, conflict.Current.Blocks, 1)
	assert.Equal(t, "first", conflict.Current.Blocks[0].Content["headline"])
}

func TestBestEffortWritesAllLand(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// 不带版本号的写走重试回路，并发下都应最终落盘
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.AddBlock(ctx, "o", nil, domain.BlockInput{
				Type: domain.BlockProjects, Content: map[string]any{"items": []any{}},
			}, nil)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	// 内存库的 CAS 窗口极窄，理论上可能有写重试耗尽，但绝不会静默丢失
	assert.Greater(t, ok, 0)

	p, err := svc.Get(ctx, "o")
	require.NoError(t, err)
	assert.Len(t, p.Blocks, ok, "every accepted write is visible")
	assert.Equal(t, int64(1+ok), p.Version)
}

func TestStaleWriteRetriesThenSucceeds(t *testing.T) {
	store := &flakyStore{PortfolioStore: repo.NewMemoryPortfolioStore(), stale: 2}
	svc := NewPortfolioService(store, &recordingBroadcaster{}, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Get(ctx, "o")
	require.NoError(t, err)

	p, _, err := svc.AddBlock(ctx, "o", nil, domain.BlockInput{
		Type: domain.BlockBio, Content: map[string]any{"headline": "hi"},
	}, nil)
	require.NoError(t, err, "two stale rounds fit inside the retry budget")
	assert.Len(t, p.Blocks, 1)
}

func TestRetryBudgetExhaustedReportsConflict(t *testing.T) {
	store := &flakyStore{PortfolioStore: repo.NewMemoryPortfolioStore(), stale: 99}
	svc := NewPortfolioService(store, &recordingBroadcaster{}, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Get(ctx, "o")
	require.NoError(t, err)

	_, _, err = svc.AddBlock(ctx, "o", nil, domain.BlockInput{
		Type: domain.BlockBio, Content: map[string]any{"headline": "hi"},
	}, nil)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.Current)
}

func TestFailedMutationDoesNotBroadcast(t *testing.T) {
	svc, bc := newTestService()
	ctx := context.Background()

	_, _, err := svc.AddBlock(ctx, "o", nil, domain.BlockInput{Type: "nope"}, nil)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, bc.all(), "rejected writes emit no events")
}

func TestMutationsBroadcastAfterCommit(t *testing.T) {
	svc, bc := newTestService()
	ctx := context.Background()

	doc, b, err := svc.AddBlock(ctx, "o", nil, domain.BlockInput{
		Type: domain.BlockBio, Content: map[string]any{"headline": "hi"},
	}, nil)
	require.NoError(t, err)
	_, err = svc.DeleteBlock(ctx, "o", nil, b.ID)
	require.NoError(t, err)
	_, err = svc.Publish(ctx, "o", nil, domain.PublishOptions{})
	require.NoError(t, err)

	events := bc.all()
	require.Len(t, events, 3)
	assert.Equal(t, realtime.KindBlockAdded, events[0].Kind)
	assert.Equal(t, realtime.KindBlockDeleted, events[1].Kind)
	assert.Equal(t, realtime.KindPortfolioPublished, events[2].Kind)
	for _, ev := range events {
		assert.Equal(t, doc.ID, ev.PortfolioID)
		assert.False(t, ev.Timestamp.IsZero())
	}
	// 版本随事件单调上行
	assert.Equal(t, int64(2), events[0].Version)
	assert.Equal(t, int64(3), events[1].Version)
	assert.Equal(t, int64(4), events[2].Version)
}

func TestUpdateIsSingleVersionTransition(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Get(ctx, "o")
	require.NoError(t, err)
	v := p.Version

	p, err = svc.Update(ctx, "o", nil, UpdateInput{
		Blocks: []domain.BlockInput{
			{Type: domain.BlockBio, Content: map[string]any{"headline": "hi"}},
			{Type: domain.BlockSkills, Content: map[string]any{"items": []any{"go"}}},
		},
		Theme:  map[string]any{"mode": "dark"},
		Layout: map[string]any{"columns": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, v+1, p.Version, "blocks plus config count as one transition")
	assert.Len(t, p.Blocks, 2)
	assert.Equal(t, "dark", p.Theme["mode"])
	assert.Equal(t, "#2563eb", p.Theme["accent"])
}

func TestPublicRequiresPublishedAndPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Get(ctx, "o")
	require.NoError(t, err)

	_, err = svc.Public(ctx, "o", "")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf, "drafts are invisible to the public surface")

	_, err = svc.Publish(ctx, "o", nil, domain.PublishOptions{PasswordProtected: true, Password: "hunter22"})
	require.NoError(t, err)

	_, err = svc.Public(ctx, "o", "")
	var ua *domain.UnauthorizedError
	require.ErrorAs(t, err, &ua)

	_, err = svc.Public(ctx, "o", "wrong")
	require.ErrorAs(t, err, &ua)

	view, err := svc.Public(ctx, "o", "hunter22")
	require.NoError(t, err)
	assert.Empty(t, view.Publishing.PasswordHash)
	assert.Equal(t, p.ID, view.ID)
}

func TestCountersBypassVersioning(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Get(ctx, "o")
	require.NoError(t, err)

	require.NoError(t, svc.RecordView(ctx, p.ID, true))
	require.NoError(t, svc.RecordView(ctx, p.ID, false))
	require.NoError(t, svc.RecordShare(ctx, p.ID))

	after, err := svc.Get(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, p.Version, after.Version, "stat bumps never advance the version")
	assert.Equal(t, int64(2), after.Stats.Views)
	assert.Equal(t, int64(1), after.Stats.UniqueViews)
	assert.Equal(t, int64(1), after.Stats.Shares)

	// 带版本的内容写不会把计数器回卷
	v := after.Version
	_, _, err = svc.AddBlock(ctx, "o", &v, domain.BlockInput{
		Type: domain.BlockBio, Content: map[string]any{"headline": "hi"},
	}, nil)
	require.NoError(t, err)
	final, err := svc.Get(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, int64(2), final.Stats.Views)
}

func TestPurgeOwnerRemovesDocument(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Get(ctx, "o")
	require.NoError(t, err)
	require.NoError(t, svc.PurgeOwner(ctx, "o"))

	fresh, err := svc.Get(ctx, "o")
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, fresh.ID, "purge leaves no trace, next visit starts over")
	assert.Equal(t, int64(1), fresh.Version)
}
