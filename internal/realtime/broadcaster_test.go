package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChannelRoundTrip(t *testing.T) {
	assert.Equal(t, "portfolio:abc", Channel("abc"))
	assert.Equal(t, "abc", PortfolioIDFromChannel("portfolio:abc"))
	assert.Equal(t, "", PortfolioIDFromChannel("orders:abc"))
}

func newTestClient(portfolioID string, buf int) *Client {
	return &Client{
		id:          "test-" + portfolioID,
		portfolioID: portfolioID,
		send:        make(chan []byte, buf),
		log:         zap.NewNop(),
	}
}

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	h := NewHub(zap.NewNop(), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHubFanoutPerPortfolio(t *testing.T) {
	h := startHub(t, HubConfig{})

	a1 := newTestClient("doc-a", 8)
	a2 := newTestClient("doc-a", 8)
	b := newTestClient("doc-b", 8)
	h.register <- a1
	h.register <- a2
	h.register <- b

	require.Eventually(t, func() bool {
		return h.SessionCount("doc-a") == 2 && h.SessionCount("doc-b") == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.Send("doc-a", []byte(`{"kind":"block-added"}`))

	assert.JSONEq(t, `{"kind":"block-added"}`, string(recv(t, a1)))
	assert.JSONEq(t, `{"kind":"block-added"}`, string(recv(t, a2)))
	select {
	case payload := <-b.send:
		t.Fatalf("doc-b must not see doc-a events, got %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubSessionLimit(t *testing.T) {
	h := startHub(t, HubConfig{MaxPerPortfolio: 1})

	first := newTestClient("doc", 1)
	second := newTestClient("doc", 1)
	h.register <- first
	h.register <- second

	require.Eventually(t, func() bool {
		return h.SessionCount("doc") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 超限会话直接被关闭
	select {
	case _, ok := <-second.send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("rejected session was not closed")
	}
}

func TestHubDropsSlowConsumer(t *testing.T) {
	h := startHub(t, HubConfig{})

	slow := newTestClient("doc", 1)
	h.register <- slow
	require.Eventually(t, func() bool {
		return h.SessionCount("doc") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 第一条填满队列，第二条投不进去触发断开
	h.Send("doc", []byte(`1`))
	h.Send("doc", []byte(`2`))

	require.Eventually(t, func() bool {
		return h.SessionCount("doc") == 0
	}, 2*time.Second, 10*time.Millisecond, "slow consumer must not survive")
}

func TestHubBroadcasterDeliversLocally(t *testing.T) {
	h := startHub(t, HubConfig{})
	c := newTestClient("doc-1", 8)
	h.register <- c
	require.Eventually(t, func() bool {
		return h.SessionCount("doc-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	bc := NewHubBroadcaster(h)
	ev := Event{
		PortfolioID: "doc-1",
		Kind:        KindBlockAdded,
		Payload:     map[string]any{"blockId": "b1"},
		Version:     7,
		Timestamp:   time.Now().UTC(),
	}
	require.NoError(t, bc.Publish(context.Background(), ev))

	var got Event
	require.NoError(t, json.Unmarshal(recv(t, c), &got))
	assert.Equal(t, KindBlockAdded, got.Kind)
	assert.Equal(t, int64(7), got.Version)
	assert.Equal(t, "doc-1", got.PortfolioID)
}

func TestRedisBroadcasterThroughRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := startHub(t, HubConfig{})
	c := newTestClient("doc-9", 8)
	h.register <- c

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go NewRelay(rdb, h, zap.NewNop()).Run(ctx)

	// 等 Relay 的模式订阅就位
	require.Eventually(t, func() bool {
		return mr.Publish(Channel("warmup"), "x") > 0
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.SessionCount("doc-9") == 1
	}, 2*time.Second, 10*time.Millisecond)

	bc := NewRedisBroadcaster(rdb)
	ev := Event{
		PortfolioID: "doc-9",
		Kind:        KindPortfolioPublished,
		Payload:     map[string]any{"status": "published"},
		Version:     3,
		Timestamp:   time.Now().UTC(),
	}
	require.NoError(t, bc.Publish(ctx, ev))

	var got Event
	require.NoError(t, json.Unmarshal(recv(t, c), &got))
	assert.Equal(t, KindPortfolioPublished, got.Kind)
	assert.Equal(t, "doc-9", got.PortfolioID)
	assert.Equal(t, int64(3), got.Version)
}
