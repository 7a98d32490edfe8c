package realtime

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "realtime_connections",
	Help: "Open realtime stream connections",
})

func init() { prometheus.MustRegister(wsConnections) }

type hubMessage struct {
	portfolioID string
	payload     []byte
}

// Hub 按 portfolio id 维护会话集合并做扇出。
// register/unregister/broadcast 都走 Run 协程，锁只保护 Send 快照读。
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan hubMessage

	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{} // portfolioID -> clients

	maxPerPortfolio int
	log             *zap.Logger
}

type HubConfig struct {
	MaxPerPortfolio int // 单文档最大并发会话数
	BroadcastBuffer int
}

func NewHub(log *zap.Logger, cfg HubConfig) *Hub {
	if cfg.MaxPerPortfolio <= 0 {
		cfg.MaxPerPortfolio = 16
	}
	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = 256
	}
	return &Hub{
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan hubMessage, cfg.BroadcastBuffer),
		sessions:        map[string]map[*Client]struct{}{},
		maxPerPortfolio: cfg.MaxPerPortfolio,
		log:             log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case m := <-h.broadcast:
			h.fanout(m)
		}
	}
}

// Send 把一条已序列化的事件投递给该文档的全部会话；
// Run 未启动时不阻塞调用方（缓冲满则丢弃并计日志）
func (h *Hub) Send(portfolioID string, payload []byte) {
	select {
	case h.broadcast <- hubMessage{portfolioID: portfolioID, payload: payload}:
	default:
		h.log.Warn("hub broadcast buffer full, dropping event",
			zap.String("portfolio_id", portfolioID))
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[c.portfolioID]
	if !ok {
		set = map[*Client]struct{}{}
		h.sessions[c.portfolioID] = set
	}
	if len(set) >= h.maxPerPortfolio {
		h.log.Warn("session limit reached, rejecting stream",
			zap.String("portfolio_id", c.portfolioID))
		c.closeSend()
		return
	}
	set[c] = struct{}{}
	wsConnections.Inc()
	h.log.Info("stream session opened",
		zap.String("portfolio_id", c.portfolioID),
		zap.String("session_id", c.id),
		zap.Int("sessions", len(set)))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[c.portfolioID]
	if !ok {
		return
	}
	if _, present := set[c]; !present {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.sessions, c.portfolioID)
	}
	c.closeSend()
	wsConnections.Dec()
	h.log.Info("stream session closed",
		zap.String("portfolio_id", c.portfolioID),
		zap.String("session_id", c.id))
}

func (h *Hub) fanout(m hubMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions[m.portfolioID]))
	for c := range h.sessions[m.portfolioID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		// 慢消费者不许拖住扇出：队列满直接断开，客户端重连后按 version 补齐
		if !c.trySend(m.payload) {
			h.log.Warn("slow stream consumer, disconnecting",
				zap.String("portfolio_id", c.portfolioID),
				zap.String("session_id", c.id))
			h.remove(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.sessions {
		for c := range set {
			c.closeSend()
			wsConnections.Dec()
		}
	}
	h.sessions = map[string]map[*Client]struct{}{}
}

// SessionCount 测试与诊断用
func (h *Hub) SessionCount(portfolioID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[portfolioID])
}
