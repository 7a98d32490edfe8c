package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Broadcaster 提交路径只调用它，不等待订阅方；失败由调用方记日志，不重试不回滚
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
}

// RedisBroadcaster 发到 portfolio:<id> 频道，跨进程扇出靠各进程的 Relay
type RedisBroadcaster struct {
	rdb *redis.Client
}

func NewRedisBroadcaster(rdb *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel(ev.PortfolioID), payload).Err()
}

// HubBroadcaster 单进程直连 Hub，本地开发免 Redis
type HubBroadcaster struct {
	hub *Hub
}

func NewHubBroadcaster(hub *Hub) *HubBroadcaster { return &HubBroadcaster{hub: hub} }

func (b *HubBroadcaster) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.hub.Send(ev.PortfolioID, payload)
	return nil
}

// Relay 把 Redis 频道桥接进本进程 Hub；断线重订阅，退出由 ctx 控制
type Relay struct {
	rdb *redis.Client
	hub *Hub
	log *zap.Logger
}

func NewRelay(rdb *redis.Client, hub *Hub, log *zap.Logger) *Relay {
	return &Relay{rdb: rdb, hub: hub, log: log}
}

func (r *Relay) Run(ctx context.Context) {
	for {
		if err := r.consume(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("relay subscribe lost, retrying", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *Relay) consume(ctx context.Context) error {
	pubsub := r.rdb.PSubscribe(ctx, ChannelPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			pid := PortfolioIDFromChannel(msg.Channel)
			if pid == "" {
				continue
			}
			r.hub.Send(pid, []byte(msg.Payload))
		}
	}
}
