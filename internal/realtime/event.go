package realtime

import (
	"strings"
	"time"
)

type Kind string

const (
	KindPortfolioUpdated     Kind = "portfolio-updated"
	KindBlockAdded           Kind = "block-added"
	KindBlockUpdated         Kind = "block-updated"
	KindBlockDeleted         Kind = "block-deleted"
	KindBlocksReordered      Kind = "blocks-reordered"
	KindPortfolioPublished   Kind = "portfolio-published"
	KindPortfolioUnpublished Kind = "portfolio-unpublished"
)

// Event 每次成功提交后广播一条；version 是提交后的版本，
// 订阅方据此发现漏收并回源全量拉取
type Event struct {
	PortfolioID string    `json:"portfolioId"`
	Kind        Kind      `json:"kind"`
	Payload     any       `json:"payload,omitempty"`
	Version     int64     `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
}

const channelPrefix = "portfolio:"

// Channel 每个 portfolio 一个逻辑频道
func Channel(portfolioID string) string { return channelPrefix + portfolioID }

// PortfolioIDFromChannel 从频道名还原 portfolio id；非本前缀返回空串
func PortfolioIDFromChannel(channel string) string {
	if !strings.HasPrefix(channel, channelPrefix) {
		return ""
	}
	return strings.TrimPrefix(channel, channelPrefix)
}

// ChannelPattern Relay 订阅用的通配模式
const ChannelPattern = channelPrefix + "*"
