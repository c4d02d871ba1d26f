package events

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

const DefaultChannel = "idcore:events"

// RedisPublisher hace PUBLISH del evento en JSON sobre un canal.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Channel() string { return p.channel }

func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	b, err := marshal(e)
	if err != nil {
		logger.From(ctx).Error("event marshal failed", logger.Event(string(e.Type)), logger.Err(err))
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		logger.From(ctx).Warn("event publish failed",
			logger.Event(string(e.Type)), logger.String("channel", p.channel), logger.Err(err))
	}
}
