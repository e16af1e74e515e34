package events

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultChannelPrefix = "hints"
	publishQueue         = 256
)

// RedisPublisher mirrors events onto Redis pub/sub. Emit only enqueues;
// Run does the publishing.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	log    *logrus.Logger
	queue  chan Event

	dropped atomic.Uint64
}

func NewRedisPublisher(rdb *redis.Client, prefix string, l *logrus.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if l == nil {
		l = logrus.New()
	}
	return &RedisPublisher{
		rdb:    rdb,
		prefix: prefix,
		log:    l,
		queue:  make(chan Event, publishQueue),
	}
}

// Channel is the pub/sub channel an event for sessionID is published on.
func (p *RedisPublisher) Channel(sessionID string) string {
	if sessionID == "" {
		return p.prefix + ":events"
	}
	return p.prefix + ":" + sessionID + ":events"
}

func (p *RedisPublisher) Emit(ev Event) {
	select {
	case p.queue <- ev:
	default:
		if p.dropped.Add(1) == 1 {
			p.log.Warn("event publish queue full, dropping events")
		}
	}
}

func (p *RedisPublisher) Dropped() uint64 { return p.dropped.Load() }

// Run publishes queued events until ctx is done.
func (p *RedisPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.publish(ctx, ev)
		}
	}
}

func (p *RedisPublisher) publish(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.WithError(err).Warn("event marshal failed")
		return
	}
	if err := p.rdb.Publish(ctx, p.Channel(ev.SessionID), b).Err(); err != nil && ctx.Err() == nil {
		p.log.WithFields(logrus.Fields{
			"type":       ev.Type,
			"session_id": ev.SessionID,
		}).WithError(err).Warn("event publish failed")
	}
}
