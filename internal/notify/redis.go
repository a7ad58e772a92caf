package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

const (
	streamPrefix = "payverify:events:"
	groupPrefix  = "payverify-"
	consumerName = "main"
	streamMaxLen = 10000
	readBlock    = 2 * time.Second
	readCount    = 50
)

// Stream is the Redis stream key carrying events for audience.
func Stream(a payment.Audience) string {
	return streamPrefix + string(a)
}

// RedisBus carries events between the submitter and moderator bot processes.
// Events go through a stream read by one consumer group per audience, so an
// event published while the receiving process is down is delivered once it
// is back.
type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBus(rdb *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		rdb:    rdb,
		logger: logger,
	}
}

// ConnectRedis parses a redis:// URL and checks the connection.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("notify.ConnectRedis: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("notify.ConnectRedis: %w", err)
	}

	return rdb, nil
}

func (b *RedisBus) Notify(ctx context.Context, ev payment.Event) error {
	audience := ev.Audience()
	if audience == payment.AudienceNone {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("RedisBus.Notify: %w", err)
	}

	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: Stream(audience),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"event": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("RedisBus.Notify: %w", err)
	}

	return nil
}

// Subscribe delivers events of audience to next until ctx is cancelled.
// Entries left unacknowledged by a previous run are delivered first.
// Undecodable payloads and delivery failures are logged and acknowledged.
func (b *RedisBus) Subscribe(ctx context.Context, audience payment.Audience, next payment.Notifier) error {
	stream := Stream(audience)
	group := groupPrefix + string(audience)

	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("RedisBus.Subscribe: %w", err)
	}

	start := "0"

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumerName,
			Streams:  []string{stream, start},
			Count:    readCount,
			Block:    readBlock,
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("RedisBus.Subscribe: %w", err)
		}

		delivered := 0
		for _, s := range streams {
			for _, msg := range s.Messages {
				b.deliver(ctx, msg, next)
				if err := b.rdb.XAck(ctx, stream, group, msg.ID).Err(); err != nil {
					b.logger.Warn("cannot ack event", zap.String("id", msg.ID), zap.Error(err))
				}
				delivered++
			}
		}

		// Pending entries are drained, switch to new ones.
		if start == "0" && delivered == 0 {
			start = ">"
		}
	}
}

func (b *RedisBus) deliver(ctx context.Context, msg redis.XMessage, next payment.Notifier) {
	raw, _ := msg.Values["event"].(string)

	var ev payment.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		b.logger.Warn("cannot decode event", zap.String("id", msg.ID), zap.Error(err))
		return
	}

	if err := next.Notify(ctx, ev); err != nil {
		b.logger.Warn("cannot deliver event",
			zap.String("request_id", ev.Request.ID),
			zap.String("event", string(ev.Kind)),
			zap.Error(err),
		)
	}
}
