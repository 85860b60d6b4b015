package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amoylab/wuhost/internal/common/cnst"
	"github.com/amoylab/wuhost/internal/common/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// update is the pub/sub message published on every directory change
type update struct {
	Action cnst.ActionType `json:"action"`
	Meta   *Meta           `json:"meta"`
}

// RedisDirectory implements Directory using Redis. Each session is a key with
// a TTL, live ids are kept in a set, and changes are published on a topic.
type RedisDirectory struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	topic  string
	ttl    time.Duration
	pubsub *redis.PubSub
	done   chan struct{}
}

var _ Directory = (*RedisDirectory)(nil)

// NewRedisDirectory creates a new Redis-based session directory
func NewRedisDirectory(logger *zap.Logger, cfg config.SessionRedisConfig) (*RedisDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := "session:"
	if cfg.Prefix != "" {
		prefix = cfg.Prefix + ":session:"
	}
	d := &RedisDirectory{
		logger: logger.Named("session.directory.redis"),
		client: client,
		prefix: prefix,
		topic:  cfg.Topic,
		ttl:    cfg.TTL,
		done:   make(chan struct{}),
	}

	// Subscribe to directory updates from other hosts
	d.pubsub = client.Subscribe(context.Background(), cfg.Topic)
	go d.handleUpdates(d.pubsub.Channel())

	return d, nil
}

func (d *RedisDirectory) idsKey() string {
	return d.prefix + "ids"
}

func (d *RedisDirectory) key(id uint32) string {
	return d.prefix + strconv.FormatUint(uint64(id), 10)
}

// handleUpdates logs directory changes published by any host
func (d *RedisDirectory) handleUpdates(ch <-chan *redis.Message) {
	defer close(d.done)
	for msg := range ch {
		var u update
		if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil || u.Meta == nil {
			d.logger.Error("failed to unmarshal session update",
				zap.Error(err),
				zap.String("payload", msg.Payload))
			continue
		}
		d.logger.Debug("received session update",
			zap.String("action", string(u.Action)),
			zap.Uint32("id", u.Meta.ID),
			zap.String("host_id", u.Meta.HostID))
	}
}

// publishUpdate publishes a directory change to the topic
func (d *RedisDirectory) publishUpdate(ctx context.Context, action cnst.ActionType, meta *Meta) error {
	data, err := json.Marshal(update{Action: action, Meta: meta})
	if err != nil {
		return fmt.Errorf("failed to marshal session update: %w", err)
	}
	return d.client.Publish(ctx, d.topic, data).Err()
}

// Register implements Directory.Register
func (d *RedisDirectory) Register(ctx context.Context, meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	pipe := d.client.TxPipeline()
	pipe.Set(ctx, d.key(meta.ID), data, d.ttl)
	pipe.SAdd(ctx, d.idsKey(), meta.ID)
	if d.ttl > 0 {
		pipe.Expire(ctx, d.idsKey(), d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session metadata in Redis: %w", err)
	}

	if err := d.publishUpdate(ctx, cnst.ActionCreate, meta); err != nil {
		return fmt.Errorf("failed to publish session creation: %w", err)
	}
	return nil
}

// Unregister implements Directory.Unregister
func (d *RedisDirectory) Unregister(ctx context.Context, id uint32) error {
	removed, err := d.client.SRem(ctx, d.idsKey(), id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove session ID from set: %w", err)
	}
	if err := d.client.Del(ctx, d.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session metadata from Redis: %w", err)
	}
	if removed == 0 {
		return cnst.ErrSessionNotFound
	}
	return d.publishUpdate(ctx, cnst.ActionDelete, &Meta{ID: id})
}

// Get implements Directory.Get
func (d *RedisDirectory) Get(ctx context.Context, id uint32) (*Meta, error) {
	data, err := d.client.Get(ctx, d.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cnst.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session metadata from Redis: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
	}
	return &meta, nil
}

// List implements Directory.List. Ids whose record has expired are pruned from the set.
func (d *RedisDirectory) List(ctx context.Context) ([]*Meta, error) {
	ids, err := d.client.SMembers(ctx, d.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session IDs: %w", err)
	}

	metas := make([]*Meta, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			d.logger.Warn("dropping malformed session id", zap.String("id", raw))
			d.client.SRem(ctx, d.idsKey(), raw)
			continue
		}
		meta, err := d.Get(ctx, uint32(id))
		if errors.Is(err, cnst.ErrSessionNotFound) {
			d.client.SRem(ctx, d.idsKey(), raw)
			continue
		}
		if err != nil {
			d.logger.Error("failed to get session metadata",
				zap.String("id", raw),
				zap.Error(err))
			continue
		}
		metas = append(metas, meta)
	}

	sortMetas(metas)
	return metas, nil
}

// Close closes the Redis directory
func (d *RedisDirectory) Close() error {
	if d.pubsub != nil {
		if err := d.pubsub.Close(); err != nil {
			return fmt.Errorf("failed to close pubsub: %w", err)
		}
		<-d.done
	}
	return d.client.Close()
}
