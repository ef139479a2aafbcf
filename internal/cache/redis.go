package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/calebmoran/longbox-backend/internal/bus"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/types"
)

const (
	sessionTTL = 10 * time.Second
	poolTTL    = 30 * time.Second
)

// ReadCache is a short-TTL read-through cache for the two hot reads: the
// current session and the roll pool. It sits outside the core services and
// is invalidated by write signals from the bus. Misses are silent; the store
// stays the source of truth.
type ReadCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewReadCache(log *logger.Logger) (*ReadCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &ReadCache{log: log.With("service", "ReadCache"), rdb: rdb}, nil
}

// BindBus wires invalidation: any write signal for a user drops both of the
// user's cached entries.
func (c *ReadCache) BindBus(b *bus.Bus) {
	if c == nil || b == nil {
		return
	}
	b.Subscribe(func(msg bus.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.rdb.Del(ctx, sessionKey(msg.UserID), poolKey(msg.UserID)).Err(); err != nil {
			c.log.Warn("cache invalidation failed", "userID", msg.UserID, "error", err)
		}
	})
}

func (c *ReadCache) GetSession(ctx context.Context, userID uuid.UUID) (*types.Session, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var s types.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

func (c *ReadCache) SetSession(ctx context.Context, userID uuid.UUID, s *types.Session) {
	if c == nil || s == nil {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, sessionKey(userID), raw, sessionTTL).Err(); err != nil {
		c.log.Warn("session cache write failed", "userID", userID, "error", err)
	}
}

func (c *ReadCache) GetRollPool(ctx context.Context, userID uuid.UUID) ([]*types.Thread, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, poolKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var pool []*types.Thread
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, false
	}
	return pool, true
}

func (c *ReadCache) SetRollPool(ctx context.Context, userID uuid.UUID, pool []*types.Thread) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(pool)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, poolKey(userID), raw, poolTTL).Err(); err != nil {
		c.log.Warn("pool cache write failed", "userID", userID, "error", err)
	}
}

func (c *ReadCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func sessionKey(userID uuid.UUID) string { return "longbox:session:" + userID.String() }
func poolKey(userID uuid.UUID) string    { return "longbox:pool:" + userID.String() }
