// internal/storage/redis/store.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/storage"
)

// Key layout under the configured prefix:
//
//	{prefix}:position:{id}     JSON position
//	{prefix}:open              set of open position ids
//	{prefix}:open:{asset}      id of the asset's open position
//	{prefix}:closed            sorted set of closed ids scored by exit time (ms)
const (
	positionKeyPart = "position"
	openKeyPart     = "open"
	closedKeyPart   = "closed"
)

// PositionStore implements storage.PositionStore on Redis so several
// processes can share one ledger history.
type PositionStore struct {
	client *redis.Client
	prefix string
}

var _ storage.PositionStore = (*PositionStore)(nil)

// Open parses a redis:// URL, connects and pings.
func Open(ctx context.Context, url, prefix string) (*PositionStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewPositionStore(client, prefix), nil
}

// NewPositionStore wraps an existing client.
func NewPositionStore(client *redis.Client, prefix string) *PositionStore {
	if prefix == "" {
		prefix = "sniper"
	}
	return &PositionStore{client: client, prefix: prefix}
}

func (s *PositionStore) positionKey(id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, positionKeyPart, id)
}

func (s *PositionStore) openSetKey() string {
	return fmt.Sprintf("%s:%s", s.prefix, openKeyPart)
}

func (s *PositionStore) openAssetKey(asset string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, openKeyPart, asset)
}

func (s *PositionStore) closedKey() string {
	return fmt.Sprintf("%s:%s", s.prefix, closedKeyPart)
}

// Save upserts p and maintains the open and closed indexes.
func (s *PositionStore) Save(ctx context.Context, p position.Position) error {
	data, err := sonic.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", p.ID, err)
	}

	if p.State == position.StateOpen {
		claimed, err := s.client.SetNX(ctx, s.openAssetKey(p.Asset), p.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("claim open asset %s: %w", p.Asset, err)
		}
		if !claimed {
			owner, err := s.client.Get(ctx, s.openAssetKey(p.Asset)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("read open asset %s: %w", p.Asset, err)
			}
			if owner != p.ID {
				return storage.ErrDuplicateOpen
			}
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.positionKey(p.ID), data, 0)
		if p.State == position.StateOpen {
			pipe.SAdd(ctx, s.openSetKey(), p.ID)
			return nil
		}
		pipe.SRem(ctx, s.openSetKey(), p.ID)
		pipe.Del(ctx, s.openAssetKey(p.Asset))
		pipe.ZAdd(ctx, s.closedKey(), redis.Z{Score: float64(p.ExitTime.UnixMilli()), Member: p.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.ID, err)
	}
	return nil
}

// Get returns one position by id.
func (s *PositionStore) Get(ctx context.Context, id string) (position.Position, error) {
	raw, err := s.client.Get(ctx, s.positionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return position.Position{}, storage.ErrNotFound
		}
		return position.Position{}, fmt.Errorf("get position %s: %w", id, err)
	}
	var p position.Position
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return position.Position{}, fmt.Errorf("decode position %s: %w", id, err)
	}
	return p, nil
}

// LoadOpen returns every open position.
func (s *PositionStore) LoadOpen(ctx context.Context) ([]position.Position, error) {
	ids, err := s.client.SMembers(ctx, s.openSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	return s.load(ctx, ids)
}

// ListClosed returns positions closed at or after since, oldest exit first.
func (s *PositionStore) ListClosed(ctx context.Context, since time.Time) ([]position.Position, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.closedKey(), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixMilli()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list closed positions: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *PositionStore) load(ctx context.Context, ids []string) ([]position.Position, error) {
	out := make([]position.Position, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Close closes the client.
func (s *PositionStore) Close() error {
	return s.client.Close()
}
