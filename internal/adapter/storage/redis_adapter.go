package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

const (
	stockKeyPrefix       = "stock:"
	heldKeyPrefix        = "held:"
	reservationKeyPrefix = "reservation:"
	idempotencyKeyPrefix = "notified:"
	idempotencyKeyTTL    = 24 * time.Hour
)

var _ port.IdempotencyStore = (*RedisAdapter)(nil)

var reserveStockScript = redis.NewScript(`
local key = KEYS[1]
local held = KEYS[2]
local quantity = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return 0
end

current = tonumber(current)
if current >= quantity then
	redis.call('DECRBY', key, quantity)
	redis.call('INCRBY', held, quantity)
	return 1
end

return 0
`)

var releaseStockScript = redis.NewScript(`
local quantity = tonumber(ARGV[1])

redis.call('INCRBY', KEYS[1], quantity)
if redis.call('DECRBY', KEYS[2], quantity) <= 0 then
	redis.call('DEL', KEYS[2])
end

return 1
`)

// syncStockScript sets the free count from a catalogue quantity, which still
// includes the copies held by orders.
var syncStockScript = redis.NewScript(`
local quantity = tonumber(ARGV[1])
local held = tonumber(redis.call('GET', KEYS[2]) or '0')

local free = quantity - held
if free < 0 then
	free = 0
end

redis.call('SET', KEYS[1], free)
return free
`)

// RedisAdapter keeps notification guards and the stock ledger of the
// tracking storage system.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ClearIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// TrackItem starts the stock ledger of an item. It returns false if the item
// is already tracked; the existing count is kept.
func (r *RedisAdapter) TrackItem(ctx context.Context, key domain.ItemKey, quantity int) (bool, error) {
	return r.client.SetNX(ctx, stockKeyPrefix+key.String(), quantity, 0).Result()
}

func (r *RedisAdapter) Stock(ctx context.Context, key domain.ItemKey) (int, bool, error) {
	stock, err := r.client.Get(ctx, stockKeyPrefix+key.String()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stock, true, nil
}

// ReserveStock takes quantity copies off the ledger. It returns false when
// the item is not tracked or has too few copies, leaving the count as is.
func (r *RedisAdapter) ReserveStock(ctx context.Context, key domain.ItemKey, quantity int) (bool, error) {
	result, err := reserveStockScript.Run(ctx, r.client, r.stockKeys(key), quantity).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

func (r *RedisAdapter) ReleaseStock(ctx context.Context, key domain.ItemKey, quantity int) error {
	return releaseStockScript.Run(ctx, r.client, r.stockKeys(key), quantity).Err()
}

// SyncStock replaces the free count of an item with quantity minus the
// copies currently held by orders, and starts tracking untracked items.
func (r *RedisAdapter) SyncStock(ctx context.Context, key domain.ItemKey, quantity int) (int, error) {
	return syncStockScript.Run(ctx, r.client, r.stockKeys(key), quantity).Int()
}

func (r *RedisAdapter) stockKeys(key domain.ItemKey) []string {
	return []string{stockKeyPrefix + key.String(), heldKeyPrefix + key.String()}
}

// SaveReservation records which lines of an order hold stock. With create set
// it fails with false if the order already has a reservation.
func (r *RedisAdapter) SaveReservation(ctx context.Context, key domain.OrderKey, hostIDs []string, create bool) (bool, error) {
	payload, err := json.Marshal(hostIDs)
	if err != nil {
		return false, fmt.Errorf("encode reservation: %w", err)
	}

	if create {
		return r.client.SetNX(ctx, reservationKeyPrefix+key.String(), payload, 0).Result()
	}
	if err := r.client.Set(ctx, reservationKeyPrefix+key.String(), payload, 0).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Reservation returns the reserved lines of an order and whether it exists.
func (r *RedisAdapter) Reservation(ctx context.Context, key domain.OrderKey) ([]string, bool, error) {
	payload, err := r.client.Get(ctx, reservationKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var hostIDs []string
	if err := json.Unmarshal(payload, &hostIDs); err != nil {
		return nil, false, fmt.Errorf("decode reservation: %w", err)
	}
	return hostIDs, true, nil
}

func (r *RedisAdapter) DeleteReservation(ctx context.Context, key domain.OrderKey) error {
	return r.client.Del(ctx, reservationKeyPrefix+key.String()).Err()
}
