package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/dropspot/internal/port"
)

const stockKeyPrefix = "dropspot:stock:"

// counterTTL bounds how long a counter lives before it is reseeded from
// storage, which clears reservations lost to a crashed instance.
const counterTTL = 10 * time.Minute

// decrementStockScript replies 1 on success, 0 when stock is short and -1
// when the counter is missing.
const (
	decrementOK      = 1
	decrementMissing = -1
)

var decrementStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return -1
end

current = tonumber(current)
if current >= quantity then
	redis.call('DECRBY', key, quantity)
	return 1
end

return 0
`)

var incrementStockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return 0
end
redis.call('INCRBY', key, tonumber(ARGV[1]))
return 1
`)

// RedisAdapter keeps per-drop reservation counters shared by every instance.
type RedisAdapter struct {
	client *redis.Client
}

var _ port.StockCounter = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) DecrementStock(ctx context.Context, dropID string, quantity int) (bool, error) {
	key := stockKeyPrefix + dropID

	result, err := decrementStockScript.Run(ctx, r.client, []string{key}, quantity).Int()
	if err != nil {
		return false, err
	}

	switch result {
	case decrementOK:
		return true, nil
	case decrementMissing:
		return false, port.ErrCounterMissing
	default:
		return false, nil
	}
}

// IncrementStock returns units to an existing counter. A counter that lapsed
// meanwhile is left missing so the next claim reseeds it from storage.
func (r *RedisAdapter) IncrementStock(ctx context.Context, dropID string, quantity int) error {
	key := stockKeyPrefix + dropID
	return incrementStockScript.Run(ctx, r.client, []string{key}, quantity).Err()
}

func (r *RedisAdapter) SetStock(ctx context.Context, dropID string, quantity int) error {
	key := stockKeyPrefix + dropID
	return r.client.Set(ctx, key, quantity, counterTTL).Err()
}

func (r *RedisAdapter) InitStock(ctx context.Context, dropID string, quantity int) error {
	key := stockKeyPrefix + dropID
	return r.client.SetNX(ctx, key, quantity, counterTTL).Err()
}

func (r *RedisAdapter) DeleteStock(ctx context.Context, dropID string) error {
	return r.client.Del(ctx, stockKeyPrefix+dropID).Err()
}

// Ping reports whether Redis is reachable.
func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
