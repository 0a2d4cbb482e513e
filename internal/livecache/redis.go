package livecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"plantwatch-backend/internal/monitor"
)

const DefaultTTL = 24 * time.Hour

// Cache keeps the newest reading per sensor type in one Redis hash per
// machine. Fields are sensor types, values are JSON encoded readings.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ monitor.LiveCache = (*Cache)(nil)

func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func Connect(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, DefaultTTL), nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func latestKey(machineID string) string {
	return fmt.Sprintf("machine:%s:latest", machineID)
}

// storeLatestScript writes each field only when its timestamp is not older
// than the one already cached. KEYS[1] holds the readings, KEYS[2] the
// zero-padded unix nano timestamps, which compare correctly as strings.
// ARGV[1] is the TTL in milliseconds followed by field, stamp, payload triples.
var storeLatestScript = redis.NewScript(`
local written = 0
for i = 2, #ARGV, 3 do
	local cur = redis.call('HGET', KEYS[2], ARGV[i])
	if not cur or cur <= ARGV[i + 1] then
		redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 2])
		redis.call('HSET', KEYS[2], ARGV[i], ARGV[i + 1])
		written = written + 1
	end
end
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return written
`)

func stampKey(machineID string) string {
	return latestKey(machineID) + ":ts"
}

func stamp(ts time.Time) string {
	return fmt.Sprintf("%020d", ts.UnixNano())
}

func (c *Cache) StoreLatest(ctx context.Context, machineID string, readings []monitor.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	newest := make(map[string]monitor.SensorReading, len(readings))
	for _, rd := range readings {
		if prev, ok := newest[rd.SensorType]; ok && prev.Timestamp.After(rd.Timestamp) {
			continue
		}
		newest[rd.SensorType] = rd
	}
	args := make([]any, 0, 1+3*len(newest))
	args = append(args, c.ttl.Milliseconds())
	for sensorType, rd := range newest {
		payload, err := json.Marshal(rd)
		if err != nil {
			return fmt.Errorf("failed to marshal reading: %w", err)
		}
		args = append(args, sensorType, stamp(rd.Timestamp), payload)
	}

	keys := []string{latestKey(machineID), stampKey(machineID)}
	if err := storeLatestScript.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis store latest failed: %w", err)
	}
	return nil
}

func (c *Cache) Latest(ctx context.Context, machineID string) ([]monitor.SensorReading, error) {
	values, err := c.client.HGetAll(ctx, latestKey(machineID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	out := make([]monitor.SensorReading, 0, len(values))
	for sensorType, raw := range values {
		var rd monitor.SensorReading
		if err := json.Unmarshal([]byte(raw), &rd); err != nil {
			return nil, fmt.Errorf("decode cached %s reading: %w", sensorType, err)
		}
		out = append(out, rd)
	}
	return out, nil
}
