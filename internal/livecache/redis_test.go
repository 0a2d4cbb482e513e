package livecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch-backend/internal/monitor"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour), mr
}

func TestStoreLatestKeepsNewestPerSensor(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := cache.StoreLatest(ctx, "m1", []monitor.SensorReading{
		{ID: "r1", MachineID: "m1", SensorType: "temperature", Value: 70, Timestamp: base.Add(time.Minute)},
		{ID: "r2", MachineID: "m1", SensorType: "temperature", Value: 60, Timestamp: base},
		{ID: "r3", MachineID: "m1", SensorType: "vibration", Value: 4.2, Timestamp: base, Severity: monitor.ClassWarning, IsAnomaly: true},
	})
	require.NoError(t, err)

	got, err := cache.Latest(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	bySensor := map[string]monitor.SensorReading{}
	for _, rd := range got {
		bySensor[rd.SensorType] = rd
	}
	assert.Equal(t, "r1", bySensor["temperature"].ID)
	assert.Equal(t, 70.0, bySensor["temperature"].Value)
	assert.True(t, bySensor["vibration"].IsAnomaly)
	assert.Equal(t, monitor.ClassWarning, bySensor["vibration"].Severity)
	assert.True(t, bySensor["temperature"].Timestamp.Equal(base.Add(time.Minute)))

	assert.Equal(t, time.Hour, mr.TTL("machine:m1:latest"))
}

func TestStoreLatestOverwritesPreviousBatch(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, cache.StoreLatest(ctx, "m1", []monitor.SensorReading{{ID: "old", SensorType: "load", Value: 50, Timestamp: now}}))
	require.NoError(t, cache.StoreLatest(ctx, "m1", []monitor.SensorReading{{ID: "new", SensorType: "load", Value: 55, Timestamp: now.Add(time.Second)}}))

	got, err := cache.Latest(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestStoreLatestIgnoresBackdatedReading(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	nine := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	require.NoError(t, cache.StoreLatest(ctx, "m1", []monitor.SensorReading{{ID: "r9", SensorType: "temperature", Value: 50, Timestamp: nine}}))
	require.NoError(t, cache.StoreLatest(ctx, "m1", []monitor.SensorReading{
		{ID: "r8", SensorType: "temperature", Value: 30, Timestamp: nine.Add(-time.Hour)},
		{ID: "v8", SensorType: "vibration", Value: 2.1, Timestamp: nine.Add(-time.Hour)},
	}))

	got, err := cache.Latest(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	bySensor := map[string]monitor.SensorReading{}
	for _, rd := range got {
		bySensor[rd.SensorType] = rd
	}
	assert.Equal(t, "r9", bySensor["temperature"].ID)
	assert.Equal(t, 50.0, bySensor["temperature"].Value)
	assert.Equal(t, "v8", bySensor["vibration"].ID)

	// same timestamp counts as not older
	require.NoError(t, cache.StoreLatest(ctx, "m1", []monitor.SensorReading{{ID: "r9b", SensorType: "temperature", Value: 51, Timestamp: nine}}))
	got, err = cache.Latest(ctx, "m1")
	require.NoError(t, err)
	for _, rd := range got {
		if rd.SensorType == "temperature" {
			assert.Equal(t, "r9b", rd.ID)
		}
	}
	assert.Equal(t, time.Hour, mr.TTL("machine:m1:latest:ts"))
}

func TestLatestEmpty(t *testing.T) {
	cache, _ := newTestCache(t)
	got, err := cache.Latest(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, cache.StoreLatest(context.Background(), "m1", nil))
}

func TestLatestRejectsCorruptEntry(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.HSet("machine:m1:latest", "temperature", "{not json")
	_, err := cache.Latest(context.Background(), "m1")
	assert.Error(t, err)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := Connect(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer cache.Close()
	assert.NoError(t, cache.Ping(context.Background()))
}
