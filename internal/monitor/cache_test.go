package monitor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch-backend/internal/livecache"
	"plantwatch-backend/internal/monitor"
)

func newCachedFixture(t *testing.T) (*fixture, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := livecache.New(client, time.Hour)
	f := newFixtureWith(t, func(o *monitor.Options) { o.Cache = cache })
	return f, mr
}

func latestBySensor(t *testing.T, f *fixture) map[string]monitor.SensorReading {
	t.Helper()
	latest, err := f.engine.GetLatestReadings(context.Background(), f.machine.ID)
	require.NoError(t, err)
	out := make(map[string]monitor.SensorReading, len(latest))
	for _, rd := range latest {
		out[rd.SensorType] = rd
	}
	return out
}

func TestLatestReadingsIgnoreBackdatedBatch(t *testing.T) {
	f, _ := newCachedFixture(t)
	nine := f.clock.Now()
	eight := nine.Add(-time.Hour)

	f.ingest(t, monitor.ReadingInput{SensorType: "temperature", Value: ptr(50.0), Timestamp: &nine})
	f.ingest(t, monitor.ReadingInput{SensorType: "temperature", Value: ptr(30.0), Timestamp: &eight})

	latest := latestBySensor(t, f)
	require.Contains(t, latest, "temperature")
	assert.Equal(t, 50.0, latest["temperature"].Value)
	assert.True(t, latest["temperature"].Timestamp.Equal(nine))
}

func TestLatestReadingsSurviveFlushedCache(t *testing.T) {
	f, mr := newCachedFixture(t)
	f.ingest(t, reading("temperature", 50))
	mr.FlushAll()
	f.clock.Advance(time.Minute)
	f.ingest(t, reading("vibration", 2.5))

	latest := latestBySensor(t, f)
	require.Len(t, latest, 2)
	assert.Equal(t, 50.0, latest["temperature"].Value)
	assert.Equal(t, 2.5, latest["vibration"].Value)
}

func TestLatestReadingsPreferNewerCachedEntry(t *testing.T) {
	f, mr := newCachedFixture(t)
	f.ingest(t, reading("temperature", 50))

	// a reading cached by another instance but not yet visible in this log
	newer := monitor.SensorReading{ID: "remote", MachineID: f.machine.ID, SensorType: "temperature", Value: 61, Timestamp: f.clock.Now().Add(time.Minute)}
	mr.HSet("machine:"+f.machine.ID+":latest", "temperature", mustJSON(t, newer))

	latest := latestBySensor(t, f)
	assert.Equal(t, "remote", latest["temperature"].ID)
	assert.Equal(t, 61.0, latest["temperature"].Value)
}

func TestLatestReadingsFallBackOnCorruptCache(t *testing.T) {
	f, mr := newCachedFixture(t)
	f.ingest(t, reading("temperature", 50))
	mr.HSet("machine:"+f.machine.ID+":latest", "temperature", "{not json")

	latest := latestBySensor(t, f)
	assert.Equal(t, 50.0, latest["temperature"].Value)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
