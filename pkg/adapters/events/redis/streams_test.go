package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/tenderflow/pkg/domain"
)

func TestDecodeMessage(t *testing.T) {
	ev, err := decodeMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{
		"data": `{"id":"e1","type":"stage.completed","invocation_id":"inv","stage_id":"bid_doc_parse"}`,
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeStageCompleted, ev.Type)
	assert.Equal(t, "bid_doc_parse", ev.StageID)

	_, err = decodeMessage(redis.XMessage{Values: map[string]interface{}{}})
	assert.ErrorContains(t, err, "no data field")

	_, err = decodeMessage(redis.XMessage{Values: map[string]interface{}{"data": "{"}})
	assert.ErrorContains(t, err, "failed to unmarshal event")
}

func TestNewStreamsEventBusValidation(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "", "", 0, nil)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	_, err = NewStreamsEventBus(client, "group", "", 0, nil)
	assert.ErrorContains(t, err, "consumer name is required")

	bus, err := NewStreamsEventBus(client, "", "", 0, nil)
	require.NoError(t, err)
	assert.NoError(t, bus.Close())
	assert.Equal(t, "tenderflow:events:invocations", getStreamKey("invocations"))
}

// TestStreamsRoundTrip needs a Redis server; set REDIS_TEST_ADDR to run it.
func TestStreamsRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	bus, err := NewStreamsEventBus(client, "", "", 100, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer bus.Close()

	topic := "test-" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), getStreamKey(topic)) })

	var mu sync.Mutex
	var got []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bus.Subscribe(ctx, topic, func(_ context.Context, ev domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.ID)
		return nil
	}))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Publish(context.Background(), topic, domain.Event{ID: id, Timestamp: time.Now()}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 5*time.Second, 20*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
