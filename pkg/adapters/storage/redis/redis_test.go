package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

func sampleRecord(id string) *domain.InvocationRecord {
	submitted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	completed := submitted.Add(90 * time.Second)
	return &domain.InvocationRecord{
		ID:           id,
		WorkflowType: "audit",
		Status:       domain.ExecutionStatusFailed,
		Request: domain.InvocationRequest{
			TenderFile: domain.FileRef{URL: "/data/tender.docx"},
			BidFile:    &domain.FileRef{URL: "/data/bid.docx"},
		},
		Error: &domain.InvocationError{StageID: "bid_doc_parse", Kind: "handler", Message: "boom"},
		Stages: map[string]*domain.StageRecord{
			"tender_doc_parse": {StageID: "tender_doc_parse", Status: domain.ExecutionStatusCompleted, DurationMs: 12},
		},
		SubmittedAt: submitted,
		CompletedAt: &completed,
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			want := sampleRecord("inv-1")
			data, err := codec.Marshal(want)
			require.NoError(t, err)

			var got domain.InvocationRecord
			require.NoError(t, codec.Unmarshal(data, &got))
			if diff := cmp.Diff(want, &got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := CodecByName("xml")
	assert.ErrorContains(t, err, "unknown storage codec")
}

// TestResultStorage needs a Redis server; set REDIS_TEST_ADDR to run it.
func TestResultStorage(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	ctx := context.Background()
	s := NewResultStorage(client, msgpackCodec{}, time.Minute, zaptest.NewLogger(t))

	id := uuid.NewString()
	require.NoError(t, s.Save(ctx, sampleRecord(id)))
	t.Cleanup(func() { client.Del(ctx, getRecordKey(id)) })

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "bid_doc_parse", got.Error.StageID)

	ttl, err := client.TTL(ctx, getRecordKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, id), ports.ErrNotFound)
}
