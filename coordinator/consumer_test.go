package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segmentstream/upsertengine/model"
)

type fakeInputLog struct {
	batches [][]InputRecord
	idx     int32
	acked   map[int32]int64
}

func (f *fakeInputLog) Poll(ctx context.Context, maxDelay time.Duration) ([]InputRecord, error) {
	i := atomic.AddInt32(&f.idx, 1) - 1
	if int(i) >= len(f.batches) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(maxDelay):
			return nil, nil
		}
	}
	return f.batches[i], nil
}

func (f *fakeInputLog) AckOffsets(ctx context.Context, maxOffsets map[int32]int64) error {
	if f.acked == nil {
		f.acked = make(map[int32]int64)
	}
	for p, off := range maxOffsets {
		if off > f.acked[p] {
			f.acked[p] = off
		}
	}
	return nil
}

func TestConsumer_FeedsQueue(t *testing.T) {
	in := &fakeInputLog{
		batches: [][]InputRecord{
			{{Partition: 0, Offset: 1, Event: model.InputEvent{Table: "t", Key: model.PrimaryKey("k")}}},
		},
	}
	cfg := Config{FetchMsgMaxDelayMs: 20}.withDefaults()
	c := NewConsumer(in, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	item, err := c.Queue().Poll(time.Second)
	require.NoError(t, err)
	rec := item.(InputRecord)
	require.Equal(t, int64(1), rec.Offset)
}

func TestConsumer_StopUnblocksQueue(t *testing.T) {
	in := &fakeInputLog{}
	cfg := Config{FetchMsgMaxDelayMs: 20}.withDefaults()
	c := NewConsumer(in, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Stop()
	_, err := c.Queue().Get()
	require.Error(t, err)
}
