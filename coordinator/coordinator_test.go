package coordinator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segmentstream/upsertengine/kvstore"
	"github.com/segmentstream/upsertengine/model"
	"github.com/segmentstream/upsertengine/resolver"
)

func TestCoordinator_StartStop(t *testing.T) {
	kv, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "kv.db")})
	require.NoError(t, err)
	defer kv.Close()

	in := &fakeInputLog{
		batches: [][]InputRecord{
			{{Partition: 0, Offset: 1, Event: model.InputEvent{
				Table: "t", Key: model.PrimaryKey("k"),
				Context: model.MessageContext{SegmentName: "s1", SourceOffset: 1, Timestamp: 1},
			}}},
		},
	}
	out := &fakeOutputLog{}
	cfg := Config{FetchMsgMaxDelayMs: 10, FetchMsgDelayMs: 2}

	c, err := New(cfg, in, out, kv, resolver.Default{}, nil)
	require.NoError(t, err)
	require.Equal(t, StateInit, c.State())

	c.Start()
	require.Equal(t, StateRunning, c.State())

	require.Eventually(t, func() bool {
		return c.Stats().Records > 0
	}, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	require.Equal(t, StateShutdown, c.State())
}

func TestCoordinator_DoubleStartIsNoop(t *testing.T) {
	kv, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "kv.db")})
	require.NoError(t, err)
	defer kv.Close()

	c, err := New(Config{}, &fakeInputLog{}, &fakeOutputLog{}, kv, resolver.Default{}, nil)
	require.NoError(t, err)
	c.Start()
	c.Start()
	require.Equal(t, StateRunning, c.State())
	c.Stop()
}
