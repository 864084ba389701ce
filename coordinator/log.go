package coordinator

import (
	"context"
	"time"

	"github.com/segmentstream/upsertengine/model"
)

// InputRecord is one record read from the input log, keyed by a
// partition hint.
type InputRecord struct {
	Partition int32
	Offset    int64
	Event     model.InputEvent
}

// InputLog is the contract the consumer loop depends on. The log
// client library itself — brokers, wire protocol, partition
// assignment — is a deployment concern; only this contract is used.
type InputLog interface {
	// Poll blocks for up to maxDelay waiting for more records, then
	// returns whatever is available (possibly none).
	Poll(ctx context.Context, maxDelay time.Duration) ([]InputRecord, error)
	// AckOffsets commits the given per-partition maximum offsets back
	// to the input log.
	AckOffsets(ctx context.Context, maxOffsets map[int32]int64) error
}

// OutputTask is one record to be produced to the output log.
type OutputTask struct {
	Partition int32
	Event     model.OutputEvent
}

// Awaiter lets the caller block on the completion of a batch of
// produced tasks with a shared, batch-wide deadline.
type Awaiter interface {
	// Await blocks until every task acknowledges or timeout elapses,
	// returning the indices of tasks that did not complete in time.
	Await(timeout time.Duration) (failedIndices []int, err error)
}

// OutputLog is the contract the output producer depends on, routing
// each event to the output-log partition its destination segment maps
// to.
type OutputLog interface {
	// Partition returns the deterministic output-log partition for a
	// destination segment name.
	Partition(segmentName string) int32
	// BatchProduce submits tasks and returns an Awaiter for their
	// completion. flush is implied: BatchProduce must drive the
	// producer to dispatch what it submitted.
	BatchProduce(ctx context.Context, tasks []OutputTask) (Awaiter, error)
}
