package coordinator

import "github.com/pkg/errors"

// Error kinds the coordinator returns. ErrConfig is fatal at
// construction time. ErrTransientIO and ErrBatchFailed both abort the
// current batch without committing input offsets; ErrShutdown is
// cooperative cancellation and is never retried.
var (
	ErrConfig      = errors.New("coordinator config error")
	ErrTransientIO = errors.New("transient I/O failure")
	ErrBatchFailed = errors.New("batch failed")
	ErrShutdown    = errors.New("coordinator shutting down")
)
