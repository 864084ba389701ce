package coordinator

import (
	"context"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Consumer is the input consumer loop: a single producer that polls
// the input log and hands records off into a bounded blocking queue.
// Blocking on a full queue is the system's backpressure surface — it
// propagates downstream slowness all the way back to the input log's
// fetch position.
type Consumer struct {
	log     InputLog
	queue   *queue.RingBuffer
	cfg     Config
	logger  logrus.FieldLogger
	backoff time.Duration
}

// NewConsumer constructs a Consumer writing into a queue of the
// configured capacity.
func NewConsumer(log InputLog, cfg Config, logger logrus.FieldLogger) *Consumer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Consumer{
		log:    log,
		queue:  queue.NewRingBuffer(uint64(cfg.ConsumerBlockingQueueSize)),
		cfg:    cfg,
		logger: logger,
	}
}

// Queue exposes the hand-off queue for the processor to drain.
func (c *Consumer) Queue() *queue.RingBuffer {
	return c.queue
}

// Run polls the input log until ctx is cancelled or Stop is called,
// returning ErrShutdown wrapped with context when it exits
// cooperatively. Poll failures are logged and retried after a capped
// exponential backoff rather than hot-looping.
func (c *Consumer) Run(ctx context.Context) error {
	c.backoff = c.cfg.consumerBackoffInitial()
	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ErrShutdown, "consumer stopped")
		default:
		}
		if c.queue.IsDisposed() {
			return errors.Wrap(ErrShutdown, "consumer stopped")
		}

		records, err := c.log.Poll(ctx, c.cfg.fetchMsgMaxDelay())
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return errors.Wrap(ErrShutdown, "consumer stopped")
			}
			c.logger.WithError(err).Warn("input log poll failed, retrying")
			c.sleepBackoff(ctx)
			continue
		}
		c.backoff = c.cfg.consumerBackoffInitial()

		for _, r := range records {
			if err := c.queue.Put(r); err != nil {
				// Queue disposed: shutting down.
				return errors.Wrap(ErrShutdown, "consumer stopped")
			}
		}
	}
}

// Stop unblocks any goroutine waiting on the queue and makes further
// Run iterations exit once they observe it.
func (c *Consumer) Stop() {
	c.queue.Dispose()
}

func (c *Consumer) sleepBackoff(ctx context.Context) {
	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
		return
	}
	c.backoff *= 2
	if max := c.cfg.consumerBackoffMax(); c.backoff > max {
		c.backoff = max
	}
}
