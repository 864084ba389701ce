package coordinator

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/segmentstream/upsertengine/model"
)

// Producer is the output producer: it routes output events to
// the output-log partition derived from their destination segment name,
// batches them, and awaits acknowledgement with a batch-wide timeout.
type Producer struct {
	log    OutputLog
	cfg    Config
	logger logrus.FieldLogger
}

// NewProducer constructs a Producer over log.
func NewProducer(log OutputLog, cfg Config, logger logrus.FieldLogger) *Producer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Producer{log: log, cfg: cfg, logger: logger}
}

// Produce routes, batches, and awaits acknowledgement for events. It
// returns ErrBatchFailed if any task fails to complete within the
// configured output-ack timeout.
func (p *Producer) Produce(ctx context.Context, events []model.OutputEvent) error {
	if len(events) == 0 {
		return nil
	}
	tasks := make([]OutputTask, len(events))
	for i, e := range events {
		tasks[i] = OutputTask{Partition: p.log.Partition(e.SegmentName), Event: e}
	}

	awaiter, err := p.log.BatchProduce(ctx, tasks)
	if err != nil {
		return errors.Wrap(ErrTransientIO, err.Error())
	}

	failed, err := awaiter.Await(p.cfg.outputAckTimeout())
	if err != nil {
		return errors.Wrap(ErrTransientIO, err.Error())
	}
	if len(failed) > 0 {
		p.logger.WithField("failedCount", len(failed)).Warn("output batch partially failed")
		return errors.Wrapf(ErrBatchFailed, "%d of %d tasks did not complete", len(failed), len(tasks))
	}
	return nil
}
