// Package coordinator implements the key coordinator side of the
// upsert engine: the input consumer loop, the processing loop, and the
// output producer, wired together behind a single lifecycle state
// machine.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/segmentstream/upsertengine/kvstore"
	"github.com/segmentstream/upsertengine/resolver"
)

// State is the coordinator's lifecycle state.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateShuttingDown
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Coordinator binds the consumer, processor and producer into a single
// runnable unit with cooperative shutdown.
type Coordinator struct {
	cfg    Config
	logger logrus.FieldLogger

	consumer  *Consumer
	processor *Processor
	producer  *Producer

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Coordinator. kv and res back the processing loop;
// inputLog/outputLog are the external log contracts. It returns
// ErrConfig if cfg carries a negative tunable.
func New(cfg Config, inputLog InputLog, outputLog OutputLog, kv *kvstore.Store, res resolver.Resolver, logger logrus.FieldLogger) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	consumer := NewConsumer(inputLog, cfg, logger)
	producer := NewProducer(outputLog, cfg, logger)
	processor := NewProcessor(consumer.Queue(), kv, res, producer, inputLog, cfg, logger)

	return &Coordinator{
		cfg:       cfg,
		logger:    logger,
		consumer:  consumer,
		processor: processor,
		producer:  producer,
		state:     StateInit,
	}, nil
}

// State returns the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats exposes the processing loop's counters.
func (c *Coordinator) Stats() Stats {
	return c.processor.Stats()
}

// Start transitions INIT → RUNNING and starts the consumer and
// processor loops in the background.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInit {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateRunning

	go func() {
		defer close(c.done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := c.consumer.Run(ctx); err != nil {
				c.logger.WithError(err).Debug("consumer loop exited")
			}
		}()
		go func() {
			defer wg.Done()
			if err := c.processor.Run(ctx); err != nil {
				c.logger.WithError(err).Debug("processor loop exited")
			}
		}()
		wg.Wait()
	}()

	c.logger.Info("coordinator started")
}

// Stop transitions RUNNING → SHUTTING_DOWN, interrupts the consumer,
// and waits up to TerminationWaitMs for the processor to finish its
// current batch before transitioning to SHUTDOWN. If the processor is
// mid-batch when interrupted, that batch is abandoned without
// committing — safe by construction since reprocessing is idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateShuttingDown
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	c.consumer.Stop()
	cancel()

	select {
	case <-done:
	case <-time.After(c.cfg.terminationWait()):
		c.logger.Warn("termination wait exceeded, processor may still be mid-batch")
	}

	c.mu.Lock()
	c.state = StateShutdown
	c.mu.Unlock()
	c.logger.Info("coordinator stopped")
}
