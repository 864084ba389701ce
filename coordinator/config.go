package coordinator

import (
	"time"

	"github.com/pkg/errors"
)

// Config holds the coordinator's tunable parameters. Only the
// entrypoint (cmd/upsertcoordinatord) loads these from viper — the
// coordinator package itself just takes a typed Config.
type Config struct {
	// FetchMsgDelayMs is the inter-drain sleep inside batch assembly.
	FetchMsgDelayMs int
	// FetchMsgMaxDelayMs is the wall-clock ceiling on batch assembly,
	// also used by the consumer as its poll ceiling.
	FetchMsgMaxDelayMs int
	// FetchMsgMaxBatchSize is the record ceiling on batch assembly.
	FetchMsgMaxBatchSize int
	// ConsumerBlockingQueueSize is the hand-off queue capacity; also
	// the backpressure lever.
	ConsumerBlockingQueueSize int
	// OutputAckTimeoutMs bounds the wait for output-producer
	// completion per batch.
	OutputAckTimeoutMs int
	// TerminationWaitMs bounds how long Stop waits for the processor to
	// finish its current batch.
	TerminationWaitMs int
	// ConsumerBackoffInitialMs / ConsumerBackoffMaxMs bound the
	// consumer's retry backoff on poll failures.
	ConsumerBackoffInitialMs int
	ConsumerBackoffMaxMs     int
}

// validate rejects tunables that can never be sensible, as opposed to
// merely unset. A zero value means "use the default" and is left to
// withDefaults; a negative one is a configuration mistake.
func (c Config) validate() error {
	fields := map[string]int{
		"fetchMsgDelayMs":           c.FetchMsgDelayMs,
		"fetchMsgMaxDelayMs":        c.FetchMsgMaxDelayMs,
		"fetchMsgMaxBatchSize":      c.FetchMsgMaxBatchSize,
		"consumerBlockingQueueSize": c.ConsumerBlockingQueueSize,
		"outputAckTimeoutMs":        c.OutputAckTimeoutMs,
		"terminationWaitMs":         c.TerminationWaitMs,
		"consumerBackoffInitialMs":  c.ConsumerBackoffInitialMs,
		"consumerBackoffMaxMs":      c.ConsumerBackoffMaxMs,
	}
	for name, v := range fields {
		if v < 0 {
			return errors.Wrapf(ErrConfig, "%s must not be negative, got %d", name, v)
		}
	}
	return nil
}

// withDefaults fills in the same defaults the teacher's Options structs
// apply (commitlog.Options, segment.Config) for anything left zero.
func (c Config) withDefaults() Config {
	if c.FetchMsgDelayMs <= 0 {
		c.FetchMsgDelayMs = 10
	}
	if c.FetchMsgMaxDelayMs <= 0 {
		c.FetchMsgMaxDelayMs = 250
	}
	if c.FetchMsgMaxBatchSize <= 0 {
		c.FetchMsgMaxBatchSize = 1000
	}
	if c.ConsumerBlockingQueueSize <= 0 {
		c.ConsumerBlockingQueueSize = 10000
	}
	if c.OutputAckTimeoutMs <= 0 {
		c.OutputAckTimeoutMs = 5000
	}
	if c.TerminationWaitMs <= 0 {
		c.TerminationWaitMs = 10000
	}
	if c.ConsumerBackoffInitialMs <= 0 {
		c.ConsumerBackoffInitialMs = 100
	}
	if c.ConsumerBackoffMaxMs <= 0 {
		c.ConsumerBackoffMaxMs = 30000
	}
	return c
}

func (c Config) fetchMsgDelay() time.Duration {
	return time.Duration(c.FetchMsgDelayMs) * time.Millisecond
}

func (c Config) fetchMsgMaxDelay() time.Duration {
	return time.Duration(c.FetchMsgMaxDelayMs) * time.Millisecond
}

func (c Config) outputAckTimeout() time.Duration {
	return time.Duration(c.OutputAckTimeoutMs) * time.Millisecond
}

func (c Config) terminationWait() time.Duration {
	return time.Duration(c.TerminationWaitMs) * time.Millisecond
}

func (c Config) consumerBackoffInitial() time.Duration {
	return time.Duration(c.ConsumerBackoffInitialMs) * time.Millisecond
}

func (c Config) consumerBackoffMax() time.Duration {
	return time.Duration(c.ConsumerBackoffMaxMs) * time.Millisecond
}
