package coordinator

import (
	"context"
	"sync"
	"time"

	hdr "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/Workiva/go-datastructures/queue"
	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/segmentstream/upsertengine/kvstore"
	"github.com/segmentstream/upsertengine/model"
	"github.com/segmentstream/upsertengine/resolver"
)

// Stats summarizes the processing loop's activity, exposed for
// diagnostics and tests. No external metrics sink is wired; counters
// and histograms stay in-process only.
type Stats struct {
	Batches    int64
	Records    int64
	Duplicates int64
	Inserts    int64
	Deletes    int64

	batchSizeHist    *hdr.Histogram
	batchLatencyHist *hdr.Histogram
}

func newStats() Stats {
	return Stats{
		batchSizeHist:    hdr.New(0, 1_000_000, 3),
		batchLatencyHist: hdr.New(0, 60_000, 3),
	}
}

func (s Stats) clone() Stats {
	s.batchSizeHist = hdr.Import(s.batchSizeHist.Export())
	s.batchLatencyHist = hdr.Import(s.batchLatencyHist.Export())
	return s
}

// BatchSizePercentile returns the p-th percentile batch size observed.
func (s Stats) BatchSizePercentile(p float64) int64 {
	return s.batchSizeHist.ValueAtQuantile(p)
}

// BatchLatencyPercentileMs returns the p-th percentile batch processing
// latency, in milliseconds.
func (s Stats) BatchLatencyPercentileMs(p float64) int64 {
	return s.batchLatencyHist.ValueAtQuantile(p)
}

// Processor is the processing loop: it drains the consumer's queue
// into size/time-bounded batches, resolves per-key conflicts per table,
// emits output events, and commits input offsets only after every prior
// commit step has succeeded.
type Processor struct {
	queue    *queue.RingBuffer
	kv       *kvstore.Store
	resolver resolver.Resolver
	producer *Producer
	inputLog InputLog
	cfg      Config
	logger   logrus.FieldLogger

	mu    sync.Mutex
	stats Stats
}

// NewProcessor constructs a Processor wired to its collaborators.
func NewProcessor(q *queue.RingBuffer, kv *kvstore.Store, res resolver.Resolver, producer *Producer, inputLog InputLog, cfg Config, logger logrus.FieldLogger) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if res == nil {
		res = resolver.Default{}
	}
	return &Processor{
		queue:    q,
		kv:       kv,
		resolver: res,
		producer: producer,
		inputLog: inputLog,
		cfg:      cfg,
		logger:   logger,
		stats:    newStats(),
	}
}

// Stats returns a locked snapshot of the processor's counters. The
// returned histograms are independent copies, safe to read without
// racing the live processing loop.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.clone()
}

// Run drives the batch cycle until ctx is cancelled, returning
// ErrShutdown wrapped with context on cooperative cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ErrShutdown, "processor stopped")
		default:
		}

		batch, commitOffsets := p.drainBatch(ctx)
		if len(batch) == 0 {
			continue
		}

		start := time.Now()
		if err := p.processBatch(ctx, batch); err != nil {
			p.logger.WithError(err).Warn("batch aborted, input offsets not committed")
			continue
		}
		if err := p.inputLog.AckOffsets(ctx, commitOffsets); err != nil {
			p.logger.WithError(err).Warn("failed to commit input offsets, batch will be reprocessed")
			continue
		}

		elapsed := time.Since(start)
		p.mu.Lock()
		p.stats.Batches++
		p.stats.Records += int64(len(batch))
		p.stats.batchSizeHist.RecordValue(int64(len(batch)))
		p.stats.batchLatencyHist.RecordValue(elapsed.Milliseconds())
		p.mu.Unlock()
		p.logger.WithFields(logrus.Fields{
			"records":  humanize.Comma(int64(len(batch))),
			"duration": durafmt.Parse(elapsed).String(),
		}).Debug("batch committed")
	}
}

// drainBatch assembles one batch: drain up to
// fetchMsgMaxBatchSize records or until fetchMsgMaxDelayMs has elapsed
// since the drain started, sleeping fetchMsgDelayMs between attempts.
// It also tracks the maximum per-partition source offset observed,
// which becomes the commit set passed to AckOffsets.
func (p *Processor) drainBatch(ctx context.Context) ([]InputRecord, map[int32]int64) {
	deadline := time.Now().Add(p.cfg.fetchMsgMaxDelay())
	var batch []InputRecord
	commitOffsets := make(map[int32]int64)

	for len(batch) < p.cfg.FetchMsgMaxBatchSize && time.Now().Before(deadline) {
		item, err := p.queue.Poll(p.cfg.fetchMsgDelay())
		if err != nil {
			// Timeout or disposed queue: stop draining this cycle.
			if p.queue.IsDisposed() {
				return batch, commitOffsets
			}
			continue
		}
		rec := item.(InputRecord)
		batch = append(batch, rec)
		if rec.Offset > commitOffsets[rec.Partition] {
			commitOffsets[rec.Partition] = rec.Offset
		}
	}
	return batch, commitOffsets
}

// processBatch runs per-table resolution, then commits in a fixed
// order: produce outputs and await acknowledgement, then multiPut the
// per-table overlays. Any failure aborts the whole batch.
func (p *Processor) processBatch(ctx context.Context, batch []InputRecord) error {
	byTable := make(map[string][]model.InputEvent)
	for _, rec := range batch {
		byTable[rec.Event.Table] = append(byTable[rec.Event.Table], rec.Event)
	}

	var allOutputs []model.OutputEvent
	overlaysByTable := make(map[string]map[string]kvstore.PutEntry)

	for table, events := range byTable {
		outputs, overlay, err := p.resolveTable(table, events)
		if err != nil {
			return errors.Wrapf(err, "resolve table %q", table)
		}
		allOutputs = append(allOutputs, outputs...)
		overlaysByTable[table] = overlay
	}

	// (a) produce all output events and await acknowledgement.
	if err := p.producer.Produce(ctx, allOutputs); err != nil {
		return err
	}

	// (b) multiPut each table's overlay into C6.
	for table, overlay := range overlaysByTable {
		if len(overlay) == 0 {
			continue
		}
		tbl, err := p.kv.Table(table)
		if err != nil {
			return errors.Wrap(ErrTransientIO, err.Error())
		}
		if err := tbl.MultiPut(overlay); err != nil {
			return errors.Wrap(ErrTransientIO, err.Error())
		}
	}

	p.mu.Lock()
	for _, e := range allOutputs {
		switch e.Kind {
		case model.Insert:
			p.stats.Inserts++
		case model.Delete:
			p.stats.Deletes++
		}
	}
	p.mu.Unlock()

	return nil
}

// resolveTable runs the per-table conflict-resolution algorithm. m is
// the in-memory overlay: PK → winning context so far in this batch,
// seeded from the key→context store and mutated only when a key's
// winner changes, so the returned overlay contains exactly the keys
// that need writing.
func (p *Processor) resolveTable(table string, events []model.InputEvent) ([]model.OutputEvent, map[string]kvstore.PutEntry, error) {
	distinct := make(map[string]model.PrimaryKey)
	for _, e := range events {
		distinct[e.Key.Key()] = e.Key
	}
	keys := make([]model.PrimaryKey, 0, len(distinct))
	for _, k := range distinct {
		keys = append(keys, k)
	}

	tbl, err := p.kv.Table(table)
	if err != nil {
		return nil, nil, errors.Wrap(ErrTransientIO, err.Error())
	}
	fetched, err := tbl.MultiGet(keys)
	if err != nil {
		return nil, nil, errors.Wrap(ErrTransientIO, err.Error())
	}

	type overlayEntry struct {
		key model.PrimaryKey
		ctx model.MessageContext
	}
	m := make(map[string]overlayEntry, len(fetched))
	for ks, ctx := range fetched {
		m[ks] = overlayEntry{key: distinct[ks], ctx: ctx}
	}
	touched := make(map[string]bool)

	var outputs []model.OutputEvent
	for _, msg := range events {
		ks := msg.Key.Key()
		newCtx := msg.Context

		entry, ok := m[ks]
		if !ok {
			m[ks] = overlayEntry{key: msg.Key, ctx: newCtx}
			touched[ks] = true
			outputs = append(outputs, insertEvent(table, newCtx))
			continue
		}
		old := entry.ctx

		if old.Equal(newCtx) {
			// Same replica observed twice: no event emitted.
			p.mu.Lock()
			p.stats.Duplicates++
			p.mu.Unlock()
			continue
		}

		if p.resolver.ShouldDeleteFirst(old, newCtx) {
			outputs = append(outputs, deleteEvent(table, old, newCtx.SourceOffset))
			m[ks] = overlayEntry{key: msg.Key, ctx: newCtx}
			touched[ks] = true
			outputs = append(outputs, insertEvent(table, newCtx))
			continue
		}

		if newCtx.SourceOffset <= old.SourceOffset {
			// Replay / at-least-once duplicate: old already won this
			// comparison once, ignore.
			p.mu.Lock()
			p.stats.Duplicates++
			p.mu.Unlock()
			continue
		}

		// The losing new occurrence gets a self-addressed DELETE so
		// later scans ignore it.
		outputs = append(outputs, deleteEvent(table, newCtx, newCtx.SourceOffset))
	}

	overlay := make(map[string]kvstore.PutEntry, len(touched))
	for ks := range touched {
		e := m[ks]
		overlay[ks] = kvstore.NewPutEntry(e.key, e.ctx)
	}

	return outputs, overlay, nil
}

func insertEvent(table string, ctx model.MessageContext) model.OutputEvent {
	return model.OutputEvent{
		Table:        table,
		SegmentName:  ctx.SegmentName,
		TargetOffset: ctx.SourceOffset,
		Value:        ctx.SourceOffset,
		Kind:         model.Insert,
	}
}

func deleteEvent(table string, target model.MessageContext, value int64) model.OutputEvent {
	return model.OutputEvent{
		Table:        table,
		SegmentName:  target.SegmentName,
		TargetOffset: target.SourceOffset,
		Value:        value,
		Kind:         model.Delete,
	}
}
