// Package watermark implements the process-wide watermark registry:
// the highest source-log offset whose update has been durably applied,
// tracked per (table, segment).
//
// Manager is an explicit, injected collaborator with Open/Close, not
// ambient global state, so tests can substitute it.
package watermark

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	atomic_file "github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/segmentstream/upsertengine/model"
)

const checkpointFileName = "watermarks.checkpoint"

// Options configures a Manager.
type Options struct {
	// CheckpointDir, if non-empty, is the directory the manager persists
	// its state to and restores from at Open. An empty CheckpointDir
	// keeps the manager purely in-memory.
	CheckpointDir string
	// CheckpointInterval is how often the manager writes its checkpoint
	// file while running. Defaults to 5s, matching the teacher's
	// HWCheckpointInterval default.
	CheckpointInterval time.Duration
	Logger             logrus.FieldLogger
}

// Manager is a concurrent map[(table,segment)]->int64 with periodic
// durable checkpointing.
type Manager struct {
	opts   Options
	log    logrus.FieldLogger
	mu     sync.RWMutex
	marks  map[model.SegmentKey]int64
	closed chan struct{}
	done   chan struct{}
}

// Open constructs a Manager, restoring any prior checkpoint, and starts
// its background checkpoint loop if CheckpointDir is set.
func Open(opts Options) (*Manager, error) {
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		opts:   opts,
		log:    log,
		marks:  make(map[model.SegmentKey]int64),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if opts.CheckpointDir != "" {
		if err := m.restore(); err != nil {
			return nil, errors.Wrap(err, "restore watermark checkpoint")
		}
		go m.checkpointLoop()
	} else {
		close(m.done)
	}
	return m, nil
}

// ProcessMessage advances the watermark for (table, segment) to
// max(current, sourceOffset). Thread-safe; contention is expected since
// one segment can receive concurrent updates.
func (m *Manager) ProcessMessage(table, segment string, sourceOffset int64) {
	key := model.SegmentKey{Table: table, Segment: segment}
	m.mu.Lock()
	if sourceOffset > m.marks[key] {
		m.marks[key] = sourceOffset
	}
	m.mu.Unlock()
}

// Get returns the current watermark for (table, segment), or 0 if none
// has been observed yet.
func (m *Manager) Get(table, segment string) int64 {
	key := model.SegmentKey{Table: table, Segment: segment}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marks[key]
}

// Snapshot returns a copy of the full watermark map, keyed by
// (table, segment). Intended for diagnostics and tests.
func (m *Manager) Snapshot() map[model.SegmentKey]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.SegmentKey]int64, len(m.marks))
	for k, v := range m.marks {
		out[k] = v
	}
	return out
}

// Close stops the checkpoint loop (if running), writing a final
// checkpoint first.
func (m *Manager) Close() error {
	select {
	case <-m.closed:
		return nil
	default:
		close(m.closed)
	}
	<-m.done
	if m.opts.CheckpointDir == "" {
		return nil
	}
	return m.checkpoint()
}

func (m *Manager) checkpointLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.opts.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-m.closed:
			return
		}
		if err := m.checkpoint(); err != nil {
			m.log.WithError(err).Error("failed to checkpoint watermarks")
		}
	}
}

func (m *Manager) checkpoint() error {
	snapshot := m.Snapshot()
	entries := make([]checkpointEntry, 0, len(snapshot))
	for k, v := range snapshot {
		entries = append(entries, checkpointEntry{Table: k.Table, Segment: k.Segment, Offset: v})
	}
	buf, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "marshal watermark checkpoint")
	}
	path := filepath.Join(m.opts.CheckpointDir, checkpointFileName)
	if err := os.MkdirAll(m.opts.CheckpointDir, 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint dir")
	}
	return atomic_file.WriteFile(path, bytes.NewReader(buf))
}

func (m *Manager) restore() error {
	path := filepath.Join(m.opts.CheckpointDir, checkpointFileName)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []checkpointEntry
	if err := json.Unmarshal(buf, &entries); err != nil {
		return errors.Wrap(err, "unmarshal watermark checkpoint")
	}
	m.mu.Lock()
	for _, e := range entries {
		m.marks[model.SegmentKey{Table: e.Table, Segment: e.Segment}] = e.Offset
	}
	m.mu.Unlock()
	return nil
}

type checkpointEntry struct {
	Table   string
	Segment string
	Offset  int64
}
