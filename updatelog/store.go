// Package updatelog implements the durable update log store: an
// append-only, per-(table, segment) log of tombstone/insert entries that
// the immutable upsert segment replays on open.
package updatelog

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/segmentstream/upsertengine/model"
)

const logFileSuffix = ".update.log"

// Entry is one durable update-log record.
type Entry struct {
	SourceOffset int64
	Value        int64
	Kind         model.EventKind
}

// Options configures a Store.
type Options struct {
	Dir    string
	Logger logrus.FieldLogger
}

// logFile pairs an open append handle with its own mutex, so appends to
// one (table, segment) pair never contend with appends to another.
type logFile struct {
	mu sync.Mutex
	f  *os.File
}

// Store manages the on-disk append logs for every (table, segment) pair
// seen so far. It has no ordering guarantee within a single source
// offset — the virtual-column idempotence on the reading side absorbs
// any reordering. Each open file carries its own lock; the store-wide
// mutex only guards the files map itself, so concurrent appends to
// different (table, segment) pairs don't serialize against each other.
type Store struct {
	dir string
	log logrus.FieldLogger

	mu    sync.Mutex
	files map[model.SegmentKey]*logFile
}

// Open constructs a Store rooted at opts.Dir, creating the directory if
// necessary.
func Open(opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create update log dir")
	}
	return &Store{
		dir:   opts.Dir,
		log:   log,
		files: make(map[model.SegmentKey]*logFile),
	}, nil
}

// Append durably appends entry to the (table, segment) log.
func (s *Store) Append(table, segment string, entry Entry) error {
	lf, err := s.openForAppend(table, segment)
	if err != nil {
		return errors.Wrap(err, "append update log entry")
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := gob.NewEncoder(lf.f).Encode(entry); err != nil {
		return errors.Wrap(err, "encode update log entry")
	}
	return lf.f.Sync()
}

// GetAll returns every durable entry recorded for (table, segment), in
// the order they were appended. No ordering across entries with the
// same SourceOffset is guaranteed.
func (s *Store) GetAll(table, segment string) ([]Entry, error) {
	path := s.path(table, segment)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open update log for scan")
	}
	defer f.Close()

	// Append encodes every entry with its own gob encoder, so each entry
	// carries its own type definition and is read with its own decoder.
	var entries []Entry
	r := bufio.NewReader(f)
	for {
		var e Entry
		if err := gob.NewDecoder(r).Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "decode update log entry")
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close flushes and releases all open file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, lf := range s.files {
		if err := lf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = make(map[model.SegmentKey]*logFile)
	return firstErr
}

func (s *Store) openForAppend(table, segment string) (*logFile, error) {
	key := model.SegmentKey{Table: table, Segment: segment}
	s.mu.Lock()
	if lf, ok := s.files[key]; ok {
		s.mu.Unlock()
		return lf, nil
	}
	s.mu.Unlock()

	path := s.path(table, segment)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if lf, ok := s.files[key]; ok {
		f.Close()
		return lf, nil
	}
	lf := &logFile{f: f}
	s.files[key] = lf
	return lf, nil
}

func (s *Store) path(table, segment string) string {
	return filepath.Join(s.dir, table, fmt.Sprintf("%s%s", segment, logFileSuffix))
}
