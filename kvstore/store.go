// Package kvstore implements the key coordinator's key→context store:
// a durable embedded KV mapping primary-key bytes to the last-seen
// MessageContext for that key, namespaced per table.
package kvstore

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/segmentstream/upsertengine/model"
)

// Options configures a Store.
type Options struct {
	Path   string
	Logger logrus.FieldLogger
}

// Store is the embedded KV engine. Its contract — MultiGet/MultiPut over
// byte keys, namespaced by table — is the only thing this package
// exposes; the storage engine backing it (bbolt) is an implementation
// detail.
type Store struct {
	db  *bolt.DB
	log logrus.FieldLogger
}

// Open opens (creating if necessary) the on-disk KV store at opts.Path.
func Open(opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open kv store")
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Table returns a namespaced handle scoped to the given table name.
// Tables are independent: a key in one table never collides with the
// same bytes in another.
func (s *Store) Table(name string) (*Table, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create table %q", name)
	}
	return &Table{db: s.db, name: []byte(name), log: s.log.WithField("table", name)}, nil
}

// Table is a namespaced key→MessageContext handle.
type Table struct {
	db   *bolt.DB
	name []byte
	log  logrus.FieldLogger
}

// MultiGet fetches the current context for each of keys. Absent keys are
// omitted from the returned map.
func (t *Table) MultiGet(keys []model.PrimaryKey) (map[string]model.MessageContext, error) {
	out := make(map[string]model.MessageContext, len(keys))
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.name)
		if b == nil {
			return nil
		}
		for _, k := range keys {
			raw := b.Get(k)
			if raw == nil {
				continue
			}
			var ctx model.MessageContext
			if err := json.Unmarshal(raw, &ctx); err != nil {
				return errors.Wrapf(err, "decode context for key %q", k)
			}
			out[k.Key()] = ctx
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "multiGet")
	}
	return out, nil
}

// MultiPut atomically writes every (key, context) pair in m. It returns
// only after the write is durable; a subsequent MultiGet is guaranteed to
// observe it (the store's commit contract).
func (t *Table) MultiPut(m map[string]PutEntry) error {
	if len(m) == 0 {
		return nil
	}
	err := t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.name)
		if b == nil {
			var err error
			b, err = tx.CreateBucket(t.name)
			if err != nil {
				return err
			}
		}
		for _, entry := range m {
			raw, err := json.Marshal(entry.Context)
			if err != nil {
				return errors.Wrapf(err, "encode context for key %q", entry.Key)
			}
			if err := b.Put(entry.Key, raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "multiPut")
	}
	t.log.WithField("count", len(m)).Debug("multiPut committed")
	return nil
}

// PutEntry pairs a raw key with the context to write for it; MultiPut
// takes a map keyed by the string form of the key (so callers can
// dedup by key) but still needs the original bytes to put.
type PutEntry struct {
	Key     model.PrimaryKey
	Context model.MessageContext
}

// NewPutEntry constructs a PutEntry for use with MultiPut.
func NewPutEntry(key model.PrimaryKey, ctx model.MessageContext) PutEntry {
	return PutEntry{Key: key, Context: ctx}
}
