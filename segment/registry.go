package segment

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/segmentstream/upsertengine/model"
	"github.com/segmentstream/upsertengine/updatelog"
	"github.com/segmentstream/upsertengine/watermark"
)

// Opener opens the sealed segment named by key, producing the Metadata
// a Segment needs. The segment file format itself is a separate
// concern; the registry only needs something that can hand back
// Metadata on demand.
type Opener interface {
	OpenMetadata(key model.SegmentKey) (Metadata, error)
}

// Registry bounds the number of concurrently open *Segment instances
// (and their memory-mapped offset indexes), evicting the
// least-recently-used one once over capacity.
type Registry struct {
	mu        sync.Mutex
	cache     *lru.Cache
	opener    Opener
	updateLog *updatelog.Store
	wm        *watermark.Manager
	opts      OpenOptions
	log       logrus.FieldLogger
}

// NewRegistry constructs a Registry with room for capacity concurrently
// open segments.
func NewRegistry(capacity int, opener Opener, updateLog *updatelog.Store, wm *watermark.Manager, opts OpenOptions) (*Registry, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Registry{
		opener:    opener,
		updateLog: updateLog,
		wm:        wm,
		opts:      opts,
		log:       log,
	}
	cache, err := lru.NewWithEvict(capacity, r.onEvict)
	if err != nil {
		return nil, errors.Wrap(err, "create segment LRU")
	}
	r.cache = cache
	return r, nil
}

// Get returns the open Segment for key, opening and replaying it on
// first access.
func (r *Registry) Get(key model.SegmentKey) (*Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.cache.Get(key); ok {
		return v.(*Segment), nil
	}

	meta, err := r.opener.OpenMetadata(key)
	if err != nil {
		return nil, errors.Wrapf(err, "open metadata for %s/%s", key.Table, key.Segment)
	}
	seg, err := Open(meta, r.updateLog, r.wm, r.opts)
	if err != nil {
		return nil, err
	}
	if err := seg.InitVirtualColumn(); err != nil {
		seg.Close()
		return nil, errors.Wrap(err, "replay update log")
	}
	r.cache.Add(key, seg)
	return seg, nil
}

// Evict closes and removes key from the registry, if present.
func (r *Registry) Evict(key model.SegmentKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(key)
}

func (r *Registry) onEvict(key interface{}, value interface{}) {
	seg := value.(*Segment)
	if err := seg.Close(); err != nil {
		r.log.WithError(err).WithField("key", fmt.Sprint(key)).Warn("failed to close evicted segment")
	}
}

// Len returns the number of currently open segments.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
