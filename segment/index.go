package segment

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tysonmote/gommap"
)

var enc = binary.BigEndian

const docIdWidth = 4

// ColumnReader is the minimal capability every column reader on a
// segment exposes. The actual column/forward-index storage format is
// a separate concern; this module only requires the capability it
// needs.
type ColumnReader interface {
	Name() string
}

// LongColumnReader is the typed capability the offset column must
// expose: a per-docId int64 reader. Segment construction fails fast
// (ConfigError) if the configured offset-column reader does not
// implement this interface — we never rely on runtime type
// introspection beyond this one assertion.
type LongColumnReader interface {
	ColumnReader
	ReadLong(docID int) (int64, error)
}

// OffsetIndex is the dense offset→docId lookup. It is built once
// from a full scan of a segment's offset column and is read-only
// thereafter. The backing array is memory-mapped so segments with
// millions of rows don't duplicate the index on the Go heap.
type OffsetIndex struct {
	minOffset int64
	length    int64
	file      *os.File
	mmap      gommap.MMap
}

// BuildOffsetIndex scans reader over [0, totalDocs) to collect every
// (sourceOffset, docId) pair, then materializes the dense array at
// path.
func BuildOffsetIndex(path string, reader LongColumnReader, totalDocs int) (*OffsetIndex, error) {
	if totalDocs < 0 {
		return nil, errors.Wrap(ErrInvalidTotalDocs, "build offset index")
	}

	type pair struct {
		offset int64
		docID  int32
	}
	pairs := make([]pair, 0, totalDocs)
	var min, max int64
	first := true
	for docID := 0; docID < totalDocs; docID++ {
		off, err := reader.ReadLong(docID)
		if err != nil {
			return nil, errors.Wrapf(err, "read offset column at docId %d", docID)
		}
		pairs = append(pairs, pair{offset: off, docID: int32(docID)})
		if first || off < min {
			min = off
		}
		if first || off > max {
			max = off
		}
		first = false
	}

	length := int64(0)
	if !first {
		length = max - min + 1
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create offset index dir")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open offset index file")
	}
	size := length * docIdWidth
	if size == 0 {
		// gommap requires a non-empty mapping; keep a minimal one-slot
		// file for an empty segment so Close/sync still work uniformly.
		size = docIdWidth
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "size offset index file")
	}
	m, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap offset index file")
	}

	empty := int32(-1)
	for slot := int64(0); slot*docIdWidth < int64(len(m)); slot++ {
		enc.PutUint32(m[slot*docIdWidth:slot*docIdWidth+docIdWidth], uint32(empty))
	}

	idx := &OffsetIndex{minOffset: min, length: length, file: f, mmap: m}
	for _, p := range pairs {
		slot := p.offset - min
		cur := int32(enc.Uint32(m[slot*docIdWidth : slot*docIdWidth+docIdWidth]))
		if cur != -1 {
			idx.Close()
			return nil, errors.Wrapf(ErrDuplicateSourceOffset, "offset %d already mapped to docId %d", p.offset, cur)
		}
		enc.PutUint32(m[slot*docIdWidth:slot*docIdWidth+docIdWidth], uint32(p.docID))
	}
	if err := m.Sync(gommap.MS_SYNC); err != nil {
		idx.Close()
		return nil, errors.Wrap(err, "sync offset index")
	}

	return idx, nil
}

// DocIdOf resolves a source offset to its local row id. It returns
// ErrOutOfRange if offset falls outside the segment's observed range,
// or ErrNotFound if the slot within range has no row.
func (oi *OffsetIndex) DocIdOf(offset int64) (int32, error) {
	if offset < oi.minOffset {
		return 0, ErrOutOfRange
	}
	slot := offset - oi.minOffset
	if slot >= oi.length {
		return 0, ErrOutOfRange
	}
	docID := int32(enc.Uint32(oi.mmap[slot*docIdWidth : slot*docIdWidth+docIdWidth]))
	if docID == -1 {
		return 0, ErrNotFound
	}
	return docID, nil
}

// MinOffset returns the lowest source offset observed when the index
// was built.
func (oi *OffsetIndex) MinOffset() int64 {
	return oi.minOffset
}

// Len returns the number of slots in the dense array (max-min+1).
func (oi *OffsetIndex) Len() int64 {
	return oi.length
}

// Close flushes and releases the memory-mapped index file.
func (oi *OffsetIndex) Close() error {
	if oi.mmap != nil {
		if err := oi.mmap.Sync(gommap.MS_SYNC); err != nil {
			return err
		}
	}
	if oi.file != nil {
		return oi.file.Close()
	}
	return nil
}
