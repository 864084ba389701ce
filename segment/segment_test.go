package segment

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/segmentstream/upsertengine/model"
	"github.com/segmentstream/upsertengine/updatelog"
	"github.com/segmentstream/upsertengine/watermark"
)

// fakeOffsetColumn is a stand-in for the out-of-scope forward-index
// column reader: a dense []int64 addressed by docId.
type fakeOffsetColumn struct {
	name    string
	offsets []int64
}

func (f *fakeOffsetColumn) Name() string { return f.name }
func (f *fakeOffsetColumn) ReadLong(docID int) (int64, error) {
	return f.offsets[docID], nil
}

type untypedColumn struct{}

func (untypedColumn) Name() string { return "untyped" }

func newTestSegment(t *testing.T, offsets []int64) (*Segment, *updatelog.Store, *watermark.Manager) {
	t.Helper()
	ul, err := updatelog.Open(updatelog.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	wm, err := watermark.Open(watermark.Options{})
	require.NoError(t, err)

	meta := Metadata{
		Table:         "orders",
		Name:          "s1",
		TotalDocs:     len(offsets),
		UpsertEnabled: true,
		OffsetColumn:  &fakeOffsetColumn{name: "offset", offsets: offsets},
	}
	seg, err := Open(meta, ul, wm, OpenOptions{IndexDir: filepath.Join(t.TempDir(), "idx")})
	require.NoError(t, err)
	return seg, ul, wm
}

func TestOpen_RejectsNonUpsertSchema(t *testing.T) {
	_, err := Open(Metadata{UpsertEnabled: false}, nil, nil, OpenOptions{})
	require.ErrorIs(t, err, ErrNotUpsertEnabled)
}

func TestOpen_RejectsUnrecognizedColumnReader(t *testing.T) {
	_, err := Open(Metadata{
		UpsertEnabled: true,
		OffsetColumn:  untypedColumn{},
	}, nil, nil, OpenOptions{})
	require.ErrorIs(t, err, ErrUnrecognizedReader)
}

func TestDocIdOf_RoundTrip(t *testing.T) {
	seg, _, _ := newTestSegment(t, []int64{100, 102, 105})

	for docID, offset := range []int64{100, 102, 105} {
		got, err := seg.index.DocIdOf(offset)
		require.NoError(t, err)
		require.Equal(t, int32(docID), got)
	}
}

func TestDocIdOf_OutOfRangeAndNotFound(t *testing.T) {
	seg, _, _ := newTestSegment(t, []int64{100, 102, 105})

	_, err := seg.index.DocIdOf(99)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = seg.index.DocIdOf(106)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = seg.index.DocIdOf(101)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReplay_GroupsBySourceOffsetAndDropsMissingSlots(t *testing.T) {
	seg, ul, wm := newTestSegment(t, []int64{100, 102, 105})

	require.NoError(t, ul.Append("orders", "s1", updatelog.Entry{SourceOffset: 100, Value: 7, Kind: model.Insert}))
	require.NoError(t, ul.Append("orders", "s1", updatelog.Entry{SourceOffset: 105, Value: 9, Kind: model.Delete}))
	require.NoError(t, ul.Append("orders", "s1", updatelog.Entry{SourceOffset: 101, Value: 1, Kind: model.Insert}))

	require.NoError(t, seg.InitVirtualColumn())

	v, ok, err := seg.Get(100, model.Insert)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), v)

	v, ok, err = seg.Get(105, model.Delete)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), v)

	require.Equal(t, int64(105), wm.Get("orders", "s1"))
}

func TestUpdateVirtualColumn_Idempotent(t *testing.T) {
	seg, _, _ := newTestSegment(t, []int64{100, 102, 105})

	entry := UpdateEntry{TargetOffset: 100, Value: 42, Kind: model.Insert}
	require.NoError(t, seg.UpdateVirtualColumn([]UpdateEntry{entry}))
	require.NoError(t, seg.UpdateVirtualColumn([]UpdateEntry{entry}))

	v, ok, err := seg.Get(100, model.Insert)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), v)
}

func TestUpdateVirtualColumn_BestEffortReturnsFirstError(t *testing.T) {
	seg, _, _ := newTestSegment(t, []int64{100, 102, 105})

	entries := []UpdateEntry{
		{TargetOffset: 999, Value: 1, Kind: model.Insert}, // out of range
		{TargetOffset: 100, Value: 5, Kind: model.Insert}, // still applied
	}
	err := seg.UpdateVirtualColumn(entries)
	require.ErrorIs(t, err, ErrOutOfRange)

	v, ok, err := seg.Get(100, model.Insert)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), v)
}

func TestUpdateVirtualColumn_WatermarkMonotonic(t *testing.T) {
	seg, _, wm := newTestSegment(t, []int64{30, 50, 60, 70})

	for _, off := range []int64{50, 30, 70, 60} {
		require.NoError(t, seg.UpdateVirtualColumn([]UpdateEntry{{TargetOffset: off, Value: off, Kind: model.Insert}}))
	}

	require.Equal(t, int64(70), wm.Get("orders", "s1"))
}

func TestReplayTwiceIsIdempotent(t *testing.T) {
	seg, ul, _ := newTestSegment(t, []int64{100})
	require.NoError(t, ul.Append("orders", "s1", updatelog.Entry{SourceOffset: 100, Value: 7, Kind: model.Insert}))

	require.NoError(t, seg.InitVirtualColumn())
	v1, _, _ := seg.Get(100, model.Insert)

	require.NoError(t, seg.InitVirtualColumn())
	v2, _, _ := seg.Get(100, model.Insert)

	require.Equal(t, v1, v2)
}
