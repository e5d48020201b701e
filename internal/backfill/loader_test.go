package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backfill/internal/retry"
	"backfill/internal/source"
	"backfill/internal/storage"
	"backfill/internal/transformer"
)

type loadFixture struct {
	sess  *fakeSession
	dest  storage.TableRef
	meta  transformer.Meta
	cols  []storage.ColumnSpec
	table []string
}

// newLoadFixture decodes a trip file of rows rows and creates its table.
func newLoadFixture(t *testing.T, rows int) (*loadFixture, func() int64, func(l *Loader, size int) (int64, error)) {
	t.Helper()
	ctx := context.Background()
	f := &loadFixture{
		sess: newFakeSession(),
		dest: storage.TableRef{Name: "YELLOW_TRIPDATA"},
		meta: transformer.Meta{
			RunID:      "run-1",
			BatchRunID: "batch-1",
			IngestTS:   fixedNow,
			SourceFile: "yellow_tripdata_2015-01.parquet",
			Service:    "yellow",
			Period:     &storage.Period{Year: 2015, Month: 1},
		},
	}
	d := mustDecode(t, tripCSV(rows))
	t.Cleanup(d.Release)

	inferred, err := NewSchemaManager(fastPolicy(1), nil).Infer(source.Spec{Service: "yellow"}, d)
	require.NoError(t, err)
	f.table, err = NewSchemaManager(fastPolicy(1), nil).EnsureTable(ctx, f.sess, f.dest, inferred)
	require.NoError(t, err)
	f.cols = ChunkColumns(d.Columns(), inferred, f.meta)
	f.sess.calls = nil

	stored := func() int64 { return int64(len(f.sess.rows(f.dest.Name))) }
	load := func(l *Loader, size int) (int64, error) {
		chunks, err := d.Chunks(size)
		require.NoError(t, err)
		return l.Load(ctx, f.sess, f.dest, f.table, f.cols, chunks, f.meta)
	}
	return f, stored, load
}

func TestLoader_LoadsEveryRowInCeilChunks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		rows, size int
		wantChunks int
	}{
		{name: "uneven", rows: 25, size: 10, wantChunks: 3},
		{name: "exact", rows: 20, size: 10, wantChunks: 2},
		{name: "single_chunk", rows: 7, size: 1_000_000, wantChunks: 1},
		{name: "one_row_chunks", rows: 4, size: 1, wantChunks: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, stored, load := newLoadFixture(t, tt.rows)

			n, err := load(NewLoader(fastPolicy(1), nil, nil), tt.size)
			require.NoError(t, err)
			assert.EqualValues(t, tt.rows, n)
			assert.EqualValues(t, tt.rows, stored())
			assert.Equal(t, tt.wantChunks, f.sess.count("insert_select"))
			assert.Equal(t, tt.wantChunks, f.sess.count("drop"))
			assert.Empty(t, f.sess.stagingLeft())
		})
	}
}

func TestLoader_AnnotatesRows(t *testing.T) {
	t.Parallel()
	f, _, load := newLoadFixture(t, 3)

	_, err := load(NewLoader(fastPolicy(1), nil, nil), 2)
	require.NoError(t, err)

	rows := f.sess.rows(f.dest.Name)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, "run-1", r[transformer.ColRunID])
		assert.Equal(t, "batch-1", r[transformer.ColBatchRunID])
		assert.Equal(t, fixedNow, r[transformer.ColIngestTS])
		assert.Equal(t, "yellow_tripdata_2015-01.parquet", r[transformer.ColSourceFile])
		assert.Equal(t, "yellow", r[transformer.ColServiceType])
		assert.Equal(t, int64(2015), r[transformer.ColDataYear])
		assert.Equal(t, int64(1), r[transformer.ColDataMonth])
	}
	assert.Equal(t, "1", rows[0]["VendorID"])
	assert.Equal(t, "2.5", rows[2]["fare_amount"])
}

func TestLoader_RetriesChunk(t *testing.T) {
	t.Parallel()
	f, stored, load := newLoadFixture(t, 25)
	f.sess.fail["insert_select"] = 2

	var attempts []int
	l := NewLoader(fastPolicy(3), nil, nil, retry.WithNotify(func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	}))
	n, err := load(l, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 25, n)
	assert.EqualValues(t, 25, stored())
	assert.Equal(t, []int{1, 2}, attempts)
	// every attempt, failed or not, dropped its staging table
	assert.Equal(t, 5, f.sess.count("stage"))
	assert.Equal(t, 5, f.sess.count("drop"))
	assert.Empty(t, f.sess.stagingLeft())
}

func TestLoader_ExhaustedChunkKeepsCommittedChunks(t *testing.T) {
	t.Parallel()
	f, stored, _ := newLoadFixture(t, 25)

	// the first chunk commits, then bulk writes fail on both attempts
	sess := &armingSession{fakeSession: f.sess, op: "bulk", times: 2}
	chunks, err := mustDecode(t, tripCSV(25)).Chunks(10)
	require.NoError(t, err)

	n, err := NewLoader(fastPolicy(2), nil, nil).Load(context.Background(), sess, f.dest, f.table, f.cols, chunks, f.meta)
	require.Error(t, err)

	var ce *ChunkError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Index)
	assert.Equal(t, 3, ce.Total)
	assert.True(t, retry.IsRetriedOperationFailed(err))
	assert.Equal(t, CategoryRetryExhausted, Classify(err))
	assert.EqualValues(t, 10, n)
	assert.EqualValues(t, 10, stored())
	assert.Empty(t, f.sess.stagingLeft())
}

// armingSession arms times failures of op once the first INSERT ... SELECT
// has succeeded.
type armingSession struct {
	*fakeSession
	op    string
	times int
	armed bool
}

func (a *armingSession) InsertSelect(ctx context.Context, dst, src storage.TableRef) (int64, error) {
	n, err := a.fakeSession.InsertSelect(ctx, dst, src)
	if err == nil && !a.armed {
		a.armed = true
		a.fakeSession.mu.Lock()
		a.fakeSession.fail[a.op] = a.times
		a.fakeSession.mu.Unlock()
	}
	return n, err
}

func TestLoader_SchemaMismatch(t *testing.T) {
	t.Parallel()
	f, _, _ := newLoadFixture(t, 3)

	d := mustDecode(t, "VendorID,fare_amount,airport_fee\n1,2.5,0\n")
	chunks, err := d.Chunks(10)
	require.NoError(t, err)
	cols := ChunkColumns(d.Columns(), nil, f.meta)

	_, err = NewLoader(fastPolicy(3), nil, nil).Load(context.Background(), f.sess, f.dest, f.table, cols, chunks, f.meta)
	require.Error(t, err)
	assert.True(t, IsSchemaMismatch(err))
	assert.Equal(t, CategorySchemaMismatch, Classify(err))
	assert.Zero(t, f.sess.count("stage"), "mismatch is detected before any write")
}

func TestLoader_Reclaim(t *testing.T) {
	t.Parallel()
	_, _, load := newLoadFixture(t, 12)

	l := NewLoader(fastPolicy(1), nil, nil)
	calls := 0
	l.reclaim = func() { calls++ }
	_, err := load(l, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "reclaimed after chunks 5 and 10")
}

func TestStageAndCommit_DropsStagingOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		failOn string
	}{
		{name: "bulk_write", failOn: "bulk"},
		{name: "insert_select", failOn: "insert_select"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, stored, _ := newLoadFixture(t, 1)
			f.sess.fail[tt.failOn] = 1

			_, err := NewLoader(fastPolicy(1), nil, nil).StageAndCommit(context.Background(), f.sess, f.dest,
				[]string{"VendorID"}, [][]any{{"1"}})
			require.Error(t, err)
			assert.ErrorIs(t, err, errTransient)
			assert.Equal(t, 1, f.sess.count("drop"))
			assert.Empty(t, f.sess.stagingLeft())
			assert.Zero(t, stored())
		})
	}
}

func TestStageAndCommit_StagingCreateFails(t *testing.T) {
	t.Parallel()
	f, _, _ := newLoadFixture(t, 1)
	f.sess.fail["stage"] = 1

	_, err := NewLoader(fastPolicy(1), nil, nil).StageAndCommit(context.Background(), f.sess, f.dest,
		[]string{"VendorID"}, [][]any{{"1"}})
	require.Error(t, err)
	assert.Zero(t, f.sess.count("drop"))
}

func TestMatchColumns(t *testing.T) {
	t.Parallel()

	dest := storage.TableRef{Name: "T"}
	got, err := MatchColumns(dest, []string{"VENDORID", "_data_year"}, []storage.ColumnSpec{{Name: "_DATA_YEAR"}, {Name: "vendorId"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"_data_year", "VENDORID"}, got)

	_, err = MatchColumns(dest, []string{"a"}, []storage.ColumnSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	var sm *SchemaMismatchError
	require.True(t, errors.As(err, &sm))
	assert.Equal(t, []string{"b", "c"}, sm.Missing)
}

func TestChunkColumns(t *testing.T) {
	t.Parallel()

	meta := transformer.Meta{Period: &storage.Period{Year: 2020, Month: 5}}
	inferred := []storage.ColumnSpec{{Name: "locationid", Kind: storage.KindInteger}}
	got := ChunkColumns([]string{"LocationID", "Zone"}, inferred, meta)

	require.Len(t, got, 2+7)
	assert.Equal(t, storage.ColumnSpec{Name: "LocationID", Kind: storage.KindInteger}, got[0])
	assert.Equal(t, storage.ColumnSpec{Name: "Zone", Kind: storage.KindText}, got[1])
	assert.Equal(t, transformer.ColDataMonth, got[8].Name)
}
