package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"backfill/internal/dataset"
	"backfill/internal/retry"
	"backfill/internal/source"
	"backfill/internal/storage"
)

var errTransient = errors.New("transient warehouse error")

type fakeTable struct {
	cols []storage.ColumnSpec
	rows []map[string]any
}

// fakeSession is an in-memory storage.Session. Table names are keyed by
// TableRef.Name only. fail[op] makes the next n calls of op fail.
type fakeSession struct {
	mu      sync.Mutex
	tables  map[string]*fakeTable
	calls   []string
	fail    map[string]int
	staging int
	closed  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{tables: map[string]*fakeTable{}, fail: map[string]int{}}
}

func (s *fakeSession) record(op string) error {
	s.calls = append(s.calls, op)
	if s.fail[op] > 0 {
		s.fail[op]--
		return fmt.Errorf("%s: %w", op, errTransient)
	}
	return nil
}

func (s *fakeSession) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == op {
			n++
		}
	}
	return n
}

func matches(row map[string]any, filters []storage.Eq) bool {
	for _, f := range filters {
		if row[f.Column] != f.Value {
			return false
		}
	}
	return true
}

func (s *fakeSession) TableExists(_ context.Context, t storage.TableRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("exists"); err != nil {
		return false, err
	}
	_, ok := s.tables[t.Name]
	return ok, nil
}

func (s *fakeSession) TableColumns(_ context.Context, t storage.TableRef) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("columns"); err != nil {
		return nil, err
	}
	tbl, ok := s.tables[t.Name]
	if !ok {
		return nil, fmt.Errorf("no table %s", t)
	}
	return storage.ColumnNames(tbl.cols), nil
}

func (s *fakeSession) CreateTable(_ context.Context, t storage.TableRef, cols []storage.ColumnSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("create"); err != nil {
		return err
	}
	s.tables[t.Name] = &fakeTable{cols: cols}
	return nil
}

func (s *fakeSession) CountRows(_ context.Context, t storage.TableRef, filters ...storage.Eq) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("count"); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range s.tables[t.Name].rows {
		if matches(r, filters) {
			n++
		}
	}
	return n, nil
}

func (s *fakeSession) DeleteRows(_ context.Context, t storage.TableRef, filters ...storage.Eq) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("delete"); err != nil {
		return 0, err
	}
	tbl := s.tables[t.Name]
	kept := tbl.rows[:0]
	var n int64
	for _, r := range tbl.rows {
		if matches(r, filters) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	tbl.rows = kept
	return n, nil
}

func (s *fakeSession) TruncateTable(_ context.Context, t storage.TableRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("truncate"); err != nil {
		return err
	}
	s.tables[t.Name].rows = nil
	return nil
}

func (s *fakeSession) CreateStagingTable(_ context.Context, like storage.TableRef) (storage.TableRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("stage"); err != nil {
		return storage.TableRef{}, err
	}
	s.staging++
	ref := like.Sibling(fmt.Sprintf("TMP_%d", s.staging))
	s.tables[ref.Name] = &fakeTable{cols: s.tables[like.Name].cols}
	return ref, nil
}

func (s *fakeSession) BulkWrite(_ context.Context, t storage.TableRef, columns []string, rows [][]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("bulk"); err != nil {
		return 0, err
	}
	tbl := s.tables[t.Name]
	for _, vals := range rows {
		r := make(map[string]any, len(columns))
		for i, c := range columns {
			r[c] = vals[i]
		}
		tbl.rows = append(tbl.rows, r)
	}
	return int64(len(rows)), nil
}

func (s *fakeSession) InsertSelect(_ context.Context, dst, src storage.TableRef) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("insert_select"); err != nil {
		return 0, err
	}
	moved := s.tables[src.Name].rows
	s.tables[dst.Name].rows = append(s.tables[dst.Name].rows, moved...)
	return int64(len(moved)), nil
}

func (s *fakeSession) DropTable(_ context.Context, t storage.TableRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("drop"); err != nil {
		return err
	}
	delete(s.tables, t.Name)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// stagingLeft reports staging tables that were never dropped.
func (s *fakeSession) stagingLeft() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.tables {
		if strings.HasPrefix(name, "TMP_") {
			out = append(out, name)
		}
	}
	return out
}

func (s *fakeSession) rows(name string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tbl, ok := s.tables[name]; ok {
		return tbl.rows
	}
	return nil
}

// fakeWarehouse hands out the same session on every Connect.
type fakeWarehouse struct {
	sess     *fakeSession
	connects int
}

func (w *fakeWarehouse) Connect(context.Context) (storage.Session, error) {
	w.connects++
	return w.sess, nil
}

func (w *fakeWarehouse) Close() error { return nil }

// fakeFetcher serves CSV bodies by file name. Missing files fail like a 404.
type fakeFetcher struct {
	mu    sync.Mutex
	files map[string]string
	calls map[string]int
	order []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: map[string]string{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, loc source.Location, _ source.Spec) (*dataset.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[loc.File]++
	f.order = append(f.order, loc.File)
	body, ok := f.files[loc.File]
	if !ok {
		return nil, &source.FetchError{URL: loc.URL, StatusCode: 404, Err: source.ErrNotFound}
	}
	return dataset.DecodeCSV([]byte(body), dataset.DefaultCSVOptions())
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// tripCSV returns a two-column trip file with rows rows.
func tripCSV(rows int) string {
	var b strings.Builder
	b.WriteString("VendorID,fare_amount\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,%d.5\n", i%2+1, i)
	}
	return b.String()
}

func mustDecode(t *testing.T, body string) *dataset.Dataset {
	t.Helper()
	d, err := dataset.DecodeCSV([]byte(body), dataset.DefaultCSVOptions())
	if err != nil {
		t.Fatalf("DecodeCSV: %v", err)
	}
	return d
}

// fastPolicy retries without waiting.
func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, Multiplier: 2}
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(wh storage.Warehouse, f Fetcher, opts ...Option) *Orchestrator {
	base := []Option{
		WithFetcher(f),
		WithRetryPolicy(fastPolicy(1)),
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(zap.NewNop()),
		WithReclaim(func() {}),
	}
	return New(wh, append(base, opts...)...)
}
