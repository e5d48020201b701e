package backfill_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"backfill/internal/backfill"
	"backfill/internal/dataset/datasettest"
	"backfill/internal/retry"
	"backfill/internal/source"
	"backfill/internal/storage"
	_ "backfill/internal/storage/sqlite"
)

// tripServer serves yellow files for the months in rows and 404 otherwise.
func tripServer(t *testing.T, rows map[string]int) *httptest.Server {
	t.Helper()
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	files := make(map[string][]byte, len(rows)+1)
	for name, n := range rows {
		files["/trip-data/"+name] = datasettest.TripParquet(t, n, start)
	}
	files["/misc/taxi_zone_lookup.csv"] = datasettest.ZonesCSV(5)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openSQLite(t *testing.T) storage.Warehouse {
	t.Helper()
	wh, err := storage.Open(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "warehouse.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })
	return wh
}

func count(t *testing.T, wh storage.Warehouse, table string, filters ...storage.Eq) int64 {
	t.Helper()
	sess, err := wh.Connect(context.Background())
	require.NoError(t, err)
	defer sess.Close()
	n, err := sess.CountRows(context.Background(), storage.TableRef{Name: table}, filters...)
	require.NoError(t, err)
	return n
}

func TestBackfill_SQLite(t *testing.T) {
	t.Parallel()

	srv := tripServer(t, map[string]int{
		"yellow_tripdata_2015-01.parquet": 25,
		"yellow_tripdata_2015-03.parquet": 4,
	})
	wh := openSQLite(t)
	o := backfill.New(wh,
		backfill.WithCatalog(source.Catalog{
			BaseURL:      srv.URL + "/trip-data",
			ReferenceURL: srv.URL + "/misc/taxi_zone_lookup.csv",
		}),
		backfill.WithRetryPolicy(retry.Policy{Multiplier: 2}),
		backfill.WithLogger(zaptest.NewLogger(t)),
		backfill.WithReclaim(func() {}),
	)
	ctx := context.Background()

	s, err := o.Run(ctx, backfill.Params{Months: "1,2,3", ChunkSize: 10, MaxRetries: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, s.MonthsSuccessful)
	assert.Equal(t, 1, s.MonthsGap)
	assert.EqualValues(t, 29, s.TotalRowsLoaded)

	jan := []storage.Eq{{Column: "_data_year", Value: int64(2015)}, {Column: "_data_month", Value: int64(1)}}
	assert.EqualValues(t, 25, count(t, wh, "YELLOW_TRIPDATA", jan...))
	assert.EqualValues(t, 3, count(t, wh, backfill.AuditTableName))
	assert.EqualValues(t, 1, count(t, wh, backfill.AuditTableName, storage.Eq{Column: "gap", Value: true}))

	// a second run skips, a forced one replaces
	s, err = o.Run(ctx, backfill.Params{Months: 1, ChunkSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, s.MonthsSkipped)

	s, err = o.Run(ctx, backfill.Params{Months: 1, ChunkSize: 7, ForceReload: true})
	require.NoError(t, err)
	assert.Equal(t, 1, s.MonthsSuccessful)
	assert.EqualValues(t, 25, count(t, wh, "YELLOW_TRIPDATA", jan...))
	assert.EqualValues(t, 29, count(t, wh, "YELLOW_TRIPDATA"))

	// reference data lands in its own table
	s, err = o.Run(ctx, backfill.Params{Service: source.ReferenceService, Months: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, s.MonthsSuccessful)
	assert.EqualValues(t, 5, count(t, wh, "TAXI_ZONES"))
}
