package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backfill/internal/dataset"
	"backfill/internal/dataset/datasettest"
	"backfill/internal/storage"
)

func TestCatalog_ResolveURL(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	tests := []struct {
		name    string
		service string
		period  storage.Period
		want    Location
	}{
		{
			name:    "tabular",
			service: "yellow",
			period:  storage.Period{Year: 2015, Month: 3},
			want: Location{
				URL:  "https://d37ci6vzurychx.cloudfront.net/trip-data/yellow_tripdata_2015-03.parquet",
				File: "yellow_tripdata_2015-03.parquet",
			},
		},
		{
			name:    "reference_ignores_period",
			service: ReferenceService,
			period:  storage.Period{Year: 1999, Month: 12},
			want: Location{
				URL:  "https://d37ci6vzurychx.cloudfront.net/misc/taxi_zone_lookup.csv",
				File: "taxi_zone_lookup.csv",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ResolveURL(tt.service, tt.period); got != tt.want {
				t.Fatalf("ResolveURL()=%+v, want %+v", got, tt.want)
			}
		})
	}

	custom := Catalog{BaseURL: "http://host/data/"}
	assert.Equal(t, "http://host/data/green_tripdata_2020-01.parquet", custom.ResolveURL("green", storage.Period{Year: 2020, Month: 1}).URL)
	assert.Equal(t, DefaultReferenceURL, custom.ResolveURL(ReferenceService, storage.Period{}).URL)
}

func TestCatalog_Spec(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	assert.Equal(t, Spec{Service: "fhv", Format: dataset.FormatParquet}, c.Spec("fhv"))
	assert.Equal(t, Spec{Service: ReferenceService, Format: dataset.FormatCSV, Reference: true}, c.Spec(ReferenceService))
}

func TestFetcher_Fetch(t *testing.T) {
	t.Parallel()

	trips := datasettest.TripParquet(t, 7, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trip-data/yellow_tripdata_2015-01.parquet":
			_, _ = w.Write(trips)
		case "/misc/taxi_zone_lookup.csv":
			_, _ = w.Write(datasettest.ZonesCSV(4))
		case "/trip-data/broken_tripdata_2015-01.parquet":
			_, _ = w.Write([]byte("garbage"))
		case "/trip-data/flaky_tripdata_2015-01.parquet":
			http.Error(w, "busy", http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cat := Catalog{BaseURL: srv.URL + "/trip-data", ReferenceURL: srv.URL + "/misc/taxi_zone_lookup.csv"}
	f := NewFetcher(WithHTTPClient(srv.Client()))
	ctx := context.Background()
	p := storage.Period{Year: 2015, Month: 1}

	d, err := f.Fetch(ctx, cat.ResolveURL("yellow", p), cat.Spec("yellow"))
	require.NoError(t, err)
	assert.EqualValues(t, 7, d.NumRows())
	assert.Equal(t, datasettest.TripColumns, d.Columns())
	d.Release()

	d, err = f.Fetch(ctx, cat.ResolveURL(ReferenceService, p), cat.Spec(ReferenceService))
	require.NoError(t, err)
	assert.EqualValues(t, 4, d.NumRows())
	d.Release()

	_, err = f.Fetch(ctx, cat.ResolveURL("yellow", storage.Period{Year: 2099, Month: 1}), cat.Spec("yellow"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)

	_, err = f.Fetch(ctx, cat.ResolveURL("flaky", p), cat.Spec("flaky"))
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.True(t, IsFetchError(err))

	_, err = f.Fetch(ctx, cat.ResolveURL("broken", p), cat.Spec("broken"))
	require.Error(t, err)
	assert.False(t, IsFetchError(err), "decode failures are not transport errors")
}

func TestFetcher_CanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("a\n1\n"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFetcher().Fetch(ctx, Location{URL: srv.URL, File: "x.csv"}, Spec{Format: dataset.FormatCSV})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
