package transformer

import (
	"time"

	"backfill/internal/storage"
)

// Metadata column names appended to every loaded row.
const (
	ColRunID       = "_run_id"
	ColBatchRunID  = "_batch_run_id"
	ColIngestTS    = "_ingest_ts"
	ColSourceFile  = "_source_file"
	ColServiceType = "_service_type"
	ColDataYear    = "_data_year"
	ColDataMonth   = "_data_month"
)

// Meta is the provenance attached to each row of one month's load.
type Meta struct {
	RunID      string
	BatchRunID string
	IngestTS   time.Time
	SourceFile string
	Service    string

	// Period is nil for datasets without a period dimension; the year/month
	// columns are then omitted.
	Period *storage.Period
}

// MetaColumns lists the metadata columns in the order Annotate appends them.
func MetaColumns(periodic bool) []storage.ColumnSpec {
	cols := []storage.ColumnSpec{
		{Name: ColRunID, Kind: storage.KindText},
		{Name: ColBatchRunID, Kind: storage.KindText},
		{Name: ColIngestTS, Kind: storage.KindTimestamp},
		{Name: ColSourceFile, Kind: storage.KindText},
		{Name: ColServiceType, Kind: storage.KindText},
	}
	if periodic {
		cols = append(cols,
			storage.ColumnSpec{Name: ColDataYear, Kind: storage.KindInteger},
			storage.ColumnSpec{Name: ColDataMonth, Kind: storage.KindInteger},
		)
	}
	return cols
}

func (m Meta) Columns() []storage.ColumnSpec { return MetaColumns(m.Period != nil) }

// Values returns the metadata values aligned with m.Columns().
func (m Meta) Values() []any {
	vals := []any{m.RunID, m.BatchRunID, m.IngestTS, m.SourceFile, m.Service}
	if m.Period != nil {
		vals = append(vals, int64(m.Period.Year), int64(m.Period.Month))
	}
	return vals
}

// Annotate appends m's values to every row.
func Annotate(rows []*Row, m Meta) {
	vals := m.Values()
	for _, r := range rows {
		r.V = append(r.V, vals...)
	}
}
