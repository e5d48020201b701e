package backfill

import (
	"strings"

	"backfill/internal/source"
	"backfill/internal/storage"
	"backfill/internal/transformer"
)

// AuditTableName is the append-only coverage log shared by every service.
const AuditTableName = "AUDIT_COVERAGE"

// TableName derives the destination table for service.
func TableName(service string) string {
	if service == source.ReferenceService {
		return "TAXI_ZONES"
	}
	return strings.ToUpper(service) + "_TRIPDATA"
}

// referenceColumns is the fixed schema of the zone lookup dataset.
var referenceColumns = []storage.ColumnSpec{
	{Name: "LocationID", Kind: storage.KindInteger},
	{Name: "Borough", Kind: storage.KindText},
	{Name: "Zone", Kind: storage.KindText},
	{Name: "service_zone", Kind: storage.KindText},
}

// Coverage column names.
const (
	colCoverageService  = "service_type"
	colCoverageYear     = "data_year"
	colCoverageMonth    = "data_month"
	colCoverageRowCount = "row_count"
	colCoverageGap      = "gap"
	colCoverageAt       = "registered_at"
)

var coverageColumns = []storage.ColumnSpec{
	{Name: colCoverageService, Kind: storage.KindText},
	{Name: colCoverageYear, Kind: storage.KindInteger},
	{Name: colCoverageMonth, Kind: storage.KindInteger},
	{Name: colCoverageRowCount, Kind: storage.KindInteger},
	{Name: colCoverageGap, Kind: storage.KindBoolean},
	{Name: colCoverageAt, Kind: storage.KindTimestamp},
}

func periodFilters(p storage.Period) []storage.Eq {
	return []storage.Eq{
		{Column: transformer.ColDataYear, Value: int64(p.Year)},
		{Column: transformer.ColDataMonth, Value: int64(p.Month)},
	}
}
