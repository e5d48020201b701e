// Package all links every warehouse backend into the binary.
package all

import (
	_ "backfill/internal/storage/duckdb"
	_ "backfill/internal/storage/mssql"
	_ "backfill/internal/storage/postgres"
	_ "backfill/internal/storage/snowflake"
	_ "backfill/internal/storage/sqlite"
)
