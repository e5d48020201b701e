package postgres

import "backfill/internal/storage"

func init() {
	// registers the warehouse backend factory
	storage.Register("postgres", Open, DDL)
}
