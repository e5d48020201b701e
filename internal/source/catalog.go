// Package source resolves (service, year, month) to the remote file that holds
// it and downloads and decodes that file.
package source

import (
	"fmt"
	"path"
	"strings"

	"backfill/internal/dataset"
	"backfill/internal/storage"
)

const (
	DefaultBaseURL      = "https://d37ci6vzurychx.cloudfront.net/trip-data"
	DefaultReferenceURL = "https://d37ci6vzurychx.cloudfront.net/misc/taxi_zone_lookup.csv"

	// ReferenceService is the lookup dataset without a period dimension.
	ReferenceService = "taxi_zones"
)

// Spec describes how a service's files are located and decoded.
type Spec struct {
	Service string
	Format  dataset.Format

	// Reference datasets have one file regardless of year and month.
	Reference bool
}

// Location is a resolved remote file.
type Location struct {
	URL  string
	File string
}

// Catalog maps services to remote files.
type Catalog struct {
	BaseURL      string
	ReferenceURL string
}

// DefaultCatalog points at the public trip record CDN.
func DefaultCatalog() Catalog {
	return Catalog{BaseURL: DefaultBaseURL, ReferenceURL: DefaultReferenceURL}
}

// Spec returns the dataset spec for service. Every service other than the
// reference one is a monthly parquet dataset.
func (c Catalog) Spec(service string) Spec {
	if service == ReferenceService {
		return Spec{Service: service, Format: dataset.FormatCSV, Reference: true}
	}
	return Spec{Service: service, Format: dataset.FormatParquet}
}

// ResolveURL maps (service, period) to its remote file. The period is ignored
// for the reference dataset.
func (c Catalog) ResolveURL(service string, p storage.Period) Location {
	if c.Spec(service).Reference {
		u := c.referenceURL()
		return Location{URL: u, File: path.Base(u)}
	}
	file := fmt.Sprintf("%s_tripdata_%04d-%02d%s", service, p.Year, p.Month, dataset.FormatParquet.Ext())
	return Location{URL: strings.TrimRight(c.baseURL(), "/") + "/" + file, File: file}
}

func (c Catalog) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

func (c Catalog) referenceURL() string {
	if c.ReferenceURL == "" {
		return DefaultReferenceURL
	}
	return c.ReferenceURL
}
