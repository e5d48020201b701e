package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVOptions controls delimited-text decoding.
type CSVOptions struct {
	Comma      rune
	TrimSpace  bool
	LazyQuotes bool
}

// DefaultCSVOptions matches the reference lookup file: comma separated,
// quoted, surrounding whitespace trimmed.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Comma: ',', TrimSpace: true}
}

// DecodeCSV decodes a CSV file whose first record is the header. A UTF-8 or
// UTF-16 byte order mark is honored and stripped. Empty fields decode as nil.
func DecodeCSV(body []byte, opt CSVOptions) (*Dataset, error) {
	r := transform.NewReader(bytes.NewReader(body), unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("decode csv: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("decode csv: read header: %w", err)
	}
	cols := make([]string, len(hdr))
	for i, h := range hdr {
		cols[i] = strings.TrimSpace(h)
	}

	var records [][]string
	line := 1
	for {
		rec, err := cr.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode csv: line %d: %w", line, err)
		}
		records = append(records, rec)
	}

	return &Dataset{
		format:  FormatCSV,
		columns: cols,
		rows:    int64(len(records)),
		src:     &csvSource{records: records, trim: opt.TrimSpace},
	}, nil
}

type csvSource struct {
	records [][]string
	pos     int
	trim    bool
}

func (s *csvSource) next(dst []any) (bool, error) {
	if s.pos >= len(s.records) {
		return false, nil
	}
	rec := s.records[s.pos]
	// drop the reference so decoded rows can be reclaimed as chunks go by
	s.records[s.pos] = nil
	s.pos++

	for i := range dst {
		if i >= len(rec) {
			dst[i] = nil
			continue
		}
		v := rec[i]
		if s.trim {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			dst[i] = nil
		} else {
			dst[i] = v
		}
	}
	return true, nil
}

func (s *csvSource) release() { s.records = nil }
