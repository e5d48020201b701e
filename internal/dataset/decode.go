package dataset

import (
	"context"
	"fmt"
)

// Decode decodes body according to f.
func Decode(ctx context.Context, f Format, body []byte) (*Dataset, error) {
	switch f {
	case FormatParquet:
		return DecodeParquet(ctx, body)
	case FormatCSV:
		return DecodeCSV(body, DefaultCSVOptions())
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
}
