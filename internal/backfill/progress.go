package backfill

import "context"

// Progress is reported after every committed chunk and after every month
// reaches a terminal state. Result is set only for the latter.
type Progress struct {
	Month      int          `json:"month"`
	ChunksDone int          `json:"chunks_done,omitempty"`
	Chunks     int          `json:"chunks,omitempty"`
	RowsLoaded int64        `json:"rows_loaded"`
	Result     *MonthResult `json:"result,omitempty"`
}

type progressKey struct{}

// ContextWithProgress returns a context whose runs report to fn. fn is called
// on the run's goroutine and must not block.
func ContextWithProgress(ctx context.Context, fn func(Progress)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress calls the hook installed by ContextWithProgress, if any.
func ReportProgress(ctx context.Context, p Progress) {
	if fn, ok := ctx.Value(progressKey{}).(func(Progress)); ok && fn != nil {
		fn(p)
	}
}
