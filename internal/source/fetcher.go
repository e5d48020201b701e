package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"backfill/internal/dataset"
	"backfill/internal/metrics"
)

// DefaultTimeout bounds one whole download, body included.
const DefaultTimeout = 300 * time.Second

const userAgent = "backfill/1.0"

// Fetcher downloads and decodes source files. One Fetch is one attempt;
// callers wrap it in a retry policy.
type Fetcher struct {
	client  *http.Client
	metrics metrics.Backend
	log     *zap.Logger
}

type Option func(*Fetcher)

// WithHTTPClient replaces the default client (DefaultTimeout, default transport).
func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

func WithMetrics(b metrics.Backend) Option { return func(f *Fetcher) { f.metrics = metrics.OrNop(b) } }

func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: DefaultTimeout},
		metrics: metrics.Nop{},
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch downloads loc and decodes it with spec's format. Non-2xx responses
// return a *FetchError; a 404 additionally wraps ErrNotFound.
func (f *Fetcher) Fetch(ctx context.Context, loc Location, spec Spec) (*dataset.Dataset, error) {
	body, err := f.download(ctx, loc.URL)
	if err != nil {
		return nil, err
	}
	d, err := dataset.Decode(ctx, spec.Format, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc.File, err)
	}
	f.log.Info("downloaded",
		zap.String("file", loc.File),
		zap.Int64("rows", d.NumRows()),
		zap.Int("columns", len(d.Columns())),
		zap.Int("bytes", len(body)))
	return d, nil
}

func (f *Fetcher) download(ctx context.Context, url string) (body []byte, err error) {
	start := time.Now()
	code := 0
	defer func() {
		metrics.ObserveHTTP(f.metrics, code, time.Since(start), int64(len(body)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	code = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		cause := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode == http.StatusNotFound {
			cause = ErrNotFound
		}
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: cause}
	}

	// parquet decoding needs random access, so the whole file is buffered
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
