package backfill

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"backfill/internal/dataset"
	"backfill/internal/retry"
	"backfill/internal/source"
	"backfill/internal/storage"
	"backfill/internal/transformer"
)

// SchemaManager infers destination columns and creates missing tables.
// Existing tables are never altered.
type SchemaManager struct {
	policy    retry.Policy
	retryOpts []retry.Option
	log       *zap.Logger
}

func NewSchemaManager(policy retry.Policy, log *zap.Logger, opts ...retry.Option) *SchemaManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SchemaManager{policy: policy, retryOpts: retryOptions(log, opts), log: log}
}

// Infer returns the columns a new destination table gets: every observed
// source column as text followed by the metadata columns for tabular
// datasets, or the static reference schema plus the non-period metadata.
func (m *SchemaManager) Infer(spec source.Spec, d *dataset.Dataset) ([]storage.ColumnSpec, error) {
	if spec.Reference {
		cols := append([]storage.ColumnSpec(nil), referenceColumns...)
		return append(cols, transformer.MetaColumns(false)...), nil
	}

	src := d.Columns()
	if len(src) == 0 {
		return nil, fmt.Errorf("infer %s: source has no columns", spec.Service)
	}
	meta := transformer.MetaColumns(true)
	seen := make(map[string]bool, len(src)+len(meta))
	for _, c := range meta {
		seen[strings.ToLower(c.Name)] = true
	}

	cols := make([]storage.ColumnSpec, 0, len(src)+len(meta))
	for _, name := range src {
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			return nil, fmt.Errorf("infer %s: invalid or duplicate source column %q", spec.Service, name)
		}
		seen[key] = true
		cols = append(cols, storage.ColumnSpec{Name: name, Kind: storage.KindText})
	}
	return append(cols, meta...), nil
}

// EnsureTable creates t with columns when the catalog does not list it, then
// returns the table's actual columns in ordinal order.
func (m *SchemaManager) EnsureTable(ctx context.Context, sess storage.Session, t storage.TableRef, columns []storage.ColumnSpec) ([]string, error) {
	var actual []string
	err := retry.Do(ctx, m.policy, "ensure table "+t.String(), func(ctx context.Context) error {
		exists, err := sess.TableExists(ctx, t)
		if err != nil {
			return err
		}
		if !exists {
			if err := sess.CreateTable(ctx, t, columns); err != nil {
				return err
			}
			m.log.Info("table created", zap.String("table", t.String()), zap.Int("columns", len(columns)))
		}
		actual, err = sess.TableColumns(ctx, t)
		return err
	}, m.retryOpts...)
	if err != nil {
		return nil, err
	}
	return actual, nil
}
