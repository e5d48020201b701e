package mssql

import (
	"strings"
	"testing"

	"backfill/internal/storage"
)

func TestDDL_UsesNativeTypes(t *testing.T) {
	t.Parallel()

	ddl, err := DDL(storage.TableRef{Name: "AUDIT_COVERAGE"}, []storage.ColumnSpec{
		{Name: "service_type", Kind: storage.KindText},
		{Name: "row_count", Kind: storage.KindInteger},
		{Name: "gap", Kind: storage.KindBoolean},
		{Name: "registered_at", Kind: storage.KindTimestamp},
	})
	if err != nil {
		t.Fatalf("DDL: %v", err)
	}
	want := "CREATE TABLE [dbo].[AUDIT_COVERAGE] ([service_type] NVARCHAR(MAX), [row_count] BIGINT, [gap] BIT, [registered_at] DATETIME2)"
	if ddl != want {
		t.Fatalf("DDL()=%q, want %q", ddl, want)
	}
}

func TestDialect_Qualify(t *testing.T) {
	t.Parallel()

	d := dialect{}
	tests := []struct {
		name string
		ref  storage.TableRef
		want string
	}{
		{name: "default_schema", ref: storage.TableRef{Name: "T"}, want: "[dbo].[T]"},
		{name: "schema", ref: storage.TableRef{Schema: "raw", Name: "T"}, want: "[raw].[T]"},
		{name: "database", ref: storage.TableRef{Database: "nyc", Schema: "raw", Name: "T"}, want: "[nyc].[raw].[T]"},
		{name: "temp_table", ref: storage.TableRef{Schema: "raw", Name: "#TMP_1"}, want: "[#TMP_1]"},
		{name: "escape", ref: storage.TableRef{Name: "a]b"}, want: "[dbo].[a]]b]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Qualify(tt.ref); got != tt.want {
				t.Fatalf("Qualify()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialect_StagingAndCatalog(t *testing.T) {
	t.Parallel()

	d := dialect{}
	dest := storage.TableRef{Schema: "raw", Name: "GREEN_TRIPDATA"}
	staging := d.StagingTable(dest, "deadbeef")
	if staging.Name != "#TMP_deadbeef" {
		t.Fatalf("StagingTable()=%+v", staging)
	}
	if got := d.CreateStagingSQL(staging, dest); got != "SELECT TOP 0 * INTO [#TMP_deadbeef] FROM [raw].[GREEN_TRIPDATA]" {
		t.Fatalf("CreateStagingSQL()=%q", got)
	}

	q, args := d.TableExistsQuery(storage.TableRef{Database: "nyc", Name: "T"})
	if !strings.HasPrefix(q, "SELECT COUNT(*) FROM [nyc].INFORMATION_SCHEMA.TABLES") {
		t.Fatalf("TableExistsQuery()=%q", q)
	}
	if args[0] != "dbo" || args[1] != "T" {
		t.Fatalf("TableExistsQuery args=%v", args)
	}
	if d.Placeholder(3) != "@p3" {
		t.Fatalf("Placeholder(3)=%q", d.Placeholder(3))
	}
}

func TestDialect_CreateSchemaSQL(t *testing.T) {
	t.Parallel()

	d := dialect{}
	if got := d.CreateSchemaSQL(storage.TableRef{Name: "T"}); got != "" {
		t.Fatalf("dbo should not be created, got %q", got)
	}
	got := d.CreateSchemaSQL(storage.TableRef{Schema: "raw", Name: "T"})
	if got != "IF SCHEMA_ID(N'raw') IS NULL EXEC(N'CREATE SCHEMA [raw]')" {
		t.Fatalf("CreateSchemaSQL()=%q", got)
	}
}
