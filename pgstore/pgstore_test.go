package pgstore

import (
	"context"
	"database/sql"
	"math"
	"os"
	"testing"

	"github.com/nci/polydrill/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *processor.PixelTable {
	return &processor.PixelTable{
		MetaColumns:  []string{"site", "plot_id", "area"},
		BandNames:    []string{"B_1", "B_2"},
		DerivedNames: []string{"ndvi"},
		Rows: []processor.PixelRow{
			{Meta: []processor.AttrValue{"north", nil, nil}, CoverFrac: 1, PxID: 1, Bands: []float64{3, 5}, Derived: []float64{0.25}},
			{Meta: []processor.AttrValue{"north", int64(7), 2.5}, CoverFrac: 0.5, PxID: 2, Bands: []float64{4, math.NaN()}, Derived: []float64{math.NaN()}},
		},
	}
}

func TestCreateTableSQL(t *testing.T) {
	s := NewStore(nil, "drill.pixels", true)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "drill"."pixels" ("site" text, "plot_id" bigint, "area" double precision, `+
			`"cover_frac" double precision, "polyPxID" integer, "B_1" double precision, "B_2" double precision, "ndvi" double precision)`,
		s.CreateTableSQL(testTable()))

	s = NewStore(nil, "pixels", false)
	assert.Contains(t, s.CreateTableSQL(testTable()), `EXISTS "pixels" (`)
}

func TestRowArgs(t *testing.T) {
	rows := testTable().Rows

	assert.Equal(t, []interface{}{"north", nil, nil, 1.0, 1, 3.0, 5.0, 0.25}, rowArgs(rows[0]))
	assert.Equal(t, []interface{}{"north", int64(7), 2.5, 0.5, 2, 4.0, nil, nil}, rowArgs(rows[1]))
}

func TestSplitTable(t *testing.T) {
	schema, name := splitTable("public.pixels")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "pixels", name)

	schema, name = splitTable("pixels")
	assert.Empty(t, schema)
	assert.Equal(t, "pixels", name)
}

func TestOpenRequiresTable(t *testing.T) {
	_, err := Open(Config{DSN: "postgres://localhost/x"})
	assert.Error(t, err)
}

// Set POLYDRILL_TEST_PG_DSN to run against a real database.
func TestIntegrationWrite(t *testing.T) {
	dsn := os.Getenv("POLYDRILL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("set POLYDRILL_TEST_PG_DSN to run")
	}

	store, err := Open(Config{DSN: dsn, Table: "public.__polydrill_pgstore_test", Create: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.db.ExecContext(ctx, `DROP TABLE IF EXISTS public.__polydrill_pgstore_test`)
	require.NoError(t, err)

	n, err := store.Write(ctx, testTable())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var b2 sql.NullFloat64
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT "B_2" FROM public.__polydrill_pgstore_test WHERE "polyPxID" = 2`).Scan(&b2))
	assert.False(t, b2.Valid)
}
