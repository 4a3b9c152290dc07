//go:build integration

package testutil

import (
	"context"
	"testing"

	"github.com/pgvector/pgvector-go"
)

// TestSetupTestDB verifies the test infrastructure itself: the
// container starts, pgvector is installed, and the migrations created
// the schema the pipeline expects.
func TestSetupTestDB(t *testing.T) {
	tdb := SetupTestDB(t)
	ctx := context.Background()

	if err := tdb.Pool.Ping(ctx); err != nil {
		t.Fatalf("Pool.Ping() unexpected error: %v", err)
	}

	var hasExtension bool
	err := tdb.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&hasExtension)
	if err != nil {
		t.Fatalf("checking vector extension: %v", err)
	}
	if !hasExtension {
		t.Error("pgvector extension installed = false, want true")
	}

	var hasTable bool
	err = tdb.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = 'protocols')").Scan(&hasTable)
	if err != nil {
		t.Fatalf("checking protocols table: %v", err)
	}
	if !hasTable {
		t.Error("protocols table missing after migration")
	}
}

// TestCleanTables_ResetsIdentity guards the id sequence reset that
// insertion-order tie-breaking tests depend on.
func TestCleanTables_ResetsIdentity(t *testing.T) {
	tdb := SetupTestDB(t)
	ctx := context.Background()

	insert := func() int {
		var id int
		err := tdb.Pool.QueryRow(ctx,
			"INSERT INTO protocols (text, embedding, metadata) VALUES ($1, $2, $3) RETURNING id",
			"fixture", pgvector.NewVector(make([]float32, 768)),
			map[string]string{"source_key": "fixture"}).Scan(&id)
		if err != nil {
			t.Fatalf("inserting fixture row: %v", err)
		}
		return id
	}

	insert()
	insert()

	if err := CleanTables(ctx, tdb.Pool); err != nil {
		t.Fatalf("CleanTables() unexpected error: %v", err)
	}

	var count int
	if err := tdb.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM protocols").Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 0 {
		t.Errorf("rows after CleanTables = %d, want 0", count)
	}

	if id := insert(); id != 1 {
		t.Errorf("first id after CleanTables = %d, want 1", id)
	}
}
