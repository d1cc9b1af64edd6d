// Package testutil provides test utilities for the gridfix packages.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/gridveg-dates/internal/model"
	"github.com/Veraticus/gridveg-dates/internal/storage"
	"github.com/Veraticus/gridveg-dates/internal/testutil/surveys"
)

// Tables are the table names every test warehouse uses.
var Tables = storage.Tables{
	Records:    model.TableRef{Dataset: "gridveg", Table: "surveys"},
	References: model.TableRef{Dataset: "gridveg", Table: "survey_reference"},
}

// SetupTestWarehouse creates a migrated in-memory SQLite warehouse seeded with data.
// It automatically handles cleanup.
func SetupTestWarehouse(t *testing.T, data surveys.Data) *storage.Warehouse {
	t.Helper()

	wh, err := storage.OpenSQLite(storage.MemoryPath, Tables)
	if err != nil {
		t.Fatalf("failed to create test warehouse: %v", err)
	}
	t.Cleanup(func() {
		_ = wh.Close()
	})

	ctx := context.Background()
	if err := wh.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	if len(data.References) > 0 {
		if err := wh.SaveReferences(ctx, data.References); err != nil {
			t.Fatalf("failed to seed references: %v", err)
		}
	}
	if len(data.Records) > 0 {
		if err := wh.SaveRecords(ctx, data.Records); err != nil {
			t.Fatalf("failed to seed records: %v", err)
		}
	}
	return wh
}
