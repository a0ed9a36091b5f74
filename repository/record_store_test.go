package repository

import (
	"fmt"
	"testing"

	"github.com/amirphl/invoice-sentinel/models"
	testingutil "github.com/amirphl/invoice-sentinel/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStore(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		store := NewRecordStore[models.SalesJournal](testDB.DB)

		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)

		rows := make([]*models.SalesJournal, 0, 7)
		for i := 0; i < 7; i++ {
			rows = append(rows, testingutil.JournalLine(invoice.ID, fmt.Sprintf("ORG-%d", i%2), fmt.Sprintf("F%03d", i), "100.00"))
		}
		rows[3].AccountCode = testingutil.Text("  ")
		_, err = store.BulkInsert(ctx, rows)
		require.NoError(t, err)

		t.Run("Table", func(t *testing.T) {
			assert.Equal(t, "journal_ventes", store.Table())
		})

		t.Run("CountWithPredicates", func(t *testing.T) {
			n, err := store.Count(ctx, InvoiceScope(&invoice.ID))
			require.NoError(t, err)
			assert.Equal(t, int64(7), n)

			n, err = store.Count(ctx, NullOrEmpty("account_code", true))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})

		t.Run("IterateChunks", func(t *testing.T) {
			var sizes []int
			seen := map[uint]bool{}
			for chunk, err := range store.IterateChunks(ctx, 3) {
				require.NoError(t, err)
				sizes = append(sizes, len(chunk))
				for _, r := range chunk {
					assert.False(t, seen[r.ID], "row %d repeated", r.ID)
					seen[r.ID] = true
				}
			}
			assert.Equal(t, []int{3, 3, 1}, sizes)
			assert.Len(t, seen, 7)
		})

		t.Run("IterateChunksWithUpdates", func(t *testing.T) {
			var visited int
			for chunk, err := range store.IterateChunks(ctx, 2, Where("organization = ?", "ORG-0")) {
				require.NoError(t, err)
				visited += len(chunk)
				for _, r := range chunk {
					_, err := store.UpdateColumns(ctx, map[string]any{"client": "visited"}, Where("id = ?", r.ID))
					require.NoError(t, err)
				}
			}
			assert.Equal(t, 4, visited)
		})

		t.Run("Aggregate", func(t *testing.T) {
			var groups []struct {
				Organization string
				RowCount     int64
			}
			err := store.Aggregate(ctx, AggregateQuery{
				GroupBy:      []Column{{Expr: "organization", Alias: "organization"}},
				Aggregations: []Aggregation{{Func: "COUNT", Alias: "row_count"}},
				Having:       "COUNT(*) > ?",
				HavingArgs:   []any{2},
				OrderBy:      "organization",
			}, &groups)
			require.NoError(t, err)
			require.Len(t, groups, 2)
			assert.Equal(t, "ORG-0", groups[0].Organization)
			assert.Equal(t, int64(4), groups[0].RowCount)
			assert.Equal(t, int64(3), groups[1].RowCount)

			err = store.Aggregate(ctx, AggregateQuery{Aggregations: []Aggregation{{Func: "DROP", Alias: "x"}}}, &groups)
			assert.ErrorIs(t, err, ErrInvalidAggregate)
		})

		t.Run("FirstAndDistinct", func(t *testing.T) {
			row, err := store.First(ctx, "id ASC", Where("invoice_number = ?", "F004"))
			require.NoError(t, err)
			require.NotNil(t, row)
			assert.Equal(t, "F004", *row.InvoiceNumber)

			missing, err := store.First(ctx, "id ASC", Where("invoice_number = ?", "nope"))
			require.NoError(t, err)
			assert.Nil(t, missing)

			numbers, err := store.DistinctValues(ctx, "invoice_number")
			require.NoError(t, err)
			assert.Len(t, numbers, 7)
		})

		t.Run("BulkDelete", func(t *testing.T) {
			n, err := store.BulkDelete(ctx, Where("organization = ?", "ORG-1"))
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			left, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(4), left)
		})

		return nil
	})
}
