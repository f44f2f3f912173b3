package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/r254650549/rural-demo/internal/database"
	"github.com/r254650549/rural-demo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open("sqlite://"+filepath.Join(t.TempDir(), "history.db"), "")
	require.NoError(t, err)
	return db
}

func newEntry(kind, batch string) *models.HistoryEntry {
	return &models.HistoryEntry{
		Type:           kind,
		RelatedBatchID: batch,
		Summary:        kind + " " + batch,
		Ref:            datatypes.JSON(`{"batch":{"id":"` + batch + `"}}`),
	}
}

func TestLedgerAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("Should assign ids, sequence numbers and UTC timestamps", func(t *testing.T) {
		ledger := NewLedger(newTestDB(t), "operator", 10)

		first := newEntry(models.HistoryTypeUpload, "b1")
		require.NoError(t, ledger.Append(ctx, first))
		second := newEntry(models.HistoryTypeStitch, "b1")
		require.NoError(t, ledger.Append(ctx, second))

		assert.NotEmpty(t, first.ID)
		assert.Equal(t, int64(1), first.Seq)
		assert.Equal(t, int64(2), second.Seq)
		assert.Equal(t, "operator", second.Owner)
		assert.Equal(t, time.UTC, first.Timestamp.Location())
	})

	t.Run("Should keep timestamps non-decreasing when the clock goes backwards", func(t *testing.T) {
		ledger := NewLedger(newTestDB(t), "operator", 10)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		ledger.now = func() time.Time { return now }

		a := newEntry(models.HistoryTypeUpload, "b1")
		require.NoError(t, ledger.Append(ctx, a))

		now = now.Add(-time.Hour)
		b := newEntry(models.HistoryTypeStitch, "b1")
		require.NoError(t, ledger.Append(ctx, b))

		assert.False(t, b.Timestamp.Before(a.Timestamp))
	})

	t.Run("Should reject re-appending an entry", func(t *testing.T) {
		ledger := NewLedger(newTestDB(t), "operator", 10)
		entry := newEntry(models.HistoryTypeUpload, "b1")
		require.NoError(t, ledger.Append(ctx, entry))

		err := ledger.Append(ctx, entry)
		assert.ErrorIs(t, err, models.ErrHistoryImmutable)
	})

	t.Run("Should validate type and batch", func(t *testing.T) {
		ledger := NewLedger(newTestDB(t), "operator", 10)
		assert.Error(t, ledger.Append(ctx, newEntry("delete", "b1")))
		assert.Error(t, ledger.Append(ctx, newEntry(models.HistoryTypeUpload, "")))
		assert.Error(t, ledger.Append(ctx, nil))
	})
}

func TestLedgerList(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	ledger := NewLedger(db, "operator", 2)

	for i := 1; i <= 5; i++ {
		require.NoError(t, ledger.Append(ctx, newEntry(models.HistoryTypeUpload, fmt.Sprintf("b%d", i))))
	}
	require.NoError(t, NewLedger(db, "someone-else", 2).Append(ctx, newEntry(models.HistoryTypeUpload, "x")))

	t.Run("Should list newest first across pages", func(t *testing.T) {
		var batches []string
		var previous *models.HistoryEntry
		for entry, err := range ledger.List(ctx) {
			require.NoError(t, err)
			if previous != nil {
				assert.False(t, previous.Timestamp.Before(entry.Timestamp))
				assert.Greater(t, previous.Seq, entry.Seq)
			}
			batches = append(batches, entry.RelatedBatchID)
			e := entry
			previous = &e
		}
		assert.Equal(t, []string{"b5", "b4", "b3", "b2", "b1"}, batches)
	})

	t.Run("Should stop early when the consumer breaks", func(t *testing.T) {
		recent, err := ledger.Recent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, "b5", recent[0].RelatedBatchID)
	})

	t.Run("Should scope counts and lookups to the owner", func(t *testing.T) {
		count, err := ledger.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)

		recent, err := NewLedger(db, "someone-else", 2).Recent(ctx, 0)
		require.NoError(t, err)
		require.Len(t, recent, 1)

		_, err = ledger.Get(ctx, recent[0].ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Should get an entry by id", func(t *testing.T) {
		recent, err := ledger.Recent(ctx, 1)
		require.NoError(t, err)

		got, err := ledger.Get(ctx, recent[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "b5", got.RelatedBatchID)
		assert.JSONEq(t, `{"batch":{"id":"b5"}}`, string(got.Ref))
	})
}

func TestLedgerExport(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newTestDB(t), "operator", 10)
	require.NoError(t, ledger.Append(ctx, newEntry(models.HistoryTypeUpload, "b1")))
	require.NoError(t, ledger.Append(ctx, newEntry(models.HistoryTypeStitch, "b1")))

	t.Run("Should export json", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := ledger.Export(ctx, &buf, FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		var records []Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &records))
		assert.Equal(t, models.HistoryTypeStitch, records[0].Type)
	})

	t.Run("Should export csv with a header row", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := ledger.Export(ctx, &buf, FormatCSV)
		require.NoError(t, err)

		rows, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "id", rows[0][0])
		assert.Equal(t, "2", rows[1][1])
	})

	t.Run("Should export yaml", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := ledger.Export(ctx, &buf, FormatYAML)
		require.NoError(t, err)

		var records []Record
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &records))
		require.Len(t, records, 2)
		assert.Equal(t, "b1", records[1].RelatedBatchID)
	})

	t.Run("Should export parquet that reads back", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := ledger.Export(ctx, &buf, FormatParquet)
		require.NoError(t, err)

		records, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, int64(2), records[0].Seq)
		assert.Equal(t, models.HistoryTypeUpload, records[1].Type)
	})

	t.Run("Should reject unknown formats", func(t *testing.T) {
		_, err := ledger.Export(ctx, &bytes.Buffer{}, "xml")
		assert.Error(t, err)
	})
}
