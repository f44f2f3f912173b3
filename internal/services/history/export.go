package history

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/r254650549/rural-demo/internal/models"
	"gopkg.in/yaml.v3"
)

// Export formats
const (
	FormatJSON    = "json"
	FormatCSV     = "csv"
	FormatYAML    = "yaml"
	FormatParquet = "parquet"
)

// Record is the flat, export-friendly shape of a history entry
type Record struct {
	ID             string `json:"id" yaml:"id" parquet:"id"`
	Seq            int64  `json:"seq" yaml:"seq" parquet:"seq"`
	Type           string `json:"type" yaml:"type" parquet:"type"`
	RelatedBatchID string `json:"related_batch_id" yaml:"related_batch_id" parquet:"related_batch_id"`
	Summary        string `json:"summary" yaml:"summary" parquet:"summary"`
	Timestamp      string `json:"timestamp" yaml:"timestamp" parquet:"timestamp"` // RFC3339Nano, UTC
	Ref            string `json:"ref" yaml:"ref" parquet:"ref"`
}

func toRecord(e models.HistoryEntry) Record {
	return Record{
		ID:             e.ID,
		Seq:            e.Seq,
		Type:           e.Type,
		RelatedBatchID: e.RelatedBatchID,
		Summary:        e.Summary,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		Ref:            string(e.Ref),
	}
}

// Export writes every entry of the owner, newest first, in the given format
func (l *Ledger) Export(ctx context.Context, w io.Writer, format string) (int, error) {
	var records []Record
	for entry, err := range l.List(ctx) {
		if err != nil {
			return 0, err
		}
		records = append(records, toRecord(entry))
	}

	if err := WriteRecords(w, format, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// WriteRecords encodes records in one of the export formats
func WriteRecords(w io.Writer, format string, records []Record) error {
	if records == nil {
		records = []Record{}
	}

	switch strings.ToLower(format) {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)

	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"id", "seq", "type", "related_batch_id", "summary", "timestamp", "ref"}); err != nil {
			return err
		}
		for _, r := range records {
			row := []string{r.ID, strconv.FormatInt(r.Seq, 10), r.Type, r.RelatedBatchID, r.Summary, r.Timestamp, r.Ref}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case FormatParquet:
		pw := parquet.NewGenericWriter[Record](w)
		if _, err := pw.Write(records); err != nil {
			return fmt.Errorf("failed to write parquet rows: %w", err)
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("failed to finalize parquet: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported export format: %s (supported: json, csv, yaml, parquet)", format)
	}
}

// ReadParquet loads records previously written with FormatParquet
func ReadParquet(r io.ReaderAt, size int64) ([]Record, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Record](pf)
	defer reader.Close()

	var records []Record
	rows := make([]Record, 128)
	for {
		n, err := reader.Read(rows)
		records = append(records, rows[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return records, nil
}
