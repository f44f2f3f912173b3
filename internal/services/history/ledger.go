// Package history implements the process history ledger: an append-only,
// per-owner record of completed pipeline stages that outlives the active session.
package history

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/r254650549/rural-demo/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned by Get when no entry with the id exists for the owner
var ErrNotFound = errors.New("history entry not found")

const defaultPageSize = 50

// Ledger appends and lists history entries for a single owner
type Ledger struct {
	db       *gorm.DB
	owner    string
	pageSize int
	mu       sync.Mutex // serialises Seq allocation
	now      func() time.Time
}

// NewLedger creates a ledger scoped to owner. pageSize bounds each lazy List query.
func NewLedger(db *gorm.DB, owner string, pageSize int) *Ledger {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Ledger{
		db:       db,
		owner:    owner,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// Owner returns the user the ledger is scoped to
func (l *Ledger) Owner() string {
	return l.owner
}

// Append stores a new entry. ID, Owner, Seq and Timestamp are assigned here;
// an entry that was already appended is rejected.
func (l *Ledger) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if entry == nil {
		return errors.New("nil history entry")
	}
	if entry.Seq != 0 {
		return fmt.Errorf("entry %s already appended: %w", entry.ID, models.ErrHistoryImmutable)
	}
	switch entry.Type {
	case models.HistoryTypeUpload, models.HistoryTypeStitch, models.HistoryTypeExtract:
	default:
		return fmt.Errorf("invalid history entry type %q", entry.Type)
	}
	if entry.RelatedBatchID == "" {
		return errors.New("history entry requires a related batch id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last models.HistoryEntry
		if err := tx.Where("owner = ?", l.owner).Order("seq desc").Limit(1).Find(&last).Error; err != nil {
			return fmt.Errorf("failed to read ledger head: %w", err)
		}

		// Timestamps never go backwards even if the wall clock does
		ts := l.now().UTC()
		if ts.Before(last.Timestamp) {
			ts = last.Timestamp.UTC()
		}

		entry.Owner = l.owner
		entry.Seq = last.Seq + 1
		entry.Timestamp = ts

		if err := tx.Create(entry).Error; err != nil {
			entry.Seq = 0
			return fmt.Errorf("failed to append history entry: %w", err)
		}
		return nil
	})
}

// List yields the owner's entries newest first, fetching one page at a time
func (l *Ledger) List(ctx context.Context) iter.Seq2[models.HistoryEntry, error] {
	return func(yield func(models.HistoryEntry, error) bool) {
		var cursor int64
		for {
			query := l.db.WithContext(ctx).Where("owner = ?", l.owner)
			if cursor > 0 {
				query = query.Where("seq < ?", cursor)
			}

			var page []models.HistoryEntry
			if err := query.Order("seq desc").Limit(l.pageSize).Find(&page).Error; err != nil {
				yield(models.HistoryEntry{}, fmt.Errorf("failed to list history: %w", err))
				return
			}

			for _, entry := range page {
				if !yield(entry, nil) {
					return
				}
			}
			if len(page) < l.pageSize {
				return
			}
			cursor = page[len(page)-1].Seq
		}
	}
}

// Recent returns up to limit entries, newest first
func (l *Ledger) Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	entries := make([]models.HistoryEntry, 0, limit)
	for entry, err := range l.List(ctx) {
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(entries) >= limit {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Get looks an entry up by id
func (l *Ledger) Get(ctx context.Context, id string) (*models.HistoryEntry, error) {
	var entry models.HistoryEntry
	err := l.db.WithContext(ctx).Where("owner = ? AND id = ?", l.owner, id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load history entry: %w", err)
	}
	return &entry, nil
}

// Count returns how many entries the owner has
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&models.HistoryEntry{}).Where("owner = ?", l.owner).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}
