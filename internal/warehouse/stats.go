package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultTopClasses is how many classes TableStats reports.
const DefaultTopClasses = 10

// ClassCount is the number of stored detections of one object class.
type ClassCount struct {
	Class string
	Count int64
}

// TableStats summarises the warehouse contents.
type TableStats struct {
	Table        string
	TotalRows    int64
	ByType       map[string]int64
	TopClasses   []ClassCount
	Rejected     int64
	LastLoadedAt time.Time
}

// TableStats queries row counts, the per-type split and the most frequent classes.
func (s *Sink) TableStats(ctx context.Context) (TableStats, error) {
	st := TableStats{Table: s.tables.detections, ByType: make(map[string]int64)}

	var last *time.Time
	if err := s.pool.QueryRow(ctx, s.tables.countTotal()).Scan(&st.TotalRows, &last); err != nil {
		return TableStats{}, fmt.Errorf("count rows: %w", err)
	}
	if last != nil {
		st.LastLoadedAt = *last
	}

	rows, err := s.pool.Query(ctx, s.tables.countByType())
	if err != nil {
		return TableStats{}, fmt.Errorf("count by type: %w", err)
	}
	var sourceType string
	var n int64
	if _, err := pgx.ForEachRow(rows, []any{&sourceType, &n}, func() error {
		st.ByType[sourceType] = n
		return nil
	}); err != nil {
		return TableStats{}, fmt.Errorf("count by type: %w", err)
	}

	rows, err = s.pool.Query(ctx, s.tables.topClasses(), DefaultTopClasses)
	if err != nil {
		return TableStats{}, fmt.Errorf("top classes: %w", err)
	}
	st.TopClasses, err = pgx.CollectRows(rows, pgx.RowToStructByPos[ClassCount])
	if err != nil {
		return TableStats{}, fmt.Errorf("top classes: %w", err)
	}

	if err := s.pool.QueryRow(ctx, s.tables.countRejects()).Scan(&st.Rejected); err != nil {
		return TableStats{}, fmt.Errorf("count rejects: %w", err)
	}
	return st, nil
}

// Cleanup deletes detections whose processing date is before now minus
// olderThan.
func (s *Sink) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %v", olderThan)
	}
	cutoff := s.now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, s.tables.deleteBefore(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete detections before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	s.logger.Verbose("Deleted %d detections processed before %s", tag.RowsAffected(), cutoff.Format(time.DateOnly))
	return tag.RowsAffected(), nil
}
