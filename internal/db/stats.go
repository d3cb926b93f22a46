package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"CampaignMailer/internal/models"
)

const statsColumns = `id, total_processed, total_failed, session_processed, session_failed,
	last_processing_time, updated_at`

// CurrentStats returns the most recently updated stats row.
func (s *Store) CurrentStats(ctx context.Context) (*models.ProcessingStats, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+statsColumns+` FROM processing_stats ORDER BY updated_at DESC LIMIT 1`)

	st, err := scanStats(row)
	if err != nil {
		return nil, notFound(err, "processing stats")
	}
	return st, nil
}

func (s *Store) UpdateStats(
	ctx context.Context,
	fn func(st *models.ProcessingStats),
) (*models.ProcessingStats, error) {

	var stats *models.ProcessingStats

	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+statsColumns+` FROM processing_stats
			 ORDER BY updated_at DESC LIMIT 1 FOR UPDATE`)

		st, err := scanStats(row)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			st = &models.ProcessingStats{ID: uuid.NewString()}
		case err != nil:
			return err
		}

		fn(st)
		st.UpdatedAt = time.Now()

		_, err = tx.Exec(ctx,
			`INSERT INTO processing_stats (`+statsColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)
			 ON CONFLICT (id) DO UPDATE
			 SET total_processed=EXCLUDED.total_processed,
			     total_failed=EXCLUDED.total_failed,
			     session_processed=EXCLUDED.session_processed,
			     session_failed=EXCLUDED.session_failed,
			     last_processing_time=EXCLUDED.last_processing_time,
			     updated_at=EXCLUDED.updated_at`,
			st.ID,
			st.TotalProcessed,
			st.TotalFailed,
			st.SessionProcessed,
			st.SessionFailed,
			st.LastProcessingTime,
			st.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("write processing stats: %w", err)
		}

		stats = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func scanStats(row pgx.Row) (*models.ProcessingStats, error) {
	var st models.ProcessingStats
	err := row.Scan(
		&st.ID,
		&st.TotalProcessed,
		&st.TotalFailed,
		&st.SessionProcessed,
		&st.SessionFailed,
		&st.LastProcessingTime,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
