package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"CampaignMailer/internal/models"
)

const scheduledColumns = `id, email_data, scheduled_date, status, error_msg, created_at, processed_at`

func (s *Store) InsertScheduled(ctx context.Context, e *models.ScheduledEmail) error {
	dataJSON, err := json.Marshal(e.EmailData)
	if err != nil {
		return err
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO scheduled_emails (id, email_data, scheduled_date, status, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.ID,
		dataJSON,
		e.ScheduledDate,
		string(e.Status),
		e.CreatedAt,
	)
	return err
}

func (s *Store) ListScheduled(ctx context.Context) ([]models.ScheduledEmail, error) {
	return s.queryScheduled(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_emails ORDER BY scheduled_date`)
}

func (s *Store) ListDue(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	return s.queryScheduled(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_emails
		 WHERE status=$1 AND scheduled_date <= $2
		 ORDER BY scheduled_date, created_at`,
		string(models.StatusScheduled),
		now,
	)
}

func (s *Store) UpdateScheduled(ctx context.Context, e *models.ScheduledEmail) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE scheduled_emails
		 SET status=$1,
		     error_msg=$2,
		     processed_at=$3
		 WHERE id=$4`,
		string(e.Status),
		e.ErrorMsg,
		e.ProcessedAt,
		e.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scheduled email %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (s *Store) queryScheduled(ctx context.Context, sql string, args ...any) ([]models.ScheduledEmail, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []models.ScheduledEmail
	for rows.Next() {
		e, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

func scanScheduled(row pgx.Row) (*models.ScheduledEmail, error) {
	var (
		e        models.ScheduledEmail
		dataJSON []byte
		status   string
	)

	if err := row.Scan(
		&e.ID,
		&dataJSON,
		&e.ScheduledDate,
		&status,
		&e.ErrorMsg,
		&e.CreatedAt,
		&e.ProcessedAt,
	); err != nil {
		return nil, err
	}
	e.Status = models.EmailStatus(status)

	if err := json.Unmarshal(dataJSON, &e.EmailData); err != nil {
		return nil, fmt.Errorf("decode email_data of %s: %w", e.ID, err)
	}
	return &e, nil
}
