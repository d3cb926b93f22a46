package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"CampaignMailer/internal/models"
)

const failedColumns = `id, recipient_email, error_msg, failed_at, retry_count, metadata`

func (s *Store) GetFailed(ctx context.Context, id string) (*models.FailedEmail, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+failedColumns+` FROM failed_emails WHERE id=$1`, id)

	f, err := scanFailed(row)
	if err != nil {
		return nil, notFound(err, "failed email "+id)
	}
	return f, nil
}

func (s *Store) ListFailed(ctx context.Context) ([]models.FailedEmail, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+failedColumns+` FROM failed_emails ORDER BY failed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failed []models.FailedEmail
	for rows.Next() {
		f, err := scanFailed(rows)
		if err != nil {
			return nil, err
		}
		failed = append(failed, *f)
	}
	return failed, rows.Err()
}

func (s *Store) SaveFailed(ctx context.Context, f *models.FailedEmail) error {
	metaJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return err
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO failed_emails (`+failedColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (id) DO UPDATE
		 SET recipient_email=EXCLUDED.recipient_email,
		     error_msg=EXCLUDED.error_msg,
		     failed_at=EXCLUDED.failed_at,
		     retry_count=EXCLUDED.retry_count,
		     metadata=EXCLUDED.metadata`,
		f.ID,
		f.RecipientEmail,
		f.ErrorMsg,
		f.FailedAt,
		f.RetryCount,
		metaJSON,
	)
	return err
}

func (s *Store) DeleteFailed(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM failed_emails WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed email %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteAllFailed(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM failed_emails`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanFailed(row pgx.Row) (*models.FailedEmail, error) {
	var (
		f        models.FailedEmail
		metaJSON []byte
	)

	if err := row.Scan(
		&f.ID,
		&f.RecipientEmail,
		&f.ErrorMsg,
		&f.FailedAt,
		&f.RetryCount,
		&metaJSON,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(metaJSON, &f.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", f.ID, err)
	}
	return &f, nil
}
