package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"CampaignMailer/internal/models"
)

const queueColumns = `id, recipient_email, recipient_name, template_id, sender_email, sender_name,
	credentials_ref, send_mode, scheduled_time, entry_data, status, retry_count, error_msg,
	created_at, processed_at`

func (s *Store) InsertEntries(ctx context.Context, entries ...*models.QueueEntry) error {
	batch := &pgx.Batch{}

	for _, e := range entries {
		dataJSON, err := json.Marshal(e.EntryData)
		if err != nil {
			return err
		}

		batch.Queue(
			`INSERT INTO email_queue
			 (id, recipient_email, recipient_name, template_id, sender_email, sender_name,
			  credentials_ref, send_mode, scheduled_time, entry_data, status, retry_count, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			e.ID,
			e.RecipientEmail,
			e.RecipientName,
			e.TemplateID,
			e.SenderEmail,
			e.SenderName,
			e.CredentialsRef,
			string(e.SendMode),
			e.ScheduledTime,
			dataJSON,
			string(e.Status),
			e.RetryCount,
			e.CreatedAt,
		)
	}

	return s.Pool.SendBatch(ctx, batch).Close()
}

func (s *Store) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM email_queue WHERE id=$1`, id)

	e, err := scanEntry(row)
	if err != nil {
		return nil, notFound(err, "queue entry "+id)
	}
	return e, nil
}

func (s *Store) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+queueColumns+` FROM email_queue ORDER BY created_at, seq`)
}

func (s *Store) ListPending(ctx context.Context) ([]models.QueueEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+queueColumns+` FROM email_queue
		 WHERE status IS NULL OR status = '' OR status = $1
		 ORDER BY created_at, seq`,
		string(models.StatusPending))
}

func (s *Store) UpdateEntry(ctx context.Context, e *models.QueueEntry) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE email_queue
		 SET status=$1,
		     error_msg=$2,
		     processed_at=$3,
		     retry_count=$4
		 WHERE id=$5`,
		string(e.Status),
		e.ErrorMsg,
		e.ProcessedAt,
		e.RetryCount,
		e.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue entry %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, sql string, args ...any) ([]models.QueueEntry, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*models.QueueEntry, error) {
	var (
		e        models.QueueEntry
		dataJSON []byte
		status   *string
		mode     string
	)

	err := row.Scan(
		&e.ID,
		&e.RecipientEmail,
		&e.RecipientName,
		&e.TemplateID,
		&e.SenderEmail,
		&e.SenderName,
		&e.CredentialsRef,
		&mode,
		&e.ScheduledTime,
		&dataJSON,
		&status,
		&e.RetryCount,
		&e.ErrorMsg,
		&e.CreatedAt,
		&e.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	e.SendMode = models.SendMode(mode)

	if status == nil || *status == "" {
		e.Status = models.StatusPending
	} else {
		e.Status = models.EmailStatus(*status)
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &e.EntryData); err != nil {
			return nil, fmt.Errorf("decode entry_data of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}
