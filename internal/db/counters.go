package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"CampaignMailer/internal/models"
)

const counterColumns = `sender_id, direct_send_count, scheduled_send_count, total_count,
	daily_limit, last_reset_at, is_blocked, blocked_until`

func (s *Store) GetCounter(ctx context.Context, senderID string) (*models.EmailCounter, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+counterColumns+` FROM email_counters WHERE sender_id=$1`, senderID)

	c, err := scanCounter(row)
	if err != nil {
		return nil, notFound(err, "counter "+senderID)
	}
	return c, nil
}

func (s *Store) ListCounters(ctx context.Context) ([]models.EmailCounter, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+counterColumns+` FROM email_counters ORDER BY sender_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.EmailCounter
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, err
		}
		counters = append(counters, *c)
	}
	return counters, rows.Err()
}

func (s *Store) EnsureCounter(ctx context.Context, c *models.EmailCounter) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO email_counters (`+counterColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (sender_id) DO NOTHING`,
		c.SenderID,
		c.DirectSendCount,
		c.ScheduledSendCount,
		c.TotalCount,
		c.DailyLimit,
		c.LastResetAt,
		c.IsBlocked,
		c.BlockedUntil,
	)
	return err
}

// UpdateCounter locks the sender row for the length of fn.
func (s *Store) UpdateCounter(
	ctx context.Context,
	senderID string,
	fn func(c *models.EmailCounter) error,
) (*models.EmailCounter, error) {

	var (
		counter *models.EmailCounter
		fnErr   error
	)

	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+counterColumns+` FROM email_counters WHERE sender_id=$1 FOR UPDATE`, senderID)

		c, err := scanCounter(row)
		if err != nil {
			return notFound(err, "counter "+senderID)
		}

		fnErr = fn(c)

		_, err = tx.Exec(ctx,
			`UPDATE email_counters
			 SET direct_send_count=$1,
			     scheduled_send_count=$2,
			     total_count=$3,
			     daily_limit=$4,
			     last_reset_at=$5,
			     is_blocked=$6,
			     blocked_until=$7
			 WHERE sender_id=$8`,
			c.DirectSendCount,
			c.ScheduledSendCount,
			c.TotalCount,
			c.DailyLimit,
			c.LastResetAt,
			c.IsBlocked,
			c.BlockedUntil,
			c.SenderID,
		)
		if err != nil {
			return fmt.Errorf("write counter %s: %w", senderID, err)
		}

		counter = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	return counter, fnErr
}

func scanCounter(row pgx.Row) (*models.EmailCounter, error) {
	var c models.EmailCounter
	err := row.Scan(
		&c.SenderID,
		&c.DirectSendCount,
		&c.ScheduledSendCount,
		&c.TotalCount,
		&c.DailyLimit,
		&c.LastResetAt,
		&c.IsBlocked,
		&c.BlockedUntil,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
