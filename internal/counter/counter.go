// Package counter enforces per-sender daily send limits on top of the counter table.
//
// Reset and block expiry are applied lazily at the top of every write instead of by
// a background sweep, so a counter read straight from the table may still show
// yesterday's numbers until the sender's next send.
package counter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"CampaignMailer/internal/db"
	"CampaignMailer/internal/models"
)

const (
	ResetInterval = 24 * time.Hour
	BlockDuration = 24 * time.Hour
)

var ErrBlocked = errors.New("sender blocked")

// SenderID normalises a sender email into the counter key.
func SenderID(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ApplyReset zeroes the counts and clears any block once ResetInterval has passed
// since the last reset.
func ApplyReset(c models.EmailCounter, now time.Time) models.EmailCounter {
	if now.Sub(c.LastResetAt) < ResetInterval {
		return c
	}

	c.DirectSendCount = 0
	c.ScheduledSendCount = 0
	c.TotalCount = 0
	c.IsBlocked = false
	c.BlockedUntil = nil
	c.LastResetAt = now
	return c
}

// ApplyBlockExpiry lifts a block whose BlockedUntil has passed.
func ApplyBlockExpiry(c models.EmailCounter, now time.Time) models.EmailCounter {
	if c.BlockedUntil == nil || now.Before(*c.BlockedUntil) {
		return c
	}

	c.IsBlocked = false
	c.BlockedUntil = nil
	return c
}

type Service struct {
	Repo db.CounterRepository
	Now  func() time.Time
}

func New(repo db.CounterRepository) *Service {
	return &Service{Repo: repo, Now: time.Now}
}

func (s *Service) Get(ctx context.Context, senderID string) (*models.EmailCounter, error) {
	return s.Repo.GetCounter(ctx, senderID)
}

func (s *Service) List(ctx context.Context) ([]models.EmailCounter, error) {
	return s.Repo.ListCounters(ctx)
}

// Ensure creates the sender's counter row unless one already exists.
func (s *Service) Ensure(ctx context.Context, senderID string, dailyLimit int) error {
	return s.Repo.EnsureCounter(ctx, &models.EmailCounter{
		SenderID:    senderID,
		DailyLimit:  dailyLimit,
		LastResetAt: s.Now(),
	})
}

// RecordSend attributes one send to the sender. A direct send from a blocked sender
// returns ErrBlocked and leaves the counts alone; scheduled sends are never blocked.
func (s *Service) RecordSend(ctx context.Context, senderID string, isDirect bool) (*models.EmailCounter, error) {
	now := s.Now()

	return s.Repo.UpdateCounter(ctx, senderID, func(c *models.EmailCounter) error {
		// reset first: it clears blocks too
		*c = ApplyReset(*c, now)
		*c = ApplyBlockExpiry(*c, now)

		if !isDirect {
			c.ScheduledSendCount++
			c.TotalCount = c.DirectSendCount + c.ScheduledSendCount
			return nil
		}

		if c.IsBlocked {
			until := "unknown"
			if c.BlockedUntil != nil {
				until = c.BlockedUntil.Format(time.RFC3339)
			}
			return fmt.Errorf("%s until %s: %w", senderID, until, ErrBlocked)
		}

		c.DirectSendCount++
		c.TotalCount = c.DirectSendCount + c.ScheduledSendCount

		if c.DailyLimit > 0 && c.DirectSendCount >= c.DailyLimit {
			until := now.Add(BlockDuration)
			c.IsBlocked = true
			c.BlockedUntil = &until
		}
		return nil
	})
}

// Reset zeroes one sender's counts and lifts its block.
func (s *Service) Reset(ctx context.Context, senderID string) (*models.EmailCounter, error) {
	now := s.Now()

	return s.Repo.UpdateCounter(ctx, senderID, func(c *models.EmailCounter) error {
		c.LastResetAt = now.Add(-ResetInterval)
		*c = ApplyReset(*c, now)
		return nil
	})
}
