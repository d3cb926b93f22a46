package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"CampaignMailer/internal/db"
	"CampaignMailer/internal/metrics"
	"CampaignMailer/internal/models"
)

// ProcessScheduledEmails fires every scheduled email whose time has come. Each gets
// exactly one attempt, counted as a scheduled send; emails not yet due are left alone.
func (p *Processor) ProcessScheduledEmails(ctx context.Context) (*Summary, error) {
	start := time.Now()

	due, err := p.Repos.Scheduled.ListDue(ctx, p.Now())
	if err != nil {
		return nil, fmt.Errorf("list due scheduled emails: %w", err)
	}

	summary := &Summary{Total: len(due)}
	p.Log.Info("processing scheduled emails", zap.Int("due", len(due)))

	for i := range due {
		if err := p.processScheduled(ctx, &due[i], summary); err != nil {
			if ferr := p.finish(ctx, metrics.KindScheduled, summary, start); ferr != nil {
				p.Log.Error("failed to record partial batch", zap.Error(ferr))
			}
			return summary, err
		}
	}

	if err := p.finish(ctx, metrics.KindScheduled, summary, start); err != nil {
		return summary, err
	}

	p.Log.Info("scheduled emails processed",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (p *Processor) processScheduled(ctx context.Context, s *models.ScheduledEmail, summary *Summary) error {
	if !s.Due(p.Now()) || s.Status.Terminal() {
		return nil
	}

	a, err := p.send(ctx, s.EmailData, false)
	if err != nil {
		return err
	}

	now := p.Now()
	s.ProcessedAt = &now

	if a.failure == "" {
		s.Status = models.StatusSent
		s.ErrorMsg = nil
	} else {
		msg := a.failure
		s.Status = models.StatusFailed
		s.ErrorMsg = &msg
	}

	if err := p.Repos.Scheduled.UpdateScheduled(ctx, s); err != nil {
		return fmt.Errorf("update scheduled email %s: %w", s.ID, err)
	}
	if err := p.mirrorQueueEntry(ctx, s); err != nil {
		return err
	}

	if a.failure == "" {
		summary.Processed++
		metrics.EmailsSent.WithLabelValues(metrics.KindScheduled).Inc()
		p.Log.Info("scheduled email sent",
			zap.String("entry_id", s.ID),
			zap.String("to", s.EmailData.RecipientEmail),
		)
		return nil
	}

	if err := p.recordFailure(ctx, s.ID, s.EmailData, a.templateName, a.failure, models.OriginScheduled); err != nil {
		return err
	}

	summary.Failed++
	metrics.EmailFailures.WithLabelValues(metrics.KindScheduled).Inc()
	p.Log.Warn("scheduled email failed",
		zap.String("entry_id", s.ID),
		zap.String("to", s.EmailData.RecipientEmail),
		zap.String("error", a.failure),
	)
	return nil
}

// mirrorQueueEntry copies the outcome onto the queue entry created alongside the
// scheduled email, when there is one.
func (p *Processor) mirrorQueueEntry(ctx context.Context, s *models.ScheduledEmail) error {
	e, err := p.Repos.Queue.GetEntry(ctx, s.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load queue entry %s: %w", s.ID, err)
	}
	if e.Status != models.StatusScheduled {
		return nil
	}

	e.Status = s.Status
	e.ErrorMsg = s.ErrorMsg
	e.ProcessedAt = s.ProcessedAt
	if err := p.Repos.Queue.UpdateEntry(ctx, e); err != nil {
		return fmt.Errorf("update queue entry %s: %w", s.ID, err)
	}
	return nil
}

// ScheduledOverview splits scheduled emails still waiting into upcoming and overdue.
type ScheduledOverview struct {
	Total    int                     `json:"total"`
	Upcoming int                     `json:"upcoming"`
	Overdue  int                     `json:"overdue"`
	Emails   []models.ScheduledEmail `json:"emails"`
}

func (p *Processor) ScheduledOverview(ctx context.Context) (*ScheduledOverview, error) {
	emails, err := p.Repos.Scheduled.ListScheduled(ctx)
	if err != nil {
		return nil, err
	}
	if emails == nil {
		emails = []models.ScheduledEmail{}
	}

	now := p.Now()
	o := &ScheduledOverview{Total: len(emails), Emails: emails}
	for i := range emails {
		if emails[i].Status != models.StatusScheduled {
			continue
		}
		if emails[i].Due(now) {
			o.Overdue++
		} else {
			o.Upcoming++
		}
	}
	return o, nil
}
