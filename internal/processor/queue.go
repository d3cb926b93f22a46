package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"CampaignMailer/internal/metrics"
	"CampaignMailer/internal/models"
)

// EnqueueRequest is one send as posted to the queue API.
type EnqueueRequest struct {
	RecipientEmail string            `json:"recipientEmail"`
	RecipientName  string            `json:"recipientName"`
	TemplateID     string            `json:"templateId"`
	SenderEmail    string            `json:"senderEmail"`
	SenderName     string            `json:"senderName"`
	CredentialsRef string            `json:"credentialsRef"`
	SendMode       models.SendMode   `json:"sendMode"`
	ScheduledTime  *time.Time        `json:"scheduledTime"`
	EntryData      map[string]string `json:"entryData"`
}

func (r *EnqueueRequest) validate(index int) error {
	required := []struct{ field, value string }{
		{"recipientEmail", r.RecipientEmail},
		{"templateId", r.TemplateID},
		{"senderEmail", r.SenderEmail},
		{"sendMode", string(r.SendMode)},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Index: index, Field: f.field, Msg: "is required"}
		}
	}

	switch r.SendMode {
	case models.SendImmediate:
	case models.SendScheduled:
		if r.ScheduledTime == nil || r.ScheduledTime.IsZero() {
			return &ValidationError{Index: index, Field: "scheduledTime", Msg: "is required for scheduled sends"}
		}
	default:
		return &ValidationError{Index: index, Field: "sendMode", Msg: fmt.Sprintf("unknown mode %q", r.SendMode)}
	}
	return nil
}

// Enqueue validates every request before writing any. Scheduled sends also get a
// ScheduledEmail row carrying the same id.
func (p *Processor) Enqueue(ctx context.Context, reqs ...EnqueueRequest) ([]models.QueueEntry, error) {
	for i := range reqs {
		index := i
		if len(reqs) == 1 {
			index = -1
		}
		if err := reqs[i].validate(index); err != nil {
			return nil, err
		}
	}

	now := p.Now()
	entries := make([]*models.QueueEntry, 0, len(reqs))
	var scheduled []*models.ScheduledEmail

	for _, r := range reqs {
		e := &models.QueueEntry{
			ID:             p.NewID(),
			RecipientEmail: strings.TrimSpace(r.RecipientEmail),
			RecipientName:  r.RecipientName,
			TemplateID:     r.TemplateID,
			SenderEmail:    strings.TrimSpace(r.SenderEmail),
			SenderName:     r.SenderName,
			CredentialsRef: r.CredentialsRef,
			SendMode:       r.SendMode,
			EntryData:      r.EntryData,
			Status:         models.StatusPending,
			CreatedAt:      now,
		}

		if r.SendMode == models.SendScheduled {
			at := r.ScheduledTime.UTC()
			e.ScheduledTime = &at
			e.Status = models.StatusScheduled

			scheduled = append(scheduled, &models.ScheduledEmail{
				ID:            e.ID,
				EmailData:     e.Data(),
				ScheduledDate: at,
				Status:        models.StatusScheduled,
				CreatedAt:     now,
			})
		}
		entries = append(entries, e)
	}

	if err := p.Repos.Queue.InsertEntries(ctx, entries...); err != nil {
		return nil, fmt.Errorf("insert queue entries: %w", err)
	}
	for _, s := range scheduled {
		if err := p.Repos.Scheduled.InsertScheduled(ctx, s); err != nil {
			return nil, fmt.Errorf("insert scheduled email %s: %w", s.ID, err)
		}
	}

	out := make([]models.QueueEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	return out, nil
}

func (p *Processor) ListQueue(ctx context.Context) ([]models.QueueEntry, error) {
	return p.Repos.Queue.ListEntries(ctx)
}

// ProcessQueue sends every pending entry once, oldest first. Entries are handled one at
// a time so two entries of the same sender never race on its counter row. Per-entry
// failures are recorded and never abort the batch; a repository error does, leaving
// already processed entries as they are.
func (p *Processor) ProcessQueue(ctx context.Context) (*Summary, error) {
	start := time.Now()

	entries, err := p.Repos.Queue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}

	summary := &Summary{Total: len(entries)}
	p.Log.Info("processing email queue", zap.Int("pending", len(entries)))

	for i := range entries {
		if err := p.processEntry(ctx, &entries[i], summary); err != nil {
			if ferr := p.finish(ctx, metrics.KindQueue, summary, start); ferr != nil {
				p.Log.Error("failed to record partial batch", zap.Error(ferr))
			}
			return summary, err
		}
	}

	if err := p.finish(ctx, metrics.KindQueue, summary, start); err != nil {
		return summary, err
	}

	p.Log.Info("email queue processed",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (p *Processor) processEntry(ctx context.Context, e *models.QueueEntry, summary *Summary) error {
	isDirect := e.SendMode != models.SendScheduled

	a, err := p.send(ctx, e.Data(), isDirect)
	if err != nil {
		return err
	}

	now := p.Now()
	e.ProcessedAt = &now

	if a.failure == "" {
		e.Status = models.StatusSent
		e.ErrorMsg = nil
		if err := p.Repos.Queue.UpdateEntry(ctx, e); err != nil {
			return fmt.Errorf("mark entry %s sent: %w", e.ID, err)
		}

		summary.Processed++
		metrics.EmailsSent.WithLabelValues(metrics.KindQueue).Inc()
		p.Log.Info("email sent successfully",
			zap.String("entry_id", e.ID),
			zap.String("to", e.RecipientEmail),
		)
		return nil
	}

	msg := a.failure
	e.Status = models.StatusFailed
	e.ErrorMsg = &msg
	if err := p.Repos.Queue.UpdateEntry(ctx, e); err != nil {
		return fmt.Errorf("mark entry %s failed: %w", e.ID, err)
	}
	if err := p.recordFailure(ctx, e.ID, e.Data(), a.templateName, msg, models.OriginQueue); err != nil {
		return err
	}

	summary.Failed++
	metrics.EmailFailures.WithLabelValues(metrics.KindQueue).Inc()
	p.Log.Warn("email send failed",
		zap.String("entry_id", e.ID),
		zap.String("to", e.RecipientEmail),
		zap.String("sender_id", p.senderID(e.Data())),
		zap.String("error", msg),
	)
	return nil
}
