package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"CampaignMailer/internal/models"
)

func (p *Processor) canRetry(f *models.FailedEmail) bool {
	return f.RetryCount < p.MaxRetries
}

// GetFailedEmails returns every failed email, newest first.
func (p *Processor) GetFailedEmails(ctx context.Context) ([]models.FailedEmail, error) {
	failed, err := p.Repos.Failed.ListFailed(ctx)
	if err != nil {
		return nil, err
	}
	if failed == nil {
		failed = []models.FailedEmail{}
	}
	for i := range failed {
		failed[i].CanRetry = p.canRetry(&failed[i])
	}
	return failed, nil
}

// RetryFailedEmail puts a fresh pending entry on the queue and drops the failed row.
// Delivery happens on the next ProcessQueue.
func (p *Processor) RetryFailedEmail(ctx context.Context, id string) (string, error) {
	f, err := p.Repos.Failed.GetFailed(ctx, id)
	if err != nil {
		return "", err
	}
	if !p.canRetry(f) {
		return "", fmt.Errorf("failed email %s: %w", id, ErrMaxRetries)
	}

	m := f.Metadata
	entry := &models.QueueEntry{
		ID:             p.NewID(),
		RecipientEmail: f.RecipientEmail,
		RecipientName:  m.RecipientName,
		TemplateID:     m.TemplateID,
		SenderEmail:    m.SenderEmail,
		SenderName:     m.SenderName,
		CredentialsRef: m.CredentialsRef,
		SendMode:       models.SendImmediate,
		EntryData:      m.EntryData,
		Status:         models.StatusPending,
		RetryCount:     f.RetryCount + 1,
		CreatedAt:      p.Now(),
	}

	if err := p.Repos.Queue.InsertEntries(ctx, entry); err != nil {
		return "", fmt.Errorf("requeue failed email %s: %w", id, err)
	}
	if err := p.Repos.Failed.DeleteFailed(ctx, id); err != nil {
		return "", fmt.Errorf("delete failed email %s: %w", id, err)
	}

	p.Log.Info("failed email requeued",
		zap.String("failed_id", id),
		zap.String("entry_id", entry.ID),
		zap.Int("retry_count", entry.RetryCount),
	)
	return "Email " + id + " queued for retry as " + entry.ID, nil
}

// ClearFailedEmails removes every failed email. It cannot be undone.
func (p *Processor) ClearFailedEmails(ctx context.Context) (int64, error) {
	n, err := p.Repos.Failed.DeleteAllFailed(ctx)
	if err != nil {
		return 0, err
	}
	p.Log.Info("failed emails cleared", zap.Int64("count", n))
	return n, nil
}
