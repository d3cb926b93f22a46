// Package processor drains the email queue and the scheduled table.
//
// Every entry point is a short, stateless invocation: it reads what it needs from the
// repositories, does the work and writes results back. Nothing is cached between calls,
// so any number of process instances may serve the triggers.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"CampaignMailer/internal/counter"
	"CampaignMailer/internal/db"
	"CampaignMailer/internal/metrics"
	"CampaignMailer/internal/models"
	"CampaignMailer/internal/stats"
	"CampaignMailer/internal/templates"
)

const errSenderBlocked = "sender blocked"

// Transport delivers one rendered email.
type Transport interface {
	Send(ctx context.Context, msg models.OutgoingEmail) error
}

type Options struct {
	// MaxRetries caps manual retries of a failed email.
	MaxRetries    int
	DefaultSender string
	Senders       []string
	// Limiter paces deliveries; nil sends as fast as the transport allows.
	Limiter *rate.Limiter
	Now     func() time.Time
}

type Processor struct {
	Repos     db.Repositories
	Counters  *counter.Service
	Stats     *stats.Service
	Transport Transport
	Log       *zap.Logger

	MaxRetries    int
	DefaultSender string
	Senders       []string
	Limiter       *rate.Limiter

	Now   func() time.Time
	NewID func() string
}

func New(repos db.Repositories, transport Transport, log *zap.Logger, opts Options) *Processor {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	counters := counter.New(repos.Counters)
	counters.Now = now
	st := stats.New(repos.Stats)
	st.Now = now

	return &Processor{
		Repos:         repos,
		Counters:      counters,
		Stats:         st,
		Transport:     transport,
		Log:           log,
		MaxRetries:    opts.MaxRetries,
		DefaultSender: counter.SenderID(opts.DefaultSender),
		Senders:       opts.Senders,
		Limiter:       opts.Limiter,
		Now:           now,
		NewID:         uuid.NewString,
	}
}

// Summary reports the outcome of one invocation.
type Summary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Status describes the processor configuration.
type Status struct {
	CurrentSender string   `json:"currentSender"`
	SenderIDs     []string `json:"senderIds"`
}

func (p *Processor) Status() Status {
	senders := p.Senders
	if senders == nil {
		senders = []string{}
	}
	return Status{CurrentSender: p.DefaultSender, SenderIDs: senders}
}

// attempt is the result of one send try. failure is set when the send did not go out
// for a reason that belongs to the entry; any returned error is systemic.
type attempt struct {
	templateName string
	failure      string
}

func (p *Processor) senderID(data models.EmailData) string {
	if id := counter.SenderID(data.SenderEmail); id != "" {
		return id
	}
	return p.DefaultSender
}

// send runs counter attribution, rendering and delivery for one email.
func (p *Processor) send(ctx context.Context, data models.EmailData, isDirect bool) (attempt, error) {
	var a attempt

	senderID := p.senderID(data)

	// Wait before charging the counter: a wait that gives up must leave the counter and
	// the entry untouched.
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return a, fmt.Errorf("rate limiter: %w", err)
		}
	}

	// ----------------------------
	// Counter
	// ----------------------------
	if _, err := p.Counters.RecordSend(ctx, senderID, isDirect); err != nil {
		switch {
		case errors.Is(err, counter.ErrBlocked):
			metrics.SendersBlocked.Inc()
			a.failure = errSenderBlocked
			return a, nil
		case errors.Is(err, db.ErrNotFound):
			a.failure = "sender not found: " + senderID
			return a, nil
		default:
			return a, fmt.Errorf("record send for %s: %w", senderID, err)
		}
	}

	// ----------------------------
	// Template
	// ----------------------------
	tmpl, err := p.Repos.Templates.GetTemplate(ctx, data.TemplateID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			a.failure = "template not found: " + data.TemplateID
			return a, nil
		}
		return a, fmt.Errorf("load template %s: %w", data.TemplateID, err)
	}
	a.templateName = tmpl.Name

	subject, body := templates.Render(tmpl, placeholderData(data))

	// ----------------------------
	// Deliver
	// ----------------------------
	err = p.Transport.Send(ctx, models.OutgoingEmail{
		From:           data.SenderEmail,
		FromName:       data.SenderName,
		To:             data.RecipientEmail,
		ToName:         data.RecipientName,
		Subject:        subject,
		Body:           body,
		CredentialsRef: data.CredentialsRef,
	})
	if err != nil {
		a.failure = err.Error()
	}
	return a, nil
}

// placeholderData adds the recipient and sender fields unless entry data already sets them.
func placeholderData(data models.EmailData) map[string]string {
	out := map[string]string{
		"recipientEmail": data.RecipientEmail,
		"recipientName":  data.RecipientName,
		"senderEmail":    data.SenderEmail,
		"senderName":     data.SenderName,
	}
	for k, v := range data.EntryData {
		out[k] = v
	}
	return out
}

// recordFailure writes or bumps the FailedEmail row for id.
func (p *Processor) recordFailure(
	ctx context.Context,
	id string,
	data models.EmailData,
	templateName string,
	msg string,
	origin models.FailureOrigin,
) error {

	retryCount := data.RetryCount

	existing, err := p.Repos.Failed.GetFailed(ctx, id)
	switch {
	case err == nil:
		retryCount = existing.RetryCount + 1
	case !errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("load failed email %s: %w", id, err)
	}

	return p.Repos.Failed.SaveFailed(ctx, &models.FailedEmail{
		ID:             id,
		RecipientEmail: data.RecipientEmail,
		ErrorMsg:       msg,
		FailedAt:       p.Now(),
		RetryCount:     retryCount,
		Metadata: models.FailedMetadata{
			TemplateID:     data.TemplateID,
			TemplateName:   templateName,
			SenderEmail:    data.SenderEmail,
			SenderName:     data.SenderName,
			CredentialsRef: data.CredentialsRef,
			RecipientName:  data.RecipientName,
			EntryData:      data.EntryData,
			Origin:         origin,
		},
	})
}

// finish records the batch in the stats row. It runs even after a systemic error so
// the totals match the entries already committed, and it ignores cancellation of ctx
// for the same reason.
func (p *Processor) finish(ctx context.Context, kind string, s *Summary, start time.Time) error {
	metrics.BatchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	_, err := p.Stats.Accumulate(context.WithoutCancel(ctx), models.StatsDelta{
		Processed: int64(s.Processed),
		Failed:    int64(s.Failed),
	})
	if err != nil {
		return fmt.Errorf("accumulate stats: %w", err)
	}
	return nil
}
