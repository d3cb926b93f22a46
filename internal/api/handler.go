package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"CampaignMailer/internal/counter"
	"CampaignMailer/internal/lock"
	"CampaignMailer/internal/models"
	"CampaignMailer/internal/processor"
	"CampaignMailer/internal/stats"
)

type Handler struct {
	Proc   *processor.Processor
	Locker lock.Locker
	Log    *zap.Logger

	// LockTTL defaults to lock.DefaultTTL.
	LockTTL time.Duration
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)

	mux.HandleFunc("GET /processEmailQueue", h.ProcessorStatus)
	mux.HandleFunc("POST /processEmailQueue", h.ProcessQueue)
	mux.HandleFunc("POST /processScheduledEmails", h.ProcessScheduled)

	mux.HandleFunc("GET /failedEmails", h.ListFailed)
	mux.HandleFunc("POST /failedEmails", h.FailedAction)

	mux.HandleFunc("GET /emailCounters", h.ListCounters)
	mux.HandleFunc("POST /emailCounters", h.IncrementCounter)
	mux.HandleFunc("PUT /emailCounters", h.UpdateCounterLimit)
	mux.HandleFunc("DELETE /emailCounters", h.ResetCounter)

	mux.HandleFunc("GET /processingStats", h.GetStats)
	mux.HandleFunc("POST /processingStats", h.AccumulateStats)
	mux.HandleFunc("PUT /processingStats", h.OverwriteStats)
	mux.HandleFunc("DELETE /processingStats", h.ResetStats)

	mux.HandleFunc("GET /scheduledEmails", h.ListScheduled)

	mux.HandleFunc("GET /emailQueue", h.ListQueue)
	mux.HandleFunc("POST /emailQueue", h.Enqueue)

	return mux
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ok(w, nil)
}

// ------------------------------------------------
// Processor triggers
// ------------------------------------------------

func (h *Handler) locked(ctx context.Context, key string, run func() error) error {
	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}

	release, err := h.Locker.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer release()
	return run()
}

func (h *Handler) ProcessorStatus(w http.ResponseWriter, r *http.Request) {
	st := h.Proc.Status()
	ok(w, envelope{
		"currentSender": st.CurrentSender,
		"senderIds":     st.SenderIDs,
	})
}

func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	var summary *processor.Summary

	// A client hanging up must not abort the batch halfway.
	ctx := context.WithoutCancel(r.Context())

	err := h.locked(ctx, "queue", func() (err error) {
		summary, err = h.Proc.ProcessQueue(ctx)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ok(w, envelope{
		"message": "Email queue processed",
		"summary": summary,
	})
}

func (h *Handler) ProcessScheduled(w http.ResponseWriter, r *http.Request) {
	var summary *processor.Summary

	ctx := context.WithoutCancel(r.Context())

	err := h.locked(ctx, "scheduled", func() (err error) {
		summary, err = h.Proc.ProcessScheduledEmails(ctx)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ok(w, envelope{
		"message": "Scheduled emails processed",
		"summary": summary,
	})
}

// ------------------------------------------------
// Failed emails
// ------------------------------------------------

func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	failed, err := h.Proc.GetFailedEmails(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ok(w, envelope{"failedEmails": failed, "count": len(failed)})
}

type failedActionRequest struct {
	Action  string `json:"action"`
	EmailID string `json:"emailId"`
}

func (h *Handler) FailedAction(w http.ResponseWriter, r *http.Request) {
	var req failedActionRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Action {
	case "retry":
		if strings.TrimSpace(req.EmailID) == "" {
			fail(w, http.StatusBadRequest, "emailId is required")
			return
		}
		msg, err := h.Proc.RetryFailedEmail(r.Context(), req.EmailID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ok(w, envelope{"message": msg})

	case "clear":
		n, err := h.Proc.ClearFailedEmails(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ok(w, envelope{"message": "Failed emails cleared", "count": n})

	default:
		fail(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

// ------------------------------------------------
// Counters
// ------------------------------------------------

func (h *Handler) ListCounters(w http.ResponseWriter, r *http.Request) {
	counters, err := h.Proc.Counters.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if counters == nil {
		counters = []models.EmailCounter{}
	}

	ok(w, envelope{"counters": counters})
}

type counterRequest struct {
	SenderID   string `json:"senderId"`
	IsDirect   *bool  `json:"isDirect"`
	DailyLimit *int   `json:"dailyLimit"`
}

func (h *Handler) IncrementCounter(w http.ResponseWriter, r *http.Request) {
	var req counterRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SenderID) == "" {
		fail(w, http.StatusBadRequest, "senderId is required")
		return
	}

	isDirect := true
	if req.IsDirect != nil {
		isDirect = *req.IsDirect
	}

	c, err := h.Proc.Counters.RecordSend(r.Context(), counter.SenderID(req.SenderID), isDirect)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ok(w, envelope{"counter": c})
}

// UpdateCounterLimit acknowledges the request without changing anything; limits are
// set from DAILY_LIMIT when a sender's counter is created.
func (h *Handler) UpdateCounterLimit(w http.ResponseWriter, r *http.Request) {
	var req counterRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	h.Log.Info("daily limit update ignored", zap.String("sender_id", req.SenderID))
	ok(w, envelope{"message": "Daily limit update is not supported"})
}

func (h *Handler) ResetCounter(w http.ResponseWriter, r *http.Request) {
	senderID := r.URL.Query().Get("senderId")
	if senderID == "" && r.ContentLength != 0 {
		var req counterRequest
		if err := decode(w, r, &req); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		senderID = req.SenderID
	}
	if strings.TrimSpace(senderID) == "" {
		fail(w, http.StatusBadRequest, "senderId is required")
		return
	}

	c, err := h.Proc.Counters.Reset(r.Context(), counter.SenderID(senderID))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ok(w, envelope{"counter": c})
}

// ------------------------------------------------
// Processing stats
// ------------------------------------------------

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Proc.Stats.GetCurrent(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, envelope{"stats": st})
}

func (h *Handler) AccumulateStats(w http.ResponseWriter, r *http.Request) {
	var delta models.StatsDelta
	if err := decode(w, r, &delta); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if delta.Processed < 0 || delta.Failed < 0 {
		fail(w, http.StatusBadRequest, "processed and failed must not be negative")
		return
	}

	st, err := h.Proc.Stats.Accumulate(r.Context(), delta)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, envelope{"stats": st})
}

func (h *Handler) OverwriteStats(w http.ResponseWriter, r *http.Request) {
	var fields stats.Fields
	if err := decode(w, r, &fields); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.Proc.Stats.Overwrite(r.Context(), fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, envelope{"stats": st})
}

func (h *Handler) ResetStats(w http.ResponseWriter, r *http.Request) {
	var (
		st  *models.ProcessingStats
		err error
	)

	if r.URL.Query().Get("scope") == "session" {
		st, err = h.Proc.Stats.ResetSession(r.Context())
	} else {
		st, err = h.Proc.Stats.ResetAll(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, envelope{"stats": st})
}

// ------------------------------------------------
// Scheduled emails
// ------------------------------------------------

func (h *Handler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	o, err := h.Proc.ScheduledOverview(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ok(w, envelope{
		"total":    o.Total,
		"upcoming": o.Upcoming,
		"overdue":  o.Overdue,
		"emails":   o.Emails,
	})
}

// ------------------------------------------------
// Queue
// ------------------------------------------------

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Proc.ListQueue(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}

	ok(w, envelope{"entries": entries, "count": len(entries)})
}

// enqueueRequest accepts either one entry inline or a batch under "entries".
type enqueueRequest struct {
	processor.EnqueueRequest
	Entries []processor.EnqueueRequest `json:"entries"`
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	reqs := req.Entries
	if reqs == nil {
		reqs = []processor.EnqueueRequest{req.EnqueueRequest}
	}
	if len(reqs) == 0 {
		fail(w, http.StatusBadRequest, "entries must not be empty")
		return
	}

	entries, err := h.Proc.Enqueue(r.Context(), reqs...)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.Log.Info("emails enqueued", zap.Int("count", len(entries)))
	ok(w, envelope{"entries": entries, "count": len(entries)})
}
