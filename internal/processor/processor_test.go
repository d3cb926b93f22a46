package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"CampaignMailer/internal/db"
	"CampaignMailer/internal/db/memory"
	"CampaignMailer/internal/metrics"
	"CampaignMailer/internal/models"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []models.OutgoingEmail
	failTo map[string]error
}

func (f *fakeTransport) Send(_ context.Context, msg models.OutgoingEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failTo[msg.To]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fixture struct {
	store     *memory.Store
	transport *fakeTransport
	proc      *Processor
	now       time.Time
}

func newFixture(t *testing.T, dailyLimit int) *fixture {
	t.Helper()

	now := time.Date(2026, 4, 14, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	store.PutTemplate(models.Template{
		ID:      "tpl-1",
		Name:    "Spring recall",
		Subject: "Hello [practice]",
		Body:    "Dear [recipientName], [offer]",
	})
	store.PutCounter(models.EmailCounter{SenderID: "s1@clinic.test", DailyLimit: dailyLimit, LastResetAt: now})

	transport := &fakeTransport{failTo: map[string]error{}}

	seq := 0
	proc := New(store.Repositories(), transport, zap.NewNop(), Options{
		MaxRetries:    3,
		DefaultSender: "s1@clinic.test",
		Senders:       []string{"s1@clinic.test"},
		Now:           func() time.Time { return now },
	})
	proc.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}

	return &fixture{store: store, transport: transport, proc: proc, now: now}
}

func direct(to string) EnqueueRequest {
	return EnqueueRequest{
		RecipientEmail: to,
		RecipientName:  "Dr " + to,
		TemplateID:     "tpl-1",
		SenderEmail:    "S1@clinic.test",
		SendMode:       models.SendImmediate,
		EntryData:      map[string]string{"practice": "Oak Dental"},
	}
}

func statusByID(t *testing.T, store *memory.Store) map[string]models.QueueEntry {
	t.Helper()

	entries, err := store.ListEntries(context.Background())
	require.NoError(t, err)

	out := make(map[string]models.QueueEntry, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out
}

func TestProcessQueue_DailyLimitScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	blockedBefore := testutil.ToFloat64(metrics.SendersBlocked)

	_, err := f.proc.Enqueue(ctx, direct("a@x.test"), direct("b@x.test"), direct("c@x.test"), direct("d@x.test"))
	require.NoError(t, err)

	summary, err := f.proc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 4, Processed: 3, Failed: 1}, *summary)
	assert.Equal(t, blockedBefore+1, testutil.ToFloat64(metrics.SendersBlocked))

	entries := statusByID(t, f.store)
	for _, id := range []string{"id-1", "id-2", "id-3"} {
		assert.Equal(t, models.StatusSent, entries[id].Status, id)
		assert.NotNil(t, entries[id].ProcessedAt)
	}
	require.NotNil(t, entries["id-4"].ErrorMsg)
	assert.Equal(t, models.StatusFailed, entries["id-4"].Status)
	assert.Equal(t, "sender blocked", *entries["id-4"].ErrorMsg)

	c, err := f.store.GetCounter(ctx, "s1@clinic.test")
	require.NoError(t, err)
	assert.Equal(t, 3, c.DirectSendCount)
	assert.Equal(t, 3, c.TotalCount)
	assert.True(t, c.IsBlocked)

	failed, err := f.proc.GetFailedEmails(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "id-4", failed[0].ID)
	assert.Equal(t, "sender blocked", failed[0].ErrorMsg)
	assert.True(t, failed[0].CanRetry)

	st, err := f.proc.Stats.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalProcessed)
	assert.Equal(t, int64(1), st.TotalFailed)
}

func TestProcessQueue_RenderAndOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	_, err := f.proc.Enqueue(ctx, direct("first@x.test"), direct("second@x.test"))
	require.NoError(t, err)

	_, err = f.proc.ProcessQueue(ctx)
	require.NoError(t, err)

	require.Len(t, f.transport.sent, 2)
	assert.Equal(t, "first@x.test", f.transport.sent[0].To)
	assert.Equal(t, "second@x.test", f.transport.sent[1].To)
	assert.Equal(t, "Hello Oak Dental", f.transport.sent[0].Subject)
	assert.Equal(t, "Dear Dr first@x.test, [offer]", f.transport.sent[0].Body)
	assert.Equal(t, "S1@clinic.test", f.transport.sent[0].From)
}

func TestProcessQueue_SecondRunIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.transport.failTo["bad@x.test"] = errors.New("550 mailbox unavailable")

	_, err := f.proc.Enqueue(ctx, direct("ok@x.test"), direct("bad@x.test"))
	require.NoError(t, err)

	first, err := f.proc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, first.Failed)

	second, err := f.proc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, *second)
	assert.Len(t, f.transport.sent, 1)

	entries := statusByID(t, f.store)
	require.NotNil(t, entries["id-2"].ErrorMsg)
	assert.Equal(t, "550 mailbox unavailable", *entries["id-2"].ErrorMsg)
}

func TestProcessQueue_UnknownSenderAndTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	stranger := direct("a@x.test")
	stranger.SenderEmail = "nobody@clinic.test"
	missingTpl := direct("b@x.test")
	missingTpl.TemplateID = "tpl-404"

	_, err := f.proc.Enqueue(ctx, stranger, missingTpl, direct("c@x.test"))
	require.NoError(t, err)

	summary, err := f.proc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Failed)

	entries := statusByID(t, f.store)
	assert.Contains(t, *entries["id-1"].ErrorMsg, "sender not found")
	assert.Contains(t, *entries["id-2"].ErrorMsg, "template not found")
}

type brokenQueue struct {
	db.QueueRepository
}

func (brokenQueue) ListPending(context.Context) ([]models.QueueEntry, error) {
	return nil, errors.New("connection refused")
}

func TestProcessQueue_StoreFailurePropagates(t *testing.T) {
	f := newFixture(t, 100)
	f.proc.Repos.Queue = brokenQueue{f.store}

	_, err := f.proc.ProcessQueue(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestEnqueue_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	missing := direct("a@x.test")
	missing.TemplateID = ""

	_, err := f.proc.Enqueue(ctx, missing)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "templateId", verr.Field)

	_, err = f.proc.Enqueue(ctx, direct("ok@x.test"), missing)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Index)

	noTime := direct("a@x.test")
	noTime.SendMode = models.SendScheduled
	_, err = f.proc.Enqueue(ctx, noTime)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "scheduledTime", verr.Field)

	entries, err := f.proc.ListQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRetryFailedEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.transport.failTo["bad@x.test"] = errors.New("dial tcp: timeout")

	_, err := f.proc.Enqueue(ctx, direct("bad@x.test"))
	require.NoError(t, err)
	_, err = f.proc.ProcessQueue(ctx)
	require.NoError(t, err)

	msg, err := f.proc.RetryFailedEmail(ctx, "id-1")
	require.NoError(t, err)
	assert.Contains(t, msg, "id-1")

	_, err = f.store.GetFailed(ctx, "id-1")
	assert.ErrorIs(t, err, db.ErrNotFound)

	pending, err := f.store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "bad@x.test", pending[0].RecipientEmail)
	assert.Equal(t, "tpl-1", pending[0].TemplateID)
	assert.Equal(t, 1, pending[0].RetryCount)

	_, err = f.proc.ProcessQueue(ctx)
	require.NoError(t, err)

	failed, err := f.store.GetFailed(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, failed.RetryCount)
}

func TestRetryFailedEmail_AtCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	require.NoError(t, f.store.SaveFailed(ctx, &models.FailedEmail{ID: "f-1", RetryCount: 3, FailedAt: f.now}))

	_, err := f.proc.RetryFailedEmail(ctx, "f-1")
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.ErrorIs(t, err, db.ErrNotFound)

	failed, err := f.proc.GetFailedEmails(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.False(t, failed[0].CanRetry)

	_, err = f.proc.RetryFailedEmail(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)

	pending, _ := f.store.ListPending(ctx)
	assert.Empty(t, pending)
}

func TestClearFailedEmails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	require.NoError(t, f.store.SaveFailed(ctx, &models.FailedEmail{ID: "f-1"}))
	require.NoError(t, f.store.SaveFailed(ctx, &models.FailedEmail{ID: "f-2"}))

	n, err := f.proc.ClearFailedEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	failed, err := f.proc.GetFailedEmails(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRecordFailure_BumpsExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	require.NoError(t, f.store.SaveFailed(ctx, &models.FailedEmail{ID: "e-1", RetryCount: 1}))
	require.NoError(t, f.proc.recordFailure(ctx, "e-1", models.EmailData{RecipientEmail: "a@x.test"}, "", "boom", models.OriginQueue))

	failed, err := f.store.GetFailed(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, "boom", failed.ErrorMsg)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, 100)

	st := f.proc.Status()
	assert.Equal(t, "s1@clinic.test", st.CurrentSender)
	assert.Equal(t, []string{"s1@clinic.test"}, st.SenderIDs)
}

func TestProcessQueue_LimiterTimeoutDoesNotChargeSender(t *testing.T) {
	f := newFixture(t, 10)
	f.proc.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	_, err := f.proc.Enqueue(context.Background(), direct("a@x.test"), direct("b@x.test"), direct("c@x.test"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	summary, err := f.proc.ProcessQueue(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, summary.Processed)
	require.Len(t, f.transport.sent, 1)

	bg := context.Background()
	c, err := f.store.GetCounter(bg, "s1@clinic.test")
	require.NoError(t, err)
	assert.Equal(t, len(f.transport.sent), c.DirectSendCount)
	assert.Equal(t, len(f.transport.sent), c.TotalCount)

	entries := statusByID(t, f.store)
	assert.Equal(t, models.StatusSent, entries["id-1"].Status)
	assert.Equal(t, models.StatusPending, entries["id-2"].Status)
	assert.Equal(t, models.StatusPending, entries["id-3"].Status)

	st, err := f.proc.Stats.GetCurrent(bg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalProcessed)
}

func TestFinish_IgnoresCancelledContext(t *testing.T) {
	f := newFixture(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.proc.finish(ctx, metrics.KindQueue, &Summary{Total: 2, Processed: 1, Failed: 1}, time.Now()))

	st, err := f.proc.Stats.GetCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalProcessed)
	assert.Equal(t, int64(1), st.TotalFailed)
}
