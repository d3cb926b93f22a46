package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignMailer/internal/db"
	"CampaignMailer/internal/db/memory"
	"CampaignMailer/internal/models"
)

func newService(t *testing.T, now time.Time, c models.EmailCounter) (*Service, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	store.PutCounter(c)

	svc := New(store)
	svc.Now = func() time.Time { return now }
	return svc, store
}

func TestApplyReset(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)

	fresh := models.EmailCounter{
		DirectSendCount: 2, ScheduledSendCount: 1, TotalCount: 3,
		LastResetAt: now.Add(-23 * time.Hour), IsBlocked: true, BlockedUntil: &until,
	}
	assert.Equal(t, fresh, ApplyReset(fresh, now))

	stale := fresh
	stale.LastResetAt = now.Add(-24 * time.Hour)
	got := ApplyReset(stale, now)
	assert.Zero(t, got.DirectSendCount)
	assert.Zero(t, got.ScheduledSendCount)
	assert.Zero(t, got.TotalCount)
	assert.False(t, got.IsBlocked)
	assert.Nil(t, got.BlockedUntil)
	assert.Equal(t, now, got.LastResetAt)
}

func TestApplyBlockExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	active := models.EmailCounter{IsBlocked: true, BlockedUntil: &future}
	assert.True(t, ApplyBlockExpiry(active, now).IsBlocked)

	expired := models.EmailCounter{IsBlocked: true, BlockedUntil: &past}
	got := ApplyBlockExpiry(expired, now)
	assert.False(t, got.IsBlocked)
	assert.Nil(t, got.BlockedUntil)

	exact := models.EmailCounter{IsBlocked: true, BlockedUntil: &now}
	assert.False(t, ApplyBlockExpiry(exact, now).IsBlocked)
}

func TestRecordSend_BlocksAtLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc, _ := newService(t, now, models.EmailCounter{
		SenderID: "s1", DailyLimit: 3, DirectSendCount: 2, TotalCount: 2, LastResetAt: now.Add(-time.Hour),
	})

	c, err := svc.RecordSend(ctx, "s1", true)
	require.NoError(t, err)
	assert.Equal(t, 3, c.DirectSendCount)
	assert.True(t, c.IsBlocked)
	require.NotNil(t, c.BlockedUntil)
	assert.Equal(t, now.Add(24*time.Hour), *c.BlockedUntil)

	c, err = svc.RecordSend(ctx, "s1", true)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, 3, c.DirectSendCount)
	assert.Equal(t, 3, c.TotalCount)

	stored, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.DirectSendCount)
}

func TestRecordSend_ScheduledIgnoresBlock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	svc, _ := newService(t, now, models.EmailCounter{
		SenderID: "s1", DailyLimit: 1, DirectSendCount: 1, TotalCount: 1,
		LastResetAt: now, IsBlocked: true, BlockedUntil: &until,
	})

	c, err := svc.RecordSend(ctx, "s1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ScheduledSendCount)
	assert.Equal(t, 2, c.TotalCount)
	assert.Equal(t, &until, c.BlockedUntil)

	svc2, _ := newService(t, now, models.EmailCounter{SenderID: "s2", DailyLimit: 1, LastResetAt: now})
	c, err = svc2.RecordSend(ctx, "s2", false)
	require.NoError(t, err)
	assert.False(t, c.IsBlocked)
}

func TestRecordSend_ResetBeforeIncrement(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	svc, _ := newService(t, now, models.EmailCounter{
		SenderID: "s1", DailyLimit: 3, DirectSendCount: 3, ScheduledSendCount: 4, TotalCount: 7,
		LastResetAt: now.Add(-25 * time.Hour), IsBlocked: true, BlockedUntil: &until,
	})

	c, err := svc.RecordSend(ctx, "s1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, c.DirectSendCount)
	assert.Equal(t, 0, c.ScheduledSendCount)
	assert.Equal(t, 1, c.TotalCount)
	assert.False(t, c.IsBlocked)
	assert.Equal(t, now, c.LastResetAt)
}

func TestRecordSend_ExpiredBlockAllowsSend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	svc, _ := newService(t, now, models.EmailCounter{
		SenderID: "s1", DailyLimit: 10, DirectSendCount: 4, TotalCount: 4,
		LastResetAt: now.Add(-time.Hour), IsBlocked: true, BlockedUntil: &past,
	})

	c, err := svc.RecordSend(ctx, "s1", true)
	require.NoError(t, err)
	assert.False(t, c.IsBlocked)
	assert.Equal(t, 5, c.DirectSendCount)
}

func TestRecordSend_RejectedSendWritesRowBack(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	lastReset := now.Add(-23 * time.Hour)
	svc, store := newService(t, now, models.EmailCounter{
		SenderID: "s1", DailyLimit: 2, DirectSendCount: 2, ScheduledSendCount: 1, TotalCount: 3,
		LastResetAt: lastReset, IsBlocked: true, BlockedUntil: &until,
	})

	// a reset lifts the block, so a rejection only ever writes back the row it read
	_, err := svc.RecordSend(ctx, "s1", true)
	require.ErrorIs(t, err, ErrBlocked)

	stored, err := store.GetCounter(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.DirectSendCount)
	assert.Equal(t, 3, stored.TotalCount)
	assert.Equal(t, lastReset, stored.LastResetAt)
	assert.True(t, stored.IsBlocked)

	// the first call past the 24h window resets and sends
	later := lastReset.Add(ResetInterval)
	svc.Now = func() time.Time { return later }

	c, err := svc.RecordSend(ctx, "s1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, c.DirectSendCount)

	stored, err = store.GetCounter(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, later, stored.LastResetAt)
	assert.Equal(t, 1, stored.TotalCount)
	assert.False(t, stored.IsBlocked)
}

func TestRecordSend_ConcurrentUpdatesNotLost(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc, store := newService(t, now, models.EmailCounter{SenderID: "s", DailyLimit: 1, LastResetAt: now})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSend(ctx, "s", false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := store.GetCounter(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, n, c.ScheduledSendCount)
	assert.Equal(t, n, c.TotalCount)
}

func TestRecordSend_UnknownSender(t *testing.T) {
	svc, _ := newService(t, time.Now(), models.EmailCounter{SenderID: "s1"})

	_, err := svc.RecordSend(context.Background(), "nobody", true)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	svc, _ := newService(t, now, models.EmailCounter{
		SenderID: "s1", DailyLimit: 3, DirectSendCount: 3, TotalCount: 3,
		LastResetAt: now.Add(-time.Hour), IsBlocked: true, BlockedUntil: &until,
	})

	c, err := svc.Reset(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, c.TotalCount)
	assert.False(t, c.IsBlocked)
	assert.Equal(t, now, c.LastResetAt)
	assert.Equal(t, 3, c.DailyLimit)
}

func TestSenderID(t *testing.T) {
	assert.Equal(t, "dr.smith@clinic.com", SenderID("  Dr.Smith@Clinic.com "))
}
