// Package memory keeps every repository in process memory. It backs tests and
// STORE=memory local runs; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"CampaignMailer/internal/db"
	"CampaignMailer/internal/models"
)

type Store struct {
	mu sync.RWMutex

	queue     []*models.QueueEntry // insertion order
	scheduled []*models.ScheduledEmail
	counters  map[string]*models.EmailCounter
	stats     *models.ProcessingStats
	failed    map[string]*models.FailedEmail
	templates map[string]*models.Template
}

func NewStore() *Store {
	return &Store{
		counters:  make(map[string]*models.EmailCounter),
		failed:    make(map[string]*models.FailedEmail),
		templates: make(map[string]*models.Template),
	}
}

func (s *Store) Repositories() db.Repositories {
	return db.Repositories{
		Queue:     s,
		Scheduled: s,
		Counters:  s,
		Stats:     s,
		Failed:    s,
		Templates: s,
	}
}

// ---------------------------------------------------------------
// Queue
// ---------------------------------------------------------------

func (s *Store) InsertEntries(_ context.Context, entries ...*models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		for _, existing := range s.queue {
			if existing.ID == e.ID {
				return fmt.Errorf("queue entry %s: %w", e.ID, db.ErrExists)
			}
		}
	}
	for _, e := range entries {
		s.queue = append(s.queue, cloneEntry(e))
	}
	return nil
}

func (s *Store) GetEntry(_ context.Context, id string) (*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.queue {
		if e.ID == id {
			return cloneEntry(e), nil
		}
	}
	return nil, fmt.Errorf("queue entry %s: %w", id, db.ErrNotFound)
}

func (s *Store) ListEntries(_ context.Context) ([]models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.QueueEntry, 0, len(s.queue))
	for _, e := range s.queue {
		out = append(out, *cloneEntry(e))
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) ListPending(ctx context.Context) ([]models.QueueEntry, error) {
	all, _ := s.ListEntries(ctx)

	pending := make([]models.QueueEntry, 0, len(all))
	for _, e := range all {
		if e.Status == "" || e.Status == models.StatusPending {
			e.Status = models.StatusPending
			pending = append(pending, e)
		}
	}
	return pending, nil
}

func (s *Store) UpdateEntry(_ context.Context, e *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.queue {
		if existing.ID == e.ID {
			existing.Status = e.Status
			existing.ErrorMsg = e.ErrorMsg
			existing.ProcessedAt = e.ProcessedAt
			existing.RetryCount = e.RetryCount
			return nil
		}
	}
	return fmt.Errorf("queue entry %s: %w", e.ID, db.ErrNotFound)
}

// sortEntries orders by creation time; the stable sort keeps insertion order on ties.
func sortEntries(entries []models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func cloneEntry(e *models.QueueEntry) *models.QueueEntry {
	c := *e
	if e.EntryData != nil {
		c.EntryData = make(map[string]string, len(e.EntryData))
		for k, v := range e.EntryData {
			c.EntryData[k] = v
		}
	}
	return &c
}

// ---------------------------------------------------------------
// Scheduled
// ---------------------------------------------------------------

func (s *Store) InsertScheduled(_ context.Context, e *models.ScheduledEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.scheduled {
		if existing.ID == e.ID {
			return fmt.Errorf("scheduled email %s: %w", e.ID, db.ErrExists)
		}
	}
	c := *e
	s.scheduled = append(s.scheduled, &c)
	return nil
}

func (s *Store) ListScheduled(_ context.Context) ([]models.ScheduledEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ScheduledEmail, 0, len(s.scheduled))
	for _, e := range s.scheduled {
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledDate.Before(out[j].ScheduledDate)
	})
	return out, nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	all, _ := s.ListScheduled(ctx)

	due := make([]models.ScheduledEmail, 0, len(all))
	for _, e := range all {
		if e.Status == models.StatusScheduled && e.Due(now) {
			due = append(due, e)
		}
	}
	return due, nil
}

func (s *Store) UpdateScheduled(_ context.Context, e *models.ScheduledEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.scheduled {
		if existing.ID == e.ID {
			existing.Status = e.Status
			existing.ErrorMsg = e.ErrorMsg
			existing.ProcessedAt = e.ProcessedAt
			return nil
		}
	}
	return fmt.Errorf("scheduled email %s: %w", e.ID, db.ErrNotFound)
}

// ---------------------------------------------------------------
// Counters
// ---------------------------------------------------------------

func (s *Store) GetCounter(_ context.Context, senderID string) (*models.EmailCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counters[senderID]
	if !ok {
		return nil, fmt.Errorf("counter %s: %w", senderID, db.ErrNotFound)
	}
	out := *c
	return &out, nil
}

func (s *Store) ListCounters(_ context.Context) ([]models.EmailCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.EmailCounter, 0, len(s.counters))
	for _, c := range s.counters {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SenderID < out[j].SenderID })
	return out, nil
}

func (s *Store) EnsureCounter(_ context.Context, c *models.EmailCounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counters[c.SenderID]; ok {
		return nil
	}
	stored := *c
	s.counters[c.SenderID] = &stored
	return nil
}

// PutCounter replaces a counter row as is. Tests use it to seed aged rows.
func (s *Store) PutCounter(c models.EmailCounter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[c.SenderID] = &c
}

func (s *Store) UpdateCounter(
	_ context.Context,
	senderID string,
	fn func(c *models.EmailCounter) error,
) (*models.EmailCounter, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.counters[senderID]
	if !ok {
		return nil, fmt.Errorf("counter %s: %w", senderID, db.ErrNotFound)
	}

	working := *stored
	fnErr := fn(&working)
	*stored = working

	out := working
	return &out, fnErr
}

// ---------------------------------------------------------------
// Stats
// ---------------------------------------------------------------

func (s *Store) CurrentStats(_ context.Context) (*models.ProcessingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stats == nil {
		return nil, fmt.Errorf("processing stats: %w", db.ErrNotFound)
	}
	out := *s.stats
	return &out, nil
}

func (s *Store) UpdateStats(_ context.Context, fn func(st *models.ProcessingStats)) (*models.ProcessingStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats == nil {
		s.stats = &models.ProcessingStats{ID: uuid.NewString()}
	}
	fn(s.stats)
	s.stats.UpdatedAt = time.Now()

	out := *s.stats
	return &out, nil
}

// ---------------------------------------------------------------
// Failed
// ---------------------------------------------------------------

func (s *Store) GetFailed(_ context.Context, id string) (*models.FailedEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.failed[id]
	if !ok {
		return nil, fmt.Errorf("failed email %s: %w", id, db.ErrNotFound)
	}
	out := *f
	return &out, nil
}

func (s *Store) ListFailed(_ context.Context) ([]models.FailedEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.FailedEmail, 0, len(s.failed))
	for _, f := range s.failed {
		out = append(out, *f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FailedAt.After(out[j].FailedAt)
	})
	return out, nil
}

func (s *Store) SaveFailed(_ context.Context, f *models.FailedEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *f
	s.failed[f.ID] = &stored
	return nil
}

func (s *Store) DeleteFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.failed[id]; !ok {
		return fmt.Errorf("failed email %s: %w", id, db.ErrNotFound)
	}
	delete(s.failed, id)
	return nil
}

func (s *Store) DeleteAllFailed(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.failed))
	s.failed = make(map[string]*models.FailedEmail)
	return n, nil
}

// ---------------------------------------------------------------
// Templates
// ---------------------------------------------------------------

func (s *Store) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, db.ErrNotFound)
	}
	out := *t
	return &out, nil
}

func (s *Store) PutTemplate(t models.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = &t
}
