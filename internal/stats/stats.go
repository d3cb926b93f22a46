package stats

import (
	"context"
	"errors"
	"time"

	"CampaignMailer/internal/db"
	"CampaignMailer/internal/models"
)

// Service maintains the running processing totals. Totals only grow, except through ResetAll.
type Service struct {
	Repo db.StatsRepository
	Now  func() time.Time
}

func New(repo db.StatsRepository) *Service {
	return &Service{Repo: repo, Now: time.Now}
}

// GetCurrent returns zero stats when nothing has been persisted yet.
func (s *Service) GetCurrent(ctx context.Context) (*models.ProcessingStats, error) {
	st, err := s.Repo.CurrentStats(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return &models.ProcessingStats{}, nil
	}
	return st, err
}

func (s *Service) Accumulate(ctx context.Context, delta models.StatsDelta) (*models.ProcessingStats, error) {
	now := s.Now()

	return s.Repo.UpdateStats(ctx, func(st *models.ProcessingStats) {
		st.TotalProcessed += delta.Processed
		st.TotalFailed += delta.Failed
		st.SessionProcessed += delta.Processed
		st.SessionFailed += delta.Failed
		st.LastProcessingTime = &now
	})
}

func (s *Service) ResetSession(ctx context.Context) (*models.ProcessingStats, error) {
	now := s.Now()

	return s.Repo.UpdateStats(ctx, func(st *models.ProcessingStats) {
		st.SessionProcessed = 0
		st.SessionFailed = 0
		st.LastProcessingTime = &now
	})
}

// ResetAll zeroes totals as well. Only the explicit reset endpoint calls it.
func (s *Service) ResetAll(ctx context.Context) (*models.ProcessingStats, error) {
	now := s.Now()

	return s.Repo.UpdateStats(ctx, func(st *models.ProcessingStats) {
		st.TotalProcessed = 0
		st.TotalFailed = 0
		st.SessionProcessed = 0
		st.SessionFailed = 0
		st.LastProcessingTime = &now
	})
}

// Fields lists the columns Overwrite may set; nil fields are left alone.
type Fields struct {
	TotalProcessed     *int64     `json:"totalProcessed"`
	TotalFailed        *int64     `json:"totalFailed"`
	SessionProcessed   *int64     `json:"sessionProcessed"`
	SessionFailed      *int64     `json:"sessionFailed"`
	LastProcessingTime *time.Time `json:"lastProcessingTime"`
}

func (s *Service) Overwrite(ctx context.Context, f Fields) (*models.ProcessingStats, error) {
	return s.Repo.UpdateStats(ctx, func(st *models.ProcessingStats) {
		if f.TotalProcessed != nil {
			st.TotalProcessed = *f.TotalProcessed
		}
		if f.TotalFailed != nil {
			st.TotalFailed = *f.TotalFailed
		}
		if f.SessionProcessed != nil {
			st.SessionProcessed = *f.SessionProcessed
		}
		if f.SessionFailed != nil {
			st.SessionFailed = *f.SessionFailed
		}
		if f.LastProcessingTime != nil {
			st.LastProcessingTime = f.LastProcessingTime
		}
	})
}
