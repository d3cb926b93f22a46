package db

import (
	"context"

	"CampaignMailer/internal/models"
)

func (s *Store) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template

	err := s.Pool.QueryRow(ctx,
		`SELECT id, name, subject, body FROM email_templates WHERE id=$1`, id,
	).Scan(&t.ID, &t.Name, &t.Subject, &t.Body)
	if err != nil {
		return nil, notFound(err, "template "+id)
	}
	return &t, nil
}
