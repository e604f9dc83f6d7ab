package store

import (
	"context"

	"github.com/rfvault/rfvault/pkg/ids"
)

func (s *store) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if key.ID == "" {
		key.ID = ids.New()
	}

	return translate(
		s.db.WithContext(ctx).Create(key).Error,
		"creating api key",
	)
}

// GetAPIKeyByPrefix returns the single candidate row for (project,
// prefix). The unique index keeps this to at most one row, so key
// verification never scans the table.
func (s *store) GetAPIKeyByPrefix(
	ctx context.Context, projectID, prefix string,
) (*APIKey, error) {
	var key APIKey
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND key_prefix = ?", projectID, prefix).
		First(&key).Error; err != nil {
		return nil, translate(err, "getting api key by prefix")
	}

	return &key, nil
}

// DeleteProjectAPIKeys removes every key for the project, invalidating
// them all. Used by key rotation.
func (s *store) DeleteProjectAPIKeys(
	ctx context.Context, projectID string,
) error {
	return translate(
		s.db.WithContext(ctx).
			Where("project_id = ?", projectID).
			Delete(&APIKey{}).Error,
		"deleting project api keys",
	)
}
