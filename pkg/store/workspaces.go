package store

import (
	"context"
	"fmt"

	"github.com/rfvault/rfvault/pkg/ids"
)

// --- Users ---

func (s *store) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = ids.New()
	}

	return translate(
		s.db.WithContext(ctx).Create(user).Error,
		"creating user",
	)
}

func (s *store) GetUserByUsername(
	ctx context.Context, username string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error; err != nil {
		return nil, translate(err, "getting user by username")
	}

	return &user, nil
}

// --- Workspaces ---

func (s *store) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	if ws.ID == "" {
		ws.ID = ids.New()
	}

	if ws.OwnerID == "" {
		return fmt.Errorf("creating workspace: %w: owner is required", ErrValidation)
	}

	// The owner must exist; gorm does not enforce the reference on
	// every driver configuration.
	var owner User
	if err := s.db.WithContext(ctx).
		First(&owner, "id = ?", ws.OwnerID).Error; err != nil {
		return translate(err, "creating workspace: resolving owner")
	}

	return translate(
		s.db.WithContext(ctx).Create(ws).Error,
		"creating workspace",
	)
}

func (s *store) GetWorkspace(
	ctx context.Context, id string,
) (*Workspace, error) {
	var ws Workspace
	if err := s.db.WithContext(ctx).
		First(&ws, "id = ?", id).Error; err != nil {
		return nil, translate(err, "getting workspace")
	}

	return &ws, nil
}

// WorkspaceStorageUsage sums file sizes across every run of every project
// in the workspace.
func (s *store) WorkspaceStorageUsage(
	ctx context.Context, workspaceID string,
) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).
		Model(&File{}).
		Joins("JOIN runs ON runs.id = files.run_id").
		Joins("JOIN projects ON projects.id = runs.project_id").
		Where("projects.workspace_id = ?", workspaceID).
		Select("COALESCE(SUM(files.size), 0)").
		Scan(&total).Error; err != nil {
		return 0, translate(err, "computing workspace storage usage")
	}

	return total, nil
}

func (s *store) ActiveProjectCount(
	ctx context.Context, workspaceID string,
) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Project{}).
		Where("workspace_id = ?", workspaceID).
		Count(&count).Error; err != nil {
		return 0, translate(err, "counting workspace projects")
	}

	return int(count), nil
}
