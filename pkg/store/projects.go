package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rfvault/rfvault/pkg/ids"
)

// InvitationTTL is how long a project invitation remains valid.
const InvitationTTL = 7 * 24 * time.Hour

func (s *store) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = ids.New()
	}

	if p.RetentionDays < 0 {
		return fmt.Errorf(
			"creating project: %w: retention_days must not be negative",
			ErrValidation,
		)
	}

	return translate(
		s.db.WithContext(ctx).Create(p).Error,
		"creating project",
	)
}

func (s *store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).
		First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err, "getting project")
	}

	return &p, nil
}

func (s *store) ListWorkspaceProjects(
	ctx context.Context, workspaceID string,
) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Find(&projects).Error; err != nil {
		return nil, translate(err, "listing workspace projects")
	}

	return projects, nil
}

func (s *store) SetProjectRetention(
	ctx context.Context, id string, days int,
) error {
	if days < 0 {
		return fmt.Errorf(
			"setting project retention: %w: retention_days must not be negative",
			ErrValidation,
		)
	}

	result := s.db.WithContext(ctx).
		Model(&Project{}).
		Where("id = ?", id).
		Update("retention_days", days)
	if result.Error != nil {
		return translate(result.Error, "setting project retention")
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("setting project retention: %w", ErrNotFound)
	}

	return nil
}

// DeleteProject removes the project and everything beneath it (runs,
// files, tags, timings, keys, memberships, invitations) in one
// transaction. It returns the storage paths of the deleted file rows so
// the caller can remove the objects.
func (s *store) DeleteProject(
	ctx context.Context, id string,
) ([]string, error) {
	var paths []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Project
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return err
		}

		var runIDs []string
		if err := tx.Model(&Run{}).
			Where("project_id = ?", id).
			Pluck("id", &runIDs).Error; err != nil {
			return err
		}

		if len(runIDs) > 0 {
			if err := tx.Model(&File{}).
				Where("run_id IN ?", runIDs).
				Pluck("path", &paths).Error; err != nil {
				return err
			}

			// Children first, bottom-up.
			if err := tx.Where("run_id IN ?", runIDs).
				Delete(&ExecutionTiming{}).Error; err != nil {
				return err
			}

			if err := tx.Where("run_id IN ?", runIDs).
				Delete(&RunTag{}).Error; err != nil {
				return err
			}

			if err := tx.Where("run_id IN ?", runIDs).
				Delete(&File{}).Error; err != nil {
				return err
			}

			if err := tx.Where("project_id = ?", id).
				Delete(&Run{}).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("project_id = ?", id).
			Delete(&APIKey{}).Error; err != nil {
			return err
		}

		if err := tx.Where("project_id = ?", id).
			Delete(&ProjectUser{}).Error; err != nil {
			return err
		}

		if err := tx.Where("project_id = ?", id).
			Delete(&ProjectInvitation{}).Error; err != nil {
			return err
		}

		return tx.Delete(&Project{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "deleting project")
	}

	return paths, nil
}

func (s *store) ProjectStorageUsage(
	ctx context.Context, projectID string,
) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).
		Model(&File{}).
		Joins("JOIN runs ON runs.id = files.run_id").
		Where("runs.project_id = ?", projectID).
		Select("COALESCE(SUM(files.size), 0)").
		Scan(&total).Error; err != nil {
		return 0, translate(err, "computing project storage usage")
	}

	return total, nil
}

// --- Membership ---

func (s *store) AddProjectUser(ctx context.Context, pu *ProjectUser) error {
	if pu.Role != RoleOwner && pu.Role != RoleMember {
		return fmt.Errorf(
			"adding project user: %w: unknown role %q", ErrValidation, pu.Role,
		)
	}

	return translate(
		s.db.WithContext(ctx).Create(pu).Error,
		"adding project user",
	)
}

// RemoveProjectAccess removes a user's direct membership, or failing
// that, their pending invitation.
func (s *store) RemoveProjectAccess(
	ctx context.Context, projectID, username string,
) error {
	result := s.db.WithContext(ctx).
		Where(
			"project_id = ? AND user_id = (SELECT id FROM users WHERE username = ?)",
			projectID, username,
		).
		Delete(&ProjectUser{})
	if result.Error != nil {
		return translate(result.Error, "removing project membership")
	}

	if result.RowsAffected > 0 {
		return nil
	}

	result = s.db.WithContext(ctx).
		Where("project_id = ? AND invitee_username = ?", projectID, username).
		Delete(&ProjectInvitation{})
	if result.Error != nil {
		return translate(result.Error, "removing project invitation")
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("removing project access: %w", ErrNotFound)
	}

	return nil
}

func (s *store) ResolveRole(
	ctx context.Context, projectID, userID string,
) (string, error) {
	var pu ProjectUser
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&pu).Error; err != nil {
		return "", translate(err, "resolving project role")
	}

	return pu.Role, nil
}

// --- Invitations ---

func (s *store) CreateInvitation(
	ctx context.Context, inv *ProjectInvitation,
) error {
	if inv.ID == "" {
		inv.ID = ids.New()
	}

	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = inv.CreatedAt.Add(InvitationTTL)
	}

	return translate(
		s.db.WithContext(ctx).Create(inv).Error,
		"creating invitation",
	)
}

// ListSharedUsers returns the usernames with non-owner membership plus
// any usernames holding unexpired invitations.
func (s *store) ListSharedUsers(
	ctx context.Context, projectID string, now time.Time,
) ([]string, error) {
	var members []string
	if err := s.db.WithContext(ctx).
		Model(&ProjectUser{}).
		Joins("JOIN users ON users.id = project_users.user_id").
		Where("project_users.project_id = ? AND project_users.role <> ?",
			projectID, RoleOwner).
		Pluck("users.username", &members).Error; err != nil {
		return nil, translate(err, "listing project members")
	}

	var invited []string
	if err := s.db.WithContext(ctx).
		Model(&ProjectInvitation{}).
		Where("project_id = ? AND expires_at > ?", projectID, now).
		Pluck("invitee_username", &invited).Error; err != nil {
		return nil, translate(err, "listing project invitations")
	}

	return append(members, invited...), nil
}
