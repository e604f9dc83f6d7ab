// Package identity issues and verifies the project-scoped API keys used
// by report uploaders, and resolves user roles on projects.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rfvault/rfvault/pkg/keys"
	"github.com/rfvault/rfvault/pkg/store"
)

// AuthContext identifies the project a verified API key is scoped to,
// along with its owning workspace.
type AuthContext struct {
	Project   *store.Project
	Workspace *store.Workspace
	KeyID     string
}

// Service verifies, issues, and rotates API keys.
type Service interface {
	// VerifyAPIKey authenticates a presented key. A malformed key, an
	// unknown prefix, and a wrong secret all come back as
	// store.ErrUnauthorized.
	VerifyAPIKey(ctx context.Context, presented string) (*AuthContext, error)

	// IssueAPIKey mints a key for the project. The plaintext is
	// returned exactly once; only its prefix and digest are stored.
	IssueAPIKey(ctx context.Context, projectID string) (string, *store.APIKey, error)

	// RotateAPIKey invalidates every existing key for the project and
	// issues a replacement.
	RotateAPIKey(ctx context.Context, projectID string) (string, *store.APIKey, error)

	// ResolveRole returns the user's role on the project from their
	// membership row.
	ResolveRole(ctx context.Context, projectID, userID string) (string, error)
}

var _ Service = (*service)(nil)

type service struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewService creates an identity Service backed by the given store.
func NewService(log logrus.FieldLogger, st store.Store) Service {
	return &service{
		log:   log.WithField("component", "identity"),
		store: st,
	}
}

func (s *service) VerifyAPIKey(
	ctx context.Context, presented string,
) (*AuthContext, error) {
	projectID, prefix, err := keys.Split(presented)
	if err != nil {
		return nil, fmt.Errorf("verifying api key: %w", store.ErrUnauthorized)
	}

	key, err := s.store.GetAPIKeyByPrefix(ctx, projectID, prefix)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("verifying api key: %w", store.ErrUnauthorized)
		}

		return nil, fmt.Errorf("verifying api key: %w", err)
	}

	if !keys.Verify(key.HashedKey, presented) {
		return nil, fmt.Errorf("verifying api key: %w", store.ErrUnauthorized)
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("verifying api key: %w", err)
	}

	workspace, err := s.store.GetWorkspace(ctx, project.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("verifying api key: %w", err)
	}

	return &AuthContext{
		Project:   project,
		Workspace: workspace,
		KeyID:     key.ID,
	}, nil
}

func (s *service) IssueAPIKey(
	ctx context.Context, projectID string,
) (string, *store.APIKey, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return "", nil, fmt.Errorf("issuing api key: %w", err)
	}

	secret, err := keys.NewSecret()
	if err != nil {
		return "", nil, fmt.Errorf("issuing api key: %w", err)
	}

	plaintext := projectID + secret

	digest, err := keys.Digest(plaintext)
	if err != nil {
		return "", nil, fmt.Errorf("issuing api key: %w", err)
	}

	key := &store.APIKey{
		ProjectID: projectID,
		KeyPrefix: secret[:keys.PrefixLength],
		HashedKey: digest,
	}

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("issuing api key: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"project": projectID,
		"prefix":  key.KeyPrefix,
	}).Info("Issued API key")

	return plaintext, key, nil
}

func (s *service) RotateAPIKey(
	ctx context.Context, projectID string,
) (string, *store.APIKey, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return "", nil, fmt.Errorf("rotating api key: %w", err)
	}

	if err := s.store.DeleteProjectAPIKeys(ctx, projectID); err != nil {
		return "", nil, fmt.Errorf("rotating api key: %w", err)
	}

	return s.IssueAPIKey(ctx, projectID)
}

func (s *service) ResolveRole(
	ctx context.Context, projectID, userID string,
) (string, error) {
	return s.store.ResolveRole(ctx, projectID, userID)
}
