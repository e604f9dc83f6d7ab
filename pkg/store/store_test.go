package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfvault/rfvault/pkg/config"
	"github.com/rfvault/rfvault/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

// seedProject creates a user, a workspace owned by them, and a project,
// returning the project.
func seedProject(t *testing.T, s store.Store) *store.Project {
	t.Helper()

	ctx := context.Background()

	user := &store.User{Username: "owner-" + t.Name()}
	require.NoError(t, s.CreateUser(ctx, user))

	ws := &store.Workspace{
		Name:                "ws",
		OwnerID:             user.ID,
		StorageLimitBytes:   config.DefaultStorageLimitBytes,
		ActiveProjectsLimit: config.DefaultActiveProjectsLimit,
		BucketName:          "rfvault-test",
	}
	require.NoError(t, s.CreateWorkspace(ctx, ws))

	p := &store.Project{
		Name:          "proj",
		WorkspaceID:   ws.ID,
		RetentionDays: 30,
	}
	require.NoError(t, s.CreateProject(ctx, p))

	return p
}

func seedRun(t *testing.T, s store.Store, projectID string) *store.Run {
	t.Helper()

	run := &store.Run{ProjectID: projectID}
	require.NoError(t, s.CreateRun(context.Background(), run))

	return run
}

func TestCreateWorkspace_RequiresOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.CreateWorkspace(ctx, &store.Workspace{Name: "orphan"})
	require.ErrorIs(t, err, store.ErrValidation)

	err = s.CreateWorkspace(ctx, &store.Workspace{
		Name:    "ghost-owner",
		OwnerID: "aaaaaaaaaaaaaaaaaaaaaa",
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateProject_NegativeRetention(t *testing.T) {
	s := setupTestStore(t)

	p := seedProject(t, s)

	err := s.CreateProject(context.Background(), &store.Project{
		Name:          "bad",
		WorkspaceID:   p.WorkspaceID,
		RetentionDays: -1,
	})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestSetProjectRetention(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)

	require.NoError(t, s.SetProjectRetention(ctx, p.ID, 14))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 14, got.RetentionDays)

	err = s.SetProjectRetention(ctx, p.ID, -5)
	require.ErrorIs(t, err, store.ErrValidation)

	err = s.SetProjectRetention(ctx, "bbbbbbbbbbbbbbbbbbbbbb", 14)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWorkspaceUsageCounters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	run := seedRun(t, s, p.ID)

	require.NoError(t, s.CreateFile(ctx, &store.File{
		RunID: run.ID, Name: "log.html", Path: run.ID + "/log.html", Size: 1000,
	}))
	require.NoError(t, s.CreateFile(ctx, &store.File{
		RunID: run.ID, Name: "report.html", Path: run.ID + "/report.html", Size: 500,
	}))

	usage, err := s.WorkspaceStorageUsage(ctx, p.WorkspaceID)
	require.NoError(t, err)
	assert.EqualValues(t, 1500, usage)

	projUsage, err := s.ProjectStorageUsage(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1500, projUsage)

	count, err := s.ActiveProjectCount(ctx, p.WorkspaceID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	projects, err := s.ListWorkspaceProjects(ctx, p.WorkspaceID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, p.ID, projects[0].ID)
}

func TestProjectMembershipAndInvitations(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)

	member := &store.User{Username: "alex"}
	require.NoError(t, s.CreateUser(ctx, member))

	got, err := s.GetUserByUsername(ctx, "alex")
	require.NoError(t, err)
	assert.Equal(t, member.ID, got.ID)

	_, err = s.GetUserByUsername(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.AddProjectUser(ctx, &store.ProjectUser{
		ProjectID: p.ID,
		UserID:    member.ID,
		Role:      store.RoleMember,
	}))

	role, err := s.ResolveRole(ctx, p.ID, member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RoleMember, role)

	_, err = s.ResolveRole(ctx, p.ID, "cccccccccccccccccccccc")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Duplicate membership is a conflict.
	err = s.AddProjectUser(ctx, &store.ProjectUser{
		ProjectID: p.ID,
		UserID:    member.ID,
		Role:      store.RoleMember,
	})
	require.ErrorIs(t, err, store.ErrConflict)

	inv := &store.ProjectInvitation{
		ProjectID:       p.ID,
		InviterID:       member.ID,
		InviteeUsername: "casey",
	}
	require.NoError(t, s.CreateInvitation(ctx, inv))
	assert.Equal(t, inv.CreatedAt.Add(store.InvitationTTL), inv.ExpiresAt)

	shared, err := s.ListSharedUsers(ctx, p.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alex", "casey"}, shared)

	// Expired invitations drop out of the listing.
	shared, err = s.ListSharedUsers(
		ctx, p.ID, time.Now().UTC().Add(store.InvitationTTL+time.Hour),
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alex"}, shared)

	// Removing access prefers membership, then invitations.
	require.NoError(t, s.RemoveProjectAccess(ctx, p.ID, "alex"))
	require.NoError(t, s.RemoveProjectAccess(ctx, p.ID, "casey"))
	require.ErrorIs(t,
		s.RemoveProjectAccess(ctx, p.ID, "casey"), store.ErrNotFound)
}

func TestDeleteProject_Cascades(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	run := seedRun(t, s, p.ID)

	require.NoError(t, s.CreateFile(ctx, &store.File{
		RunID: run.ID, Name: "log.html", Path: run.ID + "/log.html", Size: 10,
	}))
	require.NoError(t, s.SetTag(ctx, run.ID, "env", "ci"))
	require.NoError(t, s.RecordTimings(ctx, run.ID, []store.TimingEntry{
		{Name: "Suite A", Type: store.ElementSuite, TotalTime: 1, CallCount: 1},
	}))

	paths, err := s.DeleteProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{run.ID + "/log.html"}, paths)

	_, err = s.GetProject(ctx, p.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetRun(ctx, run.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	tags, err := s.ListTags(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, tags)

	stats, err := s.StatsForRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, stats)
}
