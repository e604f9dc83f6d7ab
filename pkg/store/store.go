// Package store persists rfvault's domain entities in a relational
// database and owns every uniqueness and cascade invariant the domain
// relies on.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rfvault/rfvault/pkg/config"
)

// Store provides persistence for rfvault's entities.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Users and workspaces.
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	WorkspaceStorageUsage(ctx context.Context, workspaceID string) (int64, error)
	ActiveProjectCount(ctx context.Context, workspaceID string) (int, error)

	// Projects, membership, invitations.
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListWorkspaceProjects(ctx context.Context, workspaceID string) ([]Project, error)
	SetProjectRetention(ctx context.Context, id string, days int) error
	DeleteProject(ctx context.Context, id string) ([]string, error)
	ProjectStorageUsage(ctx context.Context, projectID string) (int64, error)
	AddProjectUser(ctx context.Context, pu *ProjectUser) error
	RemoveProjectAccess(ctx context.Context, projectID, username string) error
	ResolveRole(ctx context.Context, projectID, userID string) (string, error)
	CreateInvitation(ctx context.Context, inv *ProjectInvitation) error
	ListSharedUsers(ctx context.Context, projectID string, now time.Time) ([]string, error)

	// API keys.
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, projectID, prefix string) (*APIKey, error)
	DeleteProjectAPIKeys(ctx context.Context, projectID string) error

	// Runs and files.
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, projectID string, f RunFilter) ([]Run, int64, error)
	UpdateRunResults(ctx context.Context, runID string, res *RunResults) error
	DeleteRun(ctx context.Context, id string) ([]string, error)
	RunsCreatedBefore(ctx context.Context, projectID string, cutoff time.Time) ([]string, error)
	ProjectsWithRetention(ctx context.Context) ([]Project, error)
	CreateFile(ctx context.Context, f *File) error
	GetFileByName(ctx context.Context, runID, name string) (*File, error)
	ListFiles(ctx context.Context, runID string) ([]File, error)
	DeleteFile(ctx context.Context, id string) error
	ListObjectPaths(ctx context.Context) ([]string, error)

	// Run tags.
	SetTag(ctx context.Context, runID, key, value string) error
	ListTags(ctx context.Context, runID string) ([]RunTag, error)
	QueryRunsByTag(ctx context.Context, key, value string) ([]string, error)
	ProjectTagSummary(ctx context.Context, projectID string) (map[string][]string, error)

	// Timing statistics.
	RecordTimings(ctx context.Context, runID string, entries []TimingEntry) error
	StatsForRun(ctx context.Context, runID string) ([]TimingStat, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Workspace{},
		&Project{},
		&APIKey{},
		&Run{},
		&File{},
		&ProjectUser{},
		&ProjectInvitation{},
		&RunTag{},
		&ExecutionElement{},
		&ExecutionTiming{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}
