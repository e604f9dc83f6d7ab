package store

import (
	"time"

	"gorm.io/datatypes"
)

// Project role constants.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Execution element type constants.
const (
	ElementSuite   = "suite"
	ElementTest    = "test"
	ElementKeyword = "keyword"
)

// Run verdict constants.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// User is an account that can own workspaces and be a project member.
// External identity details (provider id, username, email) are optional;
// accounts created through an identity provider carry them, service
// accounts do not.
type User struct {
	ID        string `gorm:"primaryKey;size:22" json:"id"`
	Username  string `gorm:"uniqueIndex;size:255" json:"username,omitempty"`
	Email     string `gorm:"size:255" json:"email,omitempty"`
	Provider  string `gorm:"size:64" json:"provider,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Workspace is the top-level tenant boundary. It owns projects and the
// storage bucket their artifacts land in.
type Workspace struct {
	ID      string `gorm:"primaryKey;size:22" json:"id"`
	Name    string `gorm:"not null" json:"name"`
	OwnerID string `gorm:"index;not null;size:22" json:"owner_id"`
	Owner   User   `gorm:"foreignKey:OwnerID" json:"-"`

	StorageLimitBytes   int64 `gorm:"not null" json:"storage_limit_bytes"`
	ActiveProjectsLimit int   `gorm:"not null" json:"active_projects_limit"`

	// BucketName is the object storage bucket holding this workspace's
	// artifacts.
	BucketName string `gorm:"size:255" json:"-"`

	// ExpiresAt marks the end of the workspace's subscription. Ingestion
	// into an expired workspace is rejected.
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	SubscriptionID string     `gorm:"size:255" json:"-"`

	// OIDC settings for workspace-scoped guest login. The login flow
	// itself lives outside this service.
	OIDCEnabled     bool   `json:"oidc_enabled"`
	OIDCProviderURL string `gorm:"size:512" json:"oidc_provider_url,omitempty"`
	OIDCClientID    string `gorm:"size:255" json:"oidc_client_id,omitempty"`
	OIDCIssuerURL   string `gorm:"size:512" json:"oidc_issuer_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Project groups runs. It is the unit of API key scoping and of the
// retention window.
type Project struct {
	ID          string    `gorm:"primaryKey;size:22" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	WorkspaceID string    `gorm:"index;not null;size:22" json:"workspace_id"`
	Workspace   Workspace `gorm:"foreignKey:WorkspaceID" json:"-"`

	PublicAccess bool `json:"public_access"`

	// RetentionDays is the authoritative retention window for this
	// project's runs. Zero disables expiry.
	RetentionDays int `gorm:"not null" json:"retention_days"`

	CreatedAt time.Time `json:"created_at"`
}

// APIKey holds the verifier for one project-scoped ingestion key. The raw
// secret is never stored; KeyPrefix is the short indexable portion used to
// find the candidate row before digest verification.
type APIKey struct {
	ID        string  `gorm:"primaryKey;size:22" json:"id"`
	ProjectID string  `gorm:"uniqueIndex:idx_api_keys_project_prefix,priority:1;not null;size:22" json:"project_id"`
	Project   Project `gorm:"foreignKey:ProjectID" json:"-"`
	KeyPrefix string  `gorm:"uniqueIndex:idx_api_keys_project_prefix,priority:2;not null;size:8" json:"key_prefix"`
	HashedKey string  `gorm:"not null;size:255" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is one test execution session.
type Run struct {
	ID        string  `gorm:"primaryKey;size:22" json:"id"`
	ProjectID string  `gorm:"index;not null;size:22" json:"project_id"`
	Project   Project `gorm:"foreignKey:ProjectID" json:"-"`

	PublicAccess bool      `json:"public_access"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	TotalTests int    `json:"total_tests"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Verdict    string `gorm:"size:16" json:"verdict,omitempty"`

	FailedTestNames datatypes.JSONSlice[string] `json:"failed_test_names,omitempty"`
}

// File is one artifact attached to a run. Name is unique within the run;
// Path is the object storage key holding the bytes.
type File struct {
	ID        string    `gorm:"primaryKey;size:22" json:"id"`
	RunID     string    `gorm:"uniqueIndex:idx_files_run_name,priority:1;not null;size:22" json:"run_id"`
	Name      string    `gorm:"uniqueIndex:idx_files_run_name,priority:2;not null;size:255" json:"name"`
	Path      string    `gorm:"not null;size:1024" json:"path"`
	Size      int64     `gorm:"not null" json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectUser grants a user a role on a project.
type ProjectUser struct {
	ProjectID string `gorm:"primaryKey;size:22" json:"project_id"`
	UserID    string `gorm:"primaryKey;size:22" json:"user_id"`
	Role      string `gorm:"not null;size:16" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectInvitation is a pending invite of a username to a project.
type ProjectInvitation struct {
	ID              string    `gorm:"primaryKey;size:22" json:"id"`
	ProjectID       string    `gorm:"index;not null;size:22" json:"project_id"`
	InviterID       string    `gorm:"not null;size:22" json:"inviter_id"`
	InviteeUsername string    `gorm:"index;not null;size:255" json:"invitee_username"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// RunTag is a key/value label on a run. The primary key is case-sensitive
// on (run_id, key); KeyFold carries the lowercased key under a second
// unique index so that two tags on one run can never differ only by case.
type RunTag struct {
	RunID string `gorm:"primaryKey;size:22;uniqueIndex:idx_run_tags_fold,priority:1" json:"run_id"`

	// The (key, value) index backs exact-match run searches.
	Key     string `gorm:"primaryKey;size:50;index:idx_run_tags_kv,priority:1" json:"key"`
	KeyFold string `gorm:"uniqueIndex:idx_run_tags_fold,priority:2;not null;size:50" json:"-"`
	Value   string `gorm:"not null;size:100;index:idx_run_tags_kv,priority:2" json:"value"`
}

// ExecutionElement is a deduplicated (name, type) pair shared by the
// timing rows of every run that executed it. Names are often long and
// recur across thousands of runs, so they are stored once.
type ExecutionElement struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex:idx_execution_elements_name_type,priority:1;not null;size:512" json:"name"`
	Type string `gorm:"uniqueIndex:idx_execution_elements_name_type,priority:2;not null;size:16" json:"type"`
}

// ExecutionTiming holds the pre-aggregated timing metrics of one element
// in one run.
type ExecutionTiming struct {
	RunID     string `gorm:"primaryKey;size:22" json:"run_id"`
	ElementID uint   `gorm:"primaryKey" json:"element_id"`

	TotalTime    float64 `json:"total_time"`
	CallCount    int64   `json:"call_count"`
	AverageTime  float64 `json:"average_time"`
	MedianTime   float64 `json:"median_time"`
	StdDeviation float64 `json:"std_deviation"`
}
