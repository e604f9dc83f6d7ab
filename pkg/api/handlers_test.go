package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfvault/rfvault/pkg/artifact"
	"github.com/rfvault/rfvault/pkg/config"
	"github.com/rfvault/rfvault/pkg/identity"
	"github.com/rfvault/rfvault/pkg/retention"
	"github.com/rfvault/rfvault/pkg/storage"
	"github.com/rfvault/rfvault/pkg/store"
)

type testEnv struct {
	server  *server
	router  http.Handler
	store   store.Store
	project *store.Project
	apiKey  string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		Limits: config.LimitsConfig{
			MaxRetentionDays: config.DefaultMaxRetentionDays,
		},
	}

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	backend, err := storage.NewLocalBackend(&config.LocalStorageConfig{
		Root: t.TempDir(),
	})
	require.NoError(t, err)

	ctx := context.Background()

	user := &store.User{Username: "owner"}
	require.NoError(t, st.CreateUser(ctx, user))

	ws := &store.Workspace{
		Name:                "ws",
		OwnerID:             user.ID,
		StorageLimitBytes:   config.DefaultStorageLimitBytes,
		ActiveProjectsLimit: config.DefaultActiveProjectsLimit,
	}
	require.NoError(t, st.CreateWorkspace(ctx, ws))

	p := &store.Project{Name: "proj", WorkspaceID: ws.ID}
	require.NoError(t, st.CreateProject(ctx, p))

	idSvc := identity.NewService(log, st)

	plaintext, _, err := idSvc.IssueAPIKey(ctx, p.ID)
	require.NoError(t, err)

	engine := retention.NewEngine(log, st, backend)

	srv := &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		store:    st,
		identity: idSvc,
		backend:  backend,
		engine:   engine,
		coordinator: artifact.NewCoordinator(
			log, st, backend, engine,
		),
	}

	return &testEnv{
		server:  srv,
		router:  srv.buildRouter(),
		store:   st,
		project: p,
		apiKey:  plaintext,
	}
}

// do performs a request against the router, optionally authenticated.
func (e *testEnv) do(
	t *testing.T, method, path, key string, body any,
) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	return rec
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) store.Run {
	t.Helper()

	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	return run
}

func TestHandleHealth(t *testing.T) {
	e := setupTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRun_RequiresKey(t *testing.T) {
	e := setupTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/runs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/runs", "bogus-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestLifecycle(t *testing.T) {
	e := setupTestEnv(t)

	// Create a tagged run.
	rec := e.do(t, http.MethodPost, "/api/v1/runs", e.apiKey,
		map[string]any{"tags": []string{"env:ci", "smoke"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	run := decodeRun(t, rec)
	require.NotEmpty(t, run.ID)

	// Upload an artifact.
	rec = e.do(t, http.MethodPut,
		"/api/v1/runs/"+run.ID+"/files/log.html", e.apiKey,
		"<html>log</html>")
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate names conflict.
	rec = e.do(t, http.MethodPut,
		"/api/v1/runs/"+run.ID+"/files/log.html", e.apiKey, "again")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Record results with timings.
	rec = e.do(t, http.MethodPost,
		"/api/v1/runs/"+run.ID+"/results", e.apiKey,
		map[string]any{
			"total_tests": 3, "passed": 2, "failed": 1, "skipped": 0,
			"failed_test_names": []string{"Login Fails"},
			"timings": []map[string]any{{
				"name": "Root", "type": "suite",
				"total_time": 12.5, "call_count": 1,
			}},
		})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Read everything back.
	rec = e.do(t, http.MethodGet, "/api/v1/runs/"+run.ID, e.apiKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeRun(t, rec)
	assert.Equal(t, store.VerdictFail, got.Verdict)
	assert.Equal(t, 3, got.TotalTests)

	rec = e.do(t, http.MethodGet,
		"/api/v1/runs/"+run.ID+"/files/log.html", e.apiKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>log</html>", rec.Body.String())

	rec = e.do(t, http.MethodGet,
		"/api/v1/runs/"+run.ID+"/stats", e.apiKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats []store.TimingStat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "Root", stats[0].Name)

	// Delete the run.
	rec = e.do(t, http.MethodDelete, "/api/v1/runs/"+run.ID, e.apiKey, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/runs/"+run.ID, e.apiKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTagEndpoints(t *testing.T) {
	e := setupTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/runs", e.apiKey, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	run := decodeRun(t, rec)

	rec = e.do(t, http.MethodPut,
		"/api/v1/runs/"+run.ID+"/tags/Env", e.apiKey,
		map[string]string{"value": "staging"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Case-differing duplicate conflicts.
	rec = e.do(t, http.MethodPut,
		"/api/v1/runs/"+run.ID+"/tags/env", e.apiKey,
		map[string]string{"value": "production"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Reserved keys are rejected.
	rec = e.do(t, http.MethodPut,
		"/api/v1/runs/"+run.ID+"/tags/verdict", e.apiKey,
		map[string]string{"value": "pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet,
		"/api/v1/runs/"+run.ID+"/tags", e.apiKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tags []store.RunTag
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tags))
	require.Len(t, tags, 1)
	assert.Equal(t, "Env", tags[0].Key)
	assert.Equal(t, "staging", tags[0].Value)
}

func TestListRuns_QueryParams(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := e.do(t, http.MethodPost, "/api/v1/runs", e.apiKey,
			map[string]any{"tags": []string{"env:ci"}})
		require.Equal(t, http.StatusCreated, rec.Code)

		run := decodeRun(t, rec)

		verdict := store.VerdictPass
		passed, failed := 1, 0

		if i == 0 {
			verdict = store.VerdictFail
			passed, failed = 0, 1
		}

		require.NoError(t, e.store.UpdateRunResults(ctx, run.ID,
			&store.RunResults{
				TotalTests: 1, Passed: passed, Failed: failed,
				Verdict: verdict,
			}))
	}

	base := "/api/v1/projects/" + e.project.ID + "/runs"

	rec := e.do(t, http.MethodGet, base+"?env=ci&limit=2", e.apiKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listRunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 3, resp.Total)
	assert.Len(t, resp.Runs, 2)

	rec = e.do(t, http.MethodGet, base+"?verdict=FAIL", e.apiKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Total)

	// A malformed tag key in the query is rejected.
	rec = e.do(t, http.MethodGet, base+"?9bad=x", e.apiKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Tag summary includes the verdict pseudo-key.
	rec = e.do(t, http.MethodGet,
		"/api/v1/projects/"+e.project.ID+"/tags", e.apiKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, []string{"ci"}, summary["env"])
	assert.ElementsMatch(t, []string{"pass", "fail"}, summary["verdict"])
}

func TestPublicRunAccess(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()

	private, err := e.server.coordinator.CreateRun(ctx, e.project.ID, nil)
	require.NoError(t, err)

	public := &store.Run{ProjectID: e.project.ID, PublicAccess: true}
	require.NoError(t, e.store.CreateRun(ctx, public))

	// Anonymous reads reach public runs only.
	rec := e.do(t, http.MethodGet, "/api/v1/runs/"+public.ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/runs/"+private.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The project's own key reads both.
	rec = e.do(t, http.MethodGet, "/api/v1/runs/"+private.ID, e.apiKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKeyScopedToProject(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()

	// A run in a different project is invisible to this key.
	other := &store.Project{Name: "other", WorkspaceID: e.project.WorkspaceID}
	require.NoError(t, e.store.CreateProject(ctx, other))

	run := &store.Run{ProjectID: other.ID}
	require.NoError(t, e.store.CreateRun(ctx, run))

	rec := e.do(t, http.MethodGet, "/api/v1/runs/"+run.ID, e.apiKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/runs/"+run.ID, e.apiKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRotateAPIKey(t *testing.T) {
	e := setupTestEnv(t)

	rec := e.do(t, http.MethodPost,
		"/api/v1/projects/"+e.project.ID+"/api-key", e.apiKey, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp apiKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.APIKey)
	assert.True(t, strings.HasPrefix(resp.APIKey, e.project.ID))

	// The old key no longer works.
	rec = e.do(t, http.MethodPost, "/api/v1/runs", e.apiKey, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/runs", resp.APIKey, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSetRetention_Capped(t *testing.T) {
	e := setupTestEnv(t)

	base := "/api/v1/projects/" + e.project.ID + "/retention"

	rec := e.do(t, http.MethodPut, base, e.apiKey,
		map[string]int{"retention_days": 30})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodPut, base, e.apiKey,
		map[string]int{"retention_days": 181})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, base, e.apiKey,
		map[string]int{"retention_days": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	got, err := e.store.GetProject(context.Background(), e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.RetentionDays)
}
