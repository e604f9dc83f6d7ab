package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rfvault/rfvault/pkg/artifact"
	"github.com/rfvault/rfvault/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps domain error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{err.Error()})
	case errors.Is(err, store.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case errors.Is(err, store.ErrCapacityExceeded):
		writeJSON(w, http.StatusForbidden, errorResponse{err.Error()})
	case errors.Is(err, store.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{"unauthorized"})
	case errors.Is(err, store.ErrStorageUnavailable):
		writeJSON(w, http.StatusBadGateway,
			errorResponse{"storage unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writableRun loads the run and checks the caller's key is scoped to
// its project. Runs in other projects answer not-found rather than
// confirming they exist.
func (s *server) writableRun(
	w http.ResponseWriter, r *http.Request,
) *store.Run {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)

		return nil
	}

	auth := authFromContext(r.Context())
	if auth == nil || auth.Project.ID != run.ProjectID {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

		return nil
	}

	return run
}

// readableRun loads the run for a read. Public runs are readable
// anonymously; private runs need a key scoped to their project.
func (s *server) readableRun(
	w http.ResponseWriter, r *http.Request,
) *store.Run {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)

		return nil
	}

	if run.PublicAccess {
		return run
	}

	auth := authFromContext(r.Context())
	if auth == nil || auth.Project.ID != run.ProjectID {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

		return nil
	}

	return run
}

// readableProject loads the project for a read, under the same access
// rules as readableRun.
func (s *server) readableProject(
	w http.ResponseWriter, r *http.Request,
) *store.Project {
	projectID := chi.URLParam(r, "projectID")

	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, err)

		return nil
	}

	if project.PublicAccess {
		return project
	}

	auth := authFromContext(r.Context())
	if auth == nil || auth.Project.ID != project.ID {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

		return nil
	}

	return project
}

// ownProject checks the caller's key is scoped to the project named in
// the path.
func (s *server) ownProject(
	w http.ResponseWriter, r *http.Request,
) *store.Project {
	projectID := chi.URLParam(r, "projectID")

	auth := authFromContext(r.Context())
	if auth == nil || auth.Project.ID != projectID {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

		return nil
	}

	return auth.Project
}

// --- Ingestion handlers ---

type createRunRequest struct {
	Tags []string `json:"tags,omitempty"`
}

// handleCreateRun starts a run in the key's project.
func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	var req createRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid request body"})

			return
		}
	}

	run, err := s.coordinator.CreateRun(
		r.Context(), auth.Project.ID, req.Tags,
	)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, run)
}

// handleUploadFile attaches the request body as a named artifact.
func (s *server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	run := s.writableRun(w, r)
	if run == nil {
		return
	}

	name := chi.URLParam(r, "name")

	if r.ContentLength < 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"content length is required"})

		return
	}

	f, err := s.coordinator.AttachFile(
		r.Context(), run.ID, name, r.ContentLength, r.Body,
	)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, f)
}

type recordResultsRequest struct {
	TotalTests      int                 `json:"total_tests"`
	Passed          int                 `json:"passed"`
	Failed          int                 `json:"failed"`
	Skipped         int                 `json:"skipped"`
	StartTime       *time.Time          `json:"start_time,omitempty"`
	EndTime         *time.Time          `json:"end_time,omitempty"`
	FailedTestNames []string            `json:"failed_test_names,omitempty"`
	Timings         []store.TimingEntry `json:"timings,omitempty"`
}

// handleRecordResults stores a run's parsed outcome and timing entries.
func (s *server) handleRecordResults(w http.ResponseWriter, r *http.Request) {
	run := s.writableRun(w, r)
	if run == nil {
		return
	}

	var req recordResultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	err := s.coordinator.RecordResults(r.Context(), run.ID, &artifact.Results{
		TotalTests:      req.TotalTests,
		Passed:          req.Passed,
		Failed:          req.Failed,
		Skipped:         req.Skipped,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		FailedTestNames: req.FailedTestNames,
		Timings:         req.Timings,
	})
	if err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type setTagRequest struct {
	Value string `json:"value"`
}

// handleSetTag sets one tag on a run.
func (s *server) handleSetTag(w http.ResponseWriter, r *http.Request) {
	run := s.writableRun(w, r)
	if run == nil {
		return
	}

	var req setTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	key := chi.URLParam(r, "key")

	if err := s.store.SetTag(r.Context(), run.ID, key, req.Value); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteRun removes a run and its artifacts.
func (s *server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	run := s.writableRun(w, r)
	if run == nil {
		return
	}

	if err := s.coordinator.DeleteRun(r.Context(), run.ID); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type apiKeyResponse struct {
	APIKey    string `json:"api_key"`
	KeyPrefix string `json:"key_prefix"`
}

// handleRotateAPIKey replaces the project's keys. The caller must hold
// a currently valid key; the old keys stop working immediately.
func (s *server) handleRotateAPIKey(w http.ResponseWriter, r *http.Request) {
	project := s.ownProject(w, r)
	if project == nil {
		return
	}

	plaintext, key, err := s.identity.RotateAPIKey(r.Context(), project.ID)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, apiKeyResponse{
		APIKey:    plaintext,
		KeyPrefix: key.KeyPrefix,
	})
}

type setRetentionRequest struct {
	RetentionDays int `json:"retention_days"`
}

// handleSetRetention updates the project's retention window. Zero
// disables expiry; the configured maximum bounds the rest.
func (s *server) handleSetRetention(w http.ResponseWriter, r *http.Request) {
	project := s.ownProject(w, r)
	if project == nil {
		return
	}

	var req setRetentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.RetentionDays > s.cfg.Limits.MaxRetentionDays {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			"retention_days exceeds the maximum of " +
				strconv.Itoa(s.cfg.Limits.MaxRetentionDays),
		})

		return
	}

	err := s.store.SetProjectRetention(
		r.Context(), project.ID, req.RetentionDays,
	)
	if err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Read handlers ---

// handleGetRun returns one run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.readableRun(w, r)
	if run == nil {
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleListFiles lists a run's artifacts.
func (s *server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	run := s.readableRun(w, r)
	if run == nil {
		return
	}

	files, err := s.store.ListFiles(r.Context(), run.ID)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, files)
}

// handleDownloadFile streams an artifact.
func (s *server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	run := s.readableRun(w, r)
	if run == nil {
		return
	}

	name := chi.URLParam(r, "name")

	f, rc, err := s.coordinator.OpenFile(r.Context(), run.ID, name)
	if err != nil {
		writeError(w, err)

		return
	}

	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Name+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		s.log.WithError(err).WithField("file", f.ID).
			Debug("Download interrupted")
	}
}

// handleListTags returns a run's tags.
func (s *server) handleListTags(w http.ResponseWriter, r *http.Request) {
	run := s.readableRun(w, r)
	if run == nil {
		return
	}

	tags, err := s.store.ListTags(r.Context(), run.ID)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, tags)
}

// handleRunStats returns a run's execution timing statistics.
func (s *server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	run := s.readableRun(w, r)
	if run == nil {
		return
	}

	stats, err := s.store.StatsForRun(r.Context(), run.ID)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleGetProject returns one project.
func (s *server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project := s.readableProject(w, r)
	if project == nil {
		return
	}

	writeJSON(w, http.StatusOK, project)
}

type listRunsResponse struct {
	Runs   []store.Run `json:"runs"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// handleListRuns returns a page of the project's runs. Query parameters
// other than the reserved limit, offset, and verdict are tag filters.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	project := s.readableProject(w, r)
	if project == nil {
		return
	}

	filter := store.RunFilter{Tags: map[string]string{}}

	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}

		value := values[0]

		switch key {
		case "limit":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest,
					errorResponse{"invalid limit"})

				return
			}

			filter.Limit = n
		case "offset":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest,
					errorResponse{"invalid offset"})

				return
			}

			filter.Offset = n
		case "verdict":
			filter.Verdict = value
		default:
			if err := store.ValidateTag(key, value); err != nil {
				writeError(w, err)

				return
			}

			filter.Tags[key] = value
		}
	}

	runs, total, err := s.store.ListRuns(r.Context(), project.ID, filter)
	if err != nil {
		writeError(w, err)

		return
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultRunPageSize
	}

	writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: filter.Offset,
	})
}

// handleTagSummary returns the project's distinct tag keys and values.
func (s *server) handleTagSummary(w http.ResponseWriter, r *http.Request) {
	project := s.readableProject(w, r)
	if project == nil {
		return
	}

	summary, err := s.store.ProjectTagSummary(r.Context(), project.ID)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, summary)
}
