package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	myMiddleware "tradiehub/internal/middleware"
	"tradiehub/internal/participant"
)

func newTestRouter(wf *Workflow) chi.Router {
	r := chi.NewRouter()
	NewHandler(wf).Routes(r)
	return r
}

func do(t *testing.T, r http.Handler, as participant.Participant, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if !as.IsZero() {
		req = req.WithContext(myMiddleware.WithParticipant(req.Context(), as))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ApplyAndDecide(t *testing.T) {
	f := newWorkflowFixture()
	r := newTestRouter(f.wf)

	rec := do(t, r, owner, http.MethodPost, "/jobs", validOffer())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var job JobOffer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = do(t, r, t1, http.MethodPost, fmt.Sprintf("/jobs/%d/apply", job.ID), ApplyRequest{CoverLetter: "pick me"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var app Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &app))

	rec = do(t, r, t1, http.MethodPost, fmt.Sprintf("/jobs/%d/apply", job.ID), ApplyRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, participant.NewHomeowner(2), http.MethodPut,
		fmt.Sprintf("/jobs/%d/applications/%d", job.ID, app.ID), DecideRequest{Status: Accept})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, owner, http.MethodPut,
		fmt.Sprintf("/jobs/%d/applications/%d", job.ID, app.ID), DecideRequest{Status: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, owner, http.MethodPut,
		fmt.Sprintf("/jobs/%d/applications/%d", job.ID, app.ID), DecideRequest{Status: Accept})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res DecisionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, JobCompleted, res.JobStatus)

	rec = do(t, r, owner, http.MethodGet, fmt.Sprintf("/jobs/%d/applications", job.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var apps []Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, ApplicationAccepted, apps[0].Status)
}

func TestHandler_Unauthenticated(t *testing.T) {
	r := newTestRouter(newWorkflowFixture().wf)
	rec := do(t, r, participant.Participant{}, http.MethodGet, "/jobs/1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_BadID(t *testing.T) {
	r := newTestRouter(newWorkflowFixture().wf)
	rec := do(t, r, owner, http.MethodGet, "/jobs/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, t1, http.MethodPost, "/applications/0/withdraw", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
