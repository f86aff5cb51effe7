package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/makr-code/loraforge/internal/auth"
	"github.com/makr-code/loraforge/internal/common"
	"github.com/makr-code/loraforge/internal/domain"
	"github.com/makr-code/loraforge/internal/hub"
	"github.com/makr-code/loraforge/internal/jobmanager"
	"github.com/makr-code/loraforge/internal/metrics"
	"github.com/makr-code/loraforge/internal/queue"
	"github.com/makr-code/loraforge/internal/store"
	"github.com/makr-code/loraforge/internal/trainer"
)

type instantAdapter struct{}

func (instantAdapter) Validate(configRef, datasetRef string) error { return nil }
func (instantAdapter) Run(ctx context.Context, configRef, datasetRef string, report trainer.Reporter) trainer.Result {
	return trainer.Result{ArtifactRefs: map[string]string{"model": "out.bin"}}
}

func newTestServer(t *testing.T, authMode auth.Mode) *Server {
	t.Helper()
	logger := common.NewSilentLogger()

	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, instantAdapter{})

	st := store.New(time.Hour)
	q := queue.New(16)
	h := hub.New(16, 16, logger)
	m := metrics.New()

	mgr := jobmanager.New(st, q, h, registry, logger, jobmanager.DefaultConfig(), m)
	mgr.Start()
	t.Cleanup(mgr.Stop)

	gate := auth.New(auth.Config{Mode: authMode, JWTSecret: "test-secret"}, logger)

	cfg := common.NewDefaultConfig()
	cfg.Server.AllowAnonymousMetrics = true

	return New("unused:0", mgr, h, gate, m, cfg, logger)
}

func TestSubmitAndGetJobRoundTrip(t *testing.T) {
	s := newTestServer(t, auth.ModeTesting)
	handler := s.Handler()

	body, _ := json.Marshal(submitJobRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	req.Header.Set("X-Debug-Roles", "trainer")
	req.Header.Set("X-Debug-User", "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var submitResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))
	jobID := submitResp["jobID"]
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		getReq := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil)
		getReq.Header.Set("X-Debug-Roles", "viewer")
		getRec := httptest.NewRecorder()
		handler.ServeHTTP(getRec, getReq)
		if getRec.Code != http.StatusOK {
			return false
		}
		var job domain.Job
		require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &job))
		return job.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitWithoutTrainerRoleIsForbidden(t *testing.T) {
	s := newTestServer(t, auth.ModeTesting)
	handler := s.Handler()

	body, _ := json.Marshal(submitJobRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	req.Header.Set("X-Debug-Roles", "viewer")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, domain.ErrKindAuthInsufficient, resp.ErrorKind)
}

func TestProductionModeRejectsMissingBearerToken(t *testing.T) {
	s := newTestServer(t, auth.ModeProduction)
	handler := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpointBypassesAuthInProductionMode(t *testing.T) {
	s := newTestServer(t, auth.ModeProduction)
	handler := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelRequiresOwnerOrAdmin(t *testing.T) {
	s := newTestServer(t, auth.ModeTesting)
	handler := s.Handler()

	body, _ := json.Marshal(submitJobRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"})
	submitReq := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	submitReq.Header.Set("X-Debug-Roles", "trainer")
	submitReq.Header.Set("X-Debug-User", "alice")
	submitRec := httptest.NewRecorder()
	handler.ServeHTTP(submitRec, submitReq)
	require.Equal(t, http.StatusCreated, submitRec.Code)

	var submitResp map[string]string
	require.NoError(t, json.Unmarshal(submitRec.Body.Bytes(), &submitResp))
	jobID := submitResp["jobID"]

	cancelReq := httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	cancelReq.Header.Set("X-Debug-Roles", "trainer")
	cancelReq.Header.Set("X-Debug-User", "bob")
	cancelRec := httptest.NewRecorder()
	handler.ServeHTTP(cancelRec, cancelReq)

	require.Equal(t, http.StatusForbidden, cancelRec.Code)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	s := newTestServer(t, auth.ModeTesting)
	handler := s.Handler()

	listReq := httptest.NewRequest(http.MethodGet, "/api/jobs?status=pending", nil)
	listReq.Header.Set("X-Debug-Roles", "viewer")
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, listReq)

	require.Equal(t, http.StatusOK, listRec.Code)
	var listResp map[string][]domain.Job
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listResp))
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t, auth.ModeDevelopment)
	handler := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "loraforge_")
}
