package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/makr-code/loraforge/internal/auth"
	"github.com/makr-code/loraforge/internal/domain"
)

func TestJobsWSReceivesBootstrapAndLiveEvents(t *testing.T) {
	s := newTestServer(t, auth.ModeTesting)
	httpSrv := httptest.NewServer(s.Handler())
	defer httpSrv.Close()

	body, _ := json.Marshal(submitJobRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"})
	submitReq, _ := http.NewRequest(http.MethodPost, httpSrv.URL+"/api/jobs", bytes.NewReader(body))
	submitReq.Header.Set("X-Debug-Roles", "trainer")
	submitReq.Header.Set("X-Debug-User", "alice")
	resp, err := httpSrv.Client().Do(submitReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var submitResp map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitResp))
	jobID := submitResp["jobID"]
	require.NotEmpty(t, jobID)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/jobs/ws?jobID=" + jobID
	header := http.Header{}
	header.Set("X-Debug-Roles", "viewer")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event domain.ProgressEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, jobID, event.JobID)
}

func TestJobsWSRequiresReadJobsCapability(t *testing.T) {
	s := newTestServer(t, auth.ModeTesting)
	httpSrv := httptest.NewServer(s.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/jobs/ws"
	header := http.Header{}
	header.Set("X-Debug-Roles", "")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
}
