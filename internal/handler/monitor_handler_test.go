package handler

import (
	"Saathi/internal/model"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fixedStats model.MonitorResponse

func (f fixedStats) GetStats() model.MonitorResponse { return model.MonitorResponse(f) }

func TestMonitorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMonitorHandler(fixedStats{
		Status:      "healthy",
		Connections: model.ConnectionStats{TotalConnections: 3, TotalUsers: 2, MultiConnUsers: 1},
	})

	r := gin.New()
	r.GET("/stats", h.GetHubStats)
	r.GET("/health", h.Health)

	rec := serve(r, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		IsSuccess    bool
		ResponseBody model.MonitorResponse
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.IsSuccess)
	require.Equal(t, 3, body.ResponseBody.Connections.TotalConnections)

	rec = serve(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"OK","message":"Server is running"}`, rec.Body.String())
}
