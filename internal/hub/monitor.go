package hub

import (
	"Saathi/internal/model"
	"sort"
	"time"

	"github.com/samber/lo"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	snapshot := ms.hub.registry.Snapshot()

	users := make([]model.UserPresence, 0, len(snapshot))
	for userID, connIDs := range snapshot {
		sort.Strings(connIDs)
		users = append(users, model.UserPresence{UserID: userID, ConnectionIDs: connIDs})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })

	stats := model.ConnectionStats{
		TotalUsers: len(users),
		TotalConnections: lo.SumBy(users, func(u model.UserPresence) int {
			return len(u.ConnectionIDs)
		}),
		MultiConnUsers: lo.CountBy(users, func(u model.UserPresence) bool {
			return len(u.ConnectionIDs) > 1
		}),
	}

	status := "healthy"
	if stats.TotalConnections == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Uptime:      time.Since(ms.hub.startedAt).Round(time.Second).String(),
		Connections: stats,
		Users:       users,
	}
}
