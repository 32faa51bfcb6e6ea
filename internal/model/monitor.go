package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"`      // "healthy" or "idle"
	Uptime      string          `json:"uptime"`      // time since the hub started
	Connections ConnectionStats `json:"connections"` // connection counts
	Users       []UserPresence  `json:"users"`       // per-user connection details
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnections int `json:"totalConnections"` // live authenticated connections
	TotalUsers       int `json:"totalUsers"`       // distinct users with at least one connection
	MultiConnUsers   int `json:"multiConnUsers"`   // users with more than one connection
}

// UserPresence lists the live connections of a single user
type UserPresence struct {
	UserID        string   `json:"userId"`
	ConnectionIDs []string `json:"connectionIds"`
}
