package model

import "time"

type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientPaused   ClientStatus = "paused"
	ClientChurned  ClientStatus = "churned"
	ClientProspect ClientStatus = "prospect"
)

type HealthStatus string

const (
	HealthGreen  HealthStatus = "GREEN"
	HealthYellow HealthStatus = "YELLOW"
	HealthRed    HealthStatus = "RED"
)

// MaxClientWeight bounds DefaultPriorityWeight.
const MaxClientWeight = 20

// Client is a company the user works for. Matching configuration for a client
// lives in settings, keyed by client id.
type Client struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name"`
	Status                ClientStatus `json:"status"`
	DefaultPriorityWeight int          `json:"default_priority_weight"`
	HealthStatus          HealthStatus `json:"health_status,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
	ArchivedAt            *time.Time   `json:"archived_at,omitempty"`
}
