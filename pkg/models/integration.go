package models

import (
	"time"
)

// IntegrationType selects the adapter used for a workflow step. The set is
// closed: steps declare their integration at workflow-definition time and
// dispatch is never inferred at run time.
type IntegrationType string

const (
	IntegrationDataForSEO IntegrationType = "dataforseo"
	IntegrationOpenAI     IntegrationType = "openai"
	IntegrationHTTP       IntegrationType = "http"
)

// IntegrationConfig holds per-tenant credentials and settings for one
// external API. It is owned by the CRUD layer; the engine only reads it.
type IntegrationConfig struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Provider    IntegrationType   `json:"provider"`
	Name        string            `json:"name"`
	BaseURL     string            `json:"base_url,omitempty"`
	Credentials map[string]string `json:"-"` // never serialized outward
	Active      bool              `json:"active"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
