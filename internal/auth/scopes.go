package auth

// OAuth scopes recognized by the API. Currently only openid is requested
// during the login flow; the finer-grained scopes are reserved for API
// clients that mint tokens with a narrower grant.
const (
	ScopeOpenID = "openid"

	// ScopeWorkflowsRead allows reading workflow definitions and
	// execution history.
	ScopeWorkflowsRead = "workflows:read"

	// ScopeWorkflowsWrite allows publishing workflow versions and
	// starting executions.
	ScopeWorkflowsWrite = "workflows:write"

	// ScopeCreditsManage allows purchasing credits and reading the
	// transaction ledger.
	ScopeCreditsManage = "credits:manage"
)
