// Package integrations wraps each external API behind one uniform Adapter
// contract: shape the request, normalize the response, and report the credit
// cost of the call. Concrete adapters are selected by the step's declared
// integration type when the registry is built, never at run time.
package integrations

import (
	"context"
	"errors"
	"fmt"

	"agencyflow/backend/pkg/models"
)

// ErrUnknownIntegration is returned when a step references an integration
// type no adapter is registered for.
var ErrUnknownIntegration = errors.New("integrations: unknown integration type")

// ErrorKind classifies an integration failure for the engine's retry policy.
type ErrorKind string

const (
	ErrorAuthFailure   ErrorKind = "auth_failure"   // fatal, never retried
	ErrorRateLimited   ErrorKind = "rate_limited"   // retryable with backoff
	ErrorTimeout       ErrorKind = "timeout"        // retryable
	ErrorUpstream      ErrorKind = "upstream_error" // retryable up to the bound
	ErrorInvalidParams ErrorKind = "invalid_params" // fatal, configuration defect
)

// IntegrationError is the normalized failure of one adapter invocation.
type IntegrationError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integration error (%s): %v", e.Kind, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, retryable bool, format string, args ...interface{}) *IntegrationError {
	return &IntegrationError{Kind: kind, Retryable: retryable, Err: fmt.Errorf(format, args...)}
}

// AsIntegrationError unwraps err into an IntegrationError, classifying
// unknown errors as retryable upstream failures.
func AsIntegrationError(err error) *IntegrationError {
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie
	}
	return &IntegrationError{Kind: ErrorUpstream, Retryable: true, Err: err}
}

// Request carries everything an adapter needs for one invocation.
type Request struct {
	Params map[string]interface{}
	Config *models.IntegrationConfig
	// CostCeiling is the reserved credit amount. Adapters must cap their
	// reported cost at this value and flag partial completion; zero means
	// no ceiling (dry runs).
	CostCeiling int64
	// DryRun validates auth and parameters without performing billable work.
	DryRun bool
}

// Result is the normalized outcome of a successful invocation.
type Result struct {
	Payload      map[string]interface{} `json:"payload"`
	CostIncurred int64                  `json:"cost_incurred"`
	// Partial is set when the actual cost hit the reserved ceiling and was
	// capped there.
	Partial bool `json:"partial,omitempty"`
}

// Adapter is the uniform capability set over one external API family.
type Adapter interface {
	// Kind reports the integration type this adapter serves.
	Kind() models.IntegrationType
	// EstimateCost returns the credits to reserve before invoking. The
	// actual cost may be lower but never higher.
	EstimateCost(params map[string]interface{}) int64
	// Invoke performs one call. Failures are always *IntegrationError.
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Registry holds the closed set of adapters, keyed by integration type.
type Registry struct {
	adapters map[models.IntegrationType]Adapter
}

// NewRegistry builds a Registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.IntegrationType]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// Lookup returns the adapter for an integration type.
func (r *Registry) Lookup(kind models.IntegrationType) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntegration, kind)
	}
	return a, nil
}

// capCost clamps cost at the reserved ceiling. Returns the charged amount
// and whether capping occurred.
func capCost(cost, ceiling int64) (int64, bool) {
	if ceiling > 0 && cost > ceiling {
		return ceiling, true
	}
	return cost, false
}

// estimateFromParams reads an explicit per-step cost override, falling back
// to the adapter default.
func estimateFromParams(params map[string]interface{}, fallback int64) int64 {
	if v, ok := params["credits_cost"]; ok {
		switch n := v.(type) {
		case float64:
			if n > 0 {
				return int64(n)
			}
		case int:
			if n > 0 {
				return int64(n)
			}
		case int64:
			if n > 0 {
				return n
			}
		}
	}
	return fallback
}
