// Package engine drives workflow executions: it resolves steps in order,
// reserves credits before each integration call, commits the actual cost
// afterwards, and records an append-only execution history. One execution
// runs its steps sequentially; many executions run concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"agencyflow/backend/internal/integrations"
	"agencyflow/backend/internal/ledger"
	"agencyflow/backend/internal/repository"
	"agencyflow/backend/pkg/models"
)

// error kinds recorded on step results for failures that never reached an
// adapter.
const (
	errorKindInsufficientCredit = "insufficient_credit"
	errorKindInvalidStep        = "invalid_params"
	errorKindInternal           = "internal"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Options tunes engine behavior.
type Options struct {
	Retry         RetryPolicy
	StepTimeout   time.Duration
	MaxConcurrent int
}

// Engine executes workflow runs against a repository, ledger, and adapter
// registry.
type Engine struct {
	repo     repository.Repository
	ledger   ledger.Ledger
	adapters *integrations.Registry
	retry    RetryPolicy
	eval     *Evaluator
	logger   Logger

	stepTimeout time.Duration
	sem         chan struct{}
	wg          sync.WaitGroup

	stepsExecuted    metric.Int64Counter
	creditsCommitted metric.Int64Counter
	adapterFailures  metric.Int64Counter
}

// New creates an Engine.
func New(repo repository.Repository, credits ledger.Ledger, adapters *integrations.Registry, logger Logger, opts Options) (*Engine, error) {
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}

	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 60 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 32
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}

	meter := otel.Meter("agencyflow/backend/internal/engine")
	stepsExecuted, err := meter.Int64Counter("engine.steps_executed")
	if err != nil {
		return nil, err
	}
	creditsCommitted, err := meter.Int64Counter("engine.credits_committed")
	if err != nil {
		return nil, err
	}
	adapterFailures, err := meter.Int64Counter("engine.adapter_failures")
	if err != nil {
		return nil, err
	}

	return &Engine{
		repo:             repo,
		ledger:           credits,
		adapters:         adapters,
		retry:            opts.Retry,
		eval:             eval,
		logger:           logger,
		stepTimeout:      opts.StepTimeout,
		sem:              make(chan struct{}, opts.MaxConcurrent),
		stepsExecuted:    stepsExecuted,
		creditsCommitted: creditsCommitted,
		adapterFailures:  adapterFailures,
	}, nil
}

// Dispatch runs an execution on its own goroutine, bounded by the
// configured concurrency limit.
func (e *Engine) Dispatch(executionID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sem <- struct{}{}
		defer func() { <-e.sem }()

		if err := e.Run(context.Background(), executionID); err != nil {
			e.logger.Error("execution run failed", "execution_id", executionID, "error", err)
		}
	}()
}

// Wait blocks until all dispatched executions finish. Used for graceful
// shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Run executes one workflow run to a terminal state. It is the only mutator
// of the execution record after creation.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	exec, err := e.repo.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("engine: failed to load execution %s: %w", executionID, err)
	}
	if exec.Status != models.ExecutionPending {
		return fmt.Errorf("engine: execution %s is %s, not pending", executionID, exec.Status)
	}

	workflow, err := e.repo.GetWorkflowVersion(ctx, exec.WorkflowVersionID)
	if err != nil {
		_ = e.repo.FinishExecution(ctx, executionID, models.ExecutionFailed, "workflow version not found", 0)
		return fmt.Errorf("engine: failed to load workflow version %s: %w", exec.WorkflowVersionID, err)
	}

	if err := e.repo.MarkExecutionRunning(ctx, executionID); err != nil {
		return fmt.Errorf("engine: failed to start execution %s: %w", executionID, err)
	}
	e.logger.Info("execution started", "execution_id", executionID, "workflow", workflow.Name, "steps", len(workflow.Steps))

	stepOutputs := map[string]interface{}{}
	var creditsUsed int64

	for position, step := range workflow.Steps {
		// Cancellation is observed only at step boundaries, never
		// mid-adapter-call.
		if e.cancelRequested(ctx, executionID) {
			e.logger.Info("execution cancelled", "execution_id", executionID, "at_step", step.ID)
			return e.repo.FinishExecution(ctx, executionID, models.ExecutionCancelled, "", creditsUsed)
		}

		outcome := e.runStep(ctx, exec, workflow, position, step, stepOutputs)
		creditsUsed += outcome.result.CreditsCharged

		if err := e.repo.RecordStepResult(ctx, outcome.result); err != nil {
			_ = e.repo.FinishExecution(ctx, executionID, models.ExecutionFailed, "failed to record step result", creditsUsed)
			return fmt.Errorf("engine: failed to record step result: %w", err)
		}

		switch outcome.result.Status {
		case models.StepSkipped:
			continue
		case models.StepSucceeded:
			stepOutputs[step.ID] = outcome.payload
		case models.StepFailed:
			// No step after a failed step is ever executed, and charges
			// committed for earlier steps stay on the ledger.
			return e.repo.FinishExecution(ctx, executionID, models.ExecutionFailed,
				fmt.Sprintf("step %q failed: %s", step.Name, outcome.result.ErrorMessage), creditsUsed)
		}
	}

	e.logger.Info("execution completed", "execution_id", executionID, "credits_used", creditsUsed)
	return e.repo.FinishExecution(ctx, executionID, models.ExecutionCompleted, "", creditsUsed)
}

type stepOutcome struct {
	result  *models.StepResult
	payload map[string]interface{}
}

// runStep takes one step from queued to a terminal status. Any open credit
// reservation is committed or released before this returns; no lock is held
// across the adapter call.
func (e *Engine) runStep(ctx context.Context, exec *models.Execution, workflow *models.Workflow, position int, step models.WorkflowStep, stepOutputs map[string]interface{}) stepOutcome {
	result := &models.StepResult{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		StepID:      step.ID,
		StepName:    step.Name,
		Integration: step.Integration,
		Position:    position,
		StartedAt:   time.Now().UTC(),
	}
	finish := func(status models.StepStatus) {
		now := time.Now().UTC()
		result.Status = status
		result.CompletedAt = &now
		e.stepsExecuted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("integration", string(step.Integration)),
			attribute.String("status", string(status)),
		))
	}
	fail := func(kind, message string) stepOutcome {
		result.ErrorKind = kind
		result.ErrorMessage = message
		finish(models.StepFailed)
		return stepOutcome{result: result}
	}

	run, err := e.eval.ShouldRun(step.Condition, exec.Input, stepOutputs)
	if err != nil {
		return fail(errorKindInvalidStep, err.Error())
	}
	if !run {
		e.logger.Debug("step skipped by condition", "execution_id", exec.ID, "step", step.ID)
		finish(models.StepSkipped)
		return stepOutcome{result: result}
	}

	adapter, err := e.adapters.Lookup(step.Integration)
	if err != nil {
		return fail(errorKindInvalidStep, err.Error())
	}

	estimate := step.EstimatedCost
	if estimate <= 0 {
		estimate = adapter.EstimateCost(step.Params)
	}

	// Reserve before any external call; an insufficient balance
	// short-circuits without touching the adapter.
	reservation, err := e.ledger.Reserve(ctx, exec.TenantID, estimate)
	if errors.Is(err, ledger.ErrInsufficientCredit) {
		return fail(errorKindInsufficientCredit,
			fmt.Sprintf("insufficient credit: step requires %d credits", estimate))
	}
	if err != nil {
		return fail(errorKindInternal, fmt.Sprintf("credit reservation failed: %v", err))
	}

	config, err := e.repo.GetIntegrationConfig(ctx, exec.TenantID, step.Integration)
	if err != nil {
		_ = e.ledger.Release(ctx, reservation.ID)
		return fail(errorKindInvalidStep,
			fmt.Sprintf("integration %s is not configured for this tenant", step.Integration))
	}

	params := resolveParams(step.Params, exec.Input, stepOutputs)
	timeout := e.stepTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}

	invokeResult, err := e.retry.Do(ctx, func() (*integrations.Result, error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return adapter.Invoke(stepCtx, integrations.Request{
			Params:      params,
			Config:      config,
			CostCeiling: reservation.Amount,
		})
	})
	if err != nil {
		// Nothing was charged upstream that we can account for; the hold
		// is released in full.
		_ = e.ledger.Release(ctx, reservation.ID)
		ie := integrations.AsIntegrationError(err)
		e.adapterFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("integration", string(step.Integration)),
			attribute.String("kind", string(ie.Kind)),
		))
		return fail(string(ie.Kind), ie.Err.Error())
	}

	result.CreditsCharged = invokeResult.CostIncurred
	if err := e.ledger.Commit(ctx, reservation.ID, invokeResult.CostIncurred, ledger.Ref{
		ExecutionID:  exec.ID,
		StepResultID: result.ID,
		Description:  fmt.Sprintf("%s / %s", workflow.Name, step.Name),
	}); err != nil {
		// Drop the hold so a failed commit cannot pin available balance.
		// Release of an already-committed reservation is a safe no-op here.
		_ = e.ledger.Release(ctx, reservation.ID)
		return fail(errorKindInternal, fmt.Sprintf("credit commit failed: %v", err))
	}
	e.creditsCommitted.Add(ctx, invokeResult.CostIncurred, metric.WithAttributes(
		attribute.String("integration", string(step.Integration)),
	))

	result.Output = invokeResult.Payload
	if invokeResult.Partial {
		result.ErrorMessage = "cost capped at reserved ceiling; result may be partial"
	}
	finish(models.StepSucceeded)
	return stepOutcome{result: result, payload: invokeResult.Payload}
}

// cancelRequested checks both the stored cancel flag and the run context.
func (e *Engine) cancelRequested(ctx context.Context, executionID string) bool {
	if ctx.Err() != nil {
		return true
	}
	requested, err := e.repo.IsCancelRequested(ctx, executionID)
	if err != nil {
		e.logger.Error("failed to check cancellation", "execution_id", executionID, "error", err)
		return false
	}
	return requested
}
