// Package relay implements the thin sequential pipeline orchestrator
// that drives a chain of agent steps, each retrieving the previous
// step's output from the knowledge store, running the agent, and
// write-verifying its output before the next step starts.
package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensona/sona/internal/errors"
)

// AgentRunner invokes one agent step's subprocess/call, given a prompt
// that already embeds the previous step's output key, and returns the
// agent's raw output.
type AgentRunner func(ctx context.Context, prompt string) (string, error)

// QualityGate judges a step's output; a false result fails the step.
type QualityGate func(output string) bool

// Step is one stage of the pipeline.
type Step struct {
	Name              string
	PreviousOutputKey string // empty for the first step, which has no predecessor
	OutputKey         string
	PromptTemplate    string // formatted with the previous output key and value
	Timeout           time.Duration
	Run               AgentRunner
	Gate              QualityGate

	// Retry, when non-nil, retries a transient agent-runner failure
	// (anything other than the step's own timeout) with exponential
	// backoff before the step is considered failed. Nil disables
	// retries, matching a single attempt.
	Retry *errors.RetryConfig
}

// OutputStore is the knowledge-store interface the pipeline reads
// previous-step output from and writes its own output to.
type OutputStore interface {
	Store(ctx context.Context, key, value string) error
	Retrieve(ctx context.Context, key string) (string, bool, error)
}

// StepResult records one step's outcome for the caller / test
// assertions; event emission (below) is the live-observability path.
type StepResult struct {
	Step     string
	Output   string
	Duration time.Duration
}

// Pipeline executes an ordered chain of Steps strictly sequentially.
type Pipeline struct {
	steps []Step
	store OutputStore
	log   *slog.Logger
}

// New builds a Pipeline over the given steps and output store.
func New(steps []Step, store OutputStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{steps: steps, store: store, log: logger}
}

// Execute runs every step in order, stopping at the first fatal
// failure: a missing previous-output key, an agent error or timeout, a
// failed write-verification, or a failed quality gate.
func (p *Pipeline) Execute(ctx context.Context) ([]StepResult, error) {
	p.log.Info("pipeline_start", "step_count", len(p.steps))

	results := make([]StepResult, 0, len(p.steps))
	for _, step := range p.steps {
		res, err := p.runStep(ctx, step)
		if err != nil {
			p.log.Error("pipeline_fail", "step", step.Name, "error", err)
			return results, err
		}
		results = append(results, res)
	}

	p.log.Info("pipeline_complete", "step_count", len(results))
	return results, nil
}

func (p *Pipeline) runStep(ctx context.Context, step Step) (StepResult, error) {
	p.log.Info("agent_start", "step", step.Name)

	prompt, err := p.buildPrompt(ctx, step)
	if err != nil {
		return StepResult{}, err
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	start := time.Now()
	output, err := p.runAgent(stepCtx, step, prompt)
	duration := time.Since(start)

	if stepCtx.Err() != nil {
		p.log.Error("agent_fail", "step", step.Name, "reason", "timeout")
		return StepResult{}, errors.NewTimeoutExceeded("relay.RunStep." + step.Name)
	}
	if err != nil {
		p.log.Error("agent_fail", "step", step.Name, "error", err)
		return StepResult{}, errors.Wrap(errors.ErrCodeInternal, err).WithOperation("relay.RunStep." + step.Name)
	}

	p.log.Info("agent_complete", "step", step.Name, "duration_ms", duration.Milliseconds())

	if err := p.storeAndVerify(ctx, step, output); err != nil {
		return StepResult{}, err
	}

	if step.Gate != nil && !step.Gate(output) {
		return StepResult{}, errors.NewQualityGateFailed("relay.RunStep", step.Name)
	}

	return StepResult{Step: step.Name, Output: output, Duration: duration}, nil
}

// runAgent invokes step.Run, retrying a transient failure with
// exponential backoff when the step configures a RetryConfig. A step
// timeout is not itself retried: stepCtx's deadline bounds however
// many attempts fit inside it, and RetryWithResult returns ctx.Err()
// immediately once it expires.
func (p *Pipeline) runAgent(ctx context.Context, step Step, prompt string) (string, error) {
	if step.Retry == nil {
		return step.Run(ctx, prompt)
	}
	return errors.RetryWithResult(ctx, *step.Retry, func() (string, error) {
		return step.Run(ctx, prompt)
	})
}

func (p *Pipeline) buildPrompt(ctx context.Context, step Step) (string, error) {
	if step.PreviousOutputKey == "" {
		return step.PromptTemplate, nil
	}

	p.log.Info("agent_retrieve", "step", step.Name, "key", step.PreviousOutputKey)
	prev, ok, err := p.store.Retrieve(ctx, step.PreviousOutputKey)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err).WithOperation("relay.buildPrompt")
	}
	if !ok {
		return "", errors.ValidationError(
			fmt.Sprintf("relay: missing required output for key %q", step.PreviousOutputKey), nil,
		).WithOperation("relay.buildPrompt")
	}

	return fmt.Sprintf(step.PromptTemplate, step.PreviousOutputKey, prev), nil
}

func (p *Pipeline) storeAndVerify(ctx context.Context, step Step, output string) error {
	p.log.Info("agent_store", "step", step.Name, "key", step.OutputKey)

	if err := p.store.Store(ctx, step.OutputKey, output); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err).WithOperation("relay.storeAndVerify")
	}

	readBack, ok, err := p.store.Retrieve(ctx, step.OutputKey)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err).WithOperation("relay.storeAndVerify")
	}
	if !ok || contentHash(readBack) != contentHash(output) {
		return errors.NewWriteVerificationFailed("relay.storeAndVerify", step.OutputKey)
	}
	return nil
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
