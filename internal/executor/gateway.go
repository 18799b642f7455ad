package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Policy bounds the attempts made for one operation.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// Call is one gateway invocation.
type Call struct {
	Operation string
	Args      []string
	Policy
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// AttemptObserver receives the outcome of every attempt.
type AttemptObserver interface {
	ObserveAttempt(operation, outcome string)
}

const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeTerminal  = "terminal"
)

// Gateway runs external operations with retry, backoff and classification.
type Gateway struct {
	runner   Runner
	logger   *zap.Logger
	sleep    Sleeper
	observer AttemptObserver
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(g *Gateway) {
		if s != nil {
			g.sleep = s
		}
	}
}

// WithObserver reports attempt outcomes to o.
func WithObserver(o AttemptObserver) Option {
	return func(g *Gateway) {
		g.observer = o
	}
}

// NewGateway builds a Gateway around runner.
func NewGateway(runner Runner, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{runner: runner, logger: logger, sleep: sleepContext}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Invoke runs call.Operation until it succeeds, fails terminally or runs out
// of attempts, and returns the JSON payload printed on success.
func (g *Gateway) Invoke(ctx context.Context, call Call) (json.RawMessage, error) {
	if g.runner == nil {
		return nil, fmt.Errorf("executor runner is nil")
	}

	var payload json.RawMessage
	err := g.Retry(ctx, call.Operation, call.Policy, func(ctx context.Context) error {
		var err error
		payload, err = g.attempt(ctx, call)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Retry runs fn under policy. Each attempt gets its own timeout. The delay
// before retry k is BaseDelay*2^(k-1). Terminal errors stop immediately and
// exhaustion is reported as a terminal *OperationError.
func (g *Gateway) Retry(ctx context.Context, operation string, policy Policy, fn func(context.Context) error) error {
	attempts := policy.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := g.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		err := g.runAttempt(ctx, operation, policy.Timeout, fn)
		if err == nil {
			g.observe(operation, OutcomeSuccess)
			if attempt > 1 {
				g.logger.Info("operation recovered", zap.String("operation", operation), zap.Int("attempt", attempt))
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		kind := Classify(err)
		lastErr = err
		if kind == KindTerminal {
			g.observe(operation, OutcomeTerminal)
			g.logger.Error("operation failed", zap.String("operation", operation), zap.Int("attempt", attempt), zap.Error(err))
			return asOperationError(operation, err, attempt)
		}

		g.observe(operation, OutcomeTransient)
		g.logger.Warn("operation attempt failed", zap.String("operation", operation),
			zap.Int("attempt", attempt), zap.Int("max_attempts", attempts), zap.Error(err))
	}

	exhausted := &OperationError{
		Operation: operation,
		Kind:      KindTerminal,
		Message:   "retries exhausted: " + lastErr.Error(),
		Attempts:  attempts,
		Err:       lastErr,
	}
	var opErr *OperationError
	if errors.As(lastErr, &opErr) {
		exhausted.Message = "retries exhausted: " + opErr.Message
		exhausted.Stderr = opErr.Stderr
	}
	g.logger.Error("operation exhausted retries", zap.String("operation", operation), zap.Int("attempts", attempts), zap.Error(lastErr))
	return exhausted
}

func (g *Gateway) runAttempt(ctx context.Context, operation string, timeout time.Duration, fn func(context.Context) error) error {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && attemptCtx.Err() == context.DeadlineExceeded {
		return &OperationError{
			Operation: operation,
			Kind:      KindTransient,
			Message:   fmt.Sprintf("timed out after %s", timeout),
			Err:       err,
		}
	}
	return err
}

func (g *Gateway) attempt(ctx context.Context, call Call) (json.RawMessage, error) {
	out, err := g.runner.Run(ctx, call.Operation, call.Args)
	if err != nil {
		return nil, err
	}

	if out.ExitCode != 0 {
		msg := failureMessage(out)
		return nil, &OperationError{
			Operation: call.Operation,
			Kind:      ClassifyMessage(msg),
			Message:   msg,
			Stderr:    strings.TrimSpace(string(out.Stderr)),
		}
	}

	stdout := bytes.TrimSpace(out.Stdout)
	var envelope struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(stdout, &envelope); err != nil {
		return nil, &OperationError{
			Operation: call.Operation,
			Kind:      KindTerminal,
			Message:   fmt.Sprintf("%v: %v", ErrMalformedOutput, err),
			Stderr:    strings.TrimSpace(string(out.Stderr)),
			Err:       ErrMalformedOutput,
		}
	}
	if envelope.Success != nil && !*envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "operation reported failure"
		}
		return nil, &OperationError{
			Operation: call.Operation,
			Kind:      ClassifyMessage(msg),
			Message:   msg,
			Stderr:    strings.TrimSpace(string(out.Stderr)),
		}
	}

	return json.RawMessage(stdout), nil
}

// failureMessage prefers the error field of a JSON stdout, then stderr, then
// raw stdout.
func failureMessage(out Output) string {
	stdout := bytes.TrimSpace(out.Stdout)
	var envelope struct {
		Error string `json:"error"`
	}
	if len(stdout) > 0 && json.Unmarshal(stdout, &envelope) == nil && envelope.Error != "" {
		return envelope.Error
	}
	if stderr := strings.TrimSpace(string(out.Stderr)); stderr != "" {
		return stderr
	}
	if len(stdout) > 0 {
		return string(stdout)
	}
	return "unknown error"
}

func asOperationError(operation string, err error, attempt int) error {
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Kind == KindTerminal {
		if opErr.Operation == "" {
			opErr.Operation = operation
		}
		if opErr.Attempts == 0 {
			opErr.Attempts = attempt
		}
		return opErr
	}
	return &OperationError{
		Operation: operation,
		Kind:      KindTerminal,
		Message:   err.Error(),
		Attempts:  attempt,
		Err:       err,
	}
}

func (g *Gateway) observe(operation, outcome string) {
	if g.observer != nil {
		g.observer.ObserveAttempt(operation, outcome)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
