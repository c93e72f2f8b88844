package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/logging"
)

// ToolResult is the normalized outcome shape both transports reduce to.
type ToolResult struct {
	OK    bool
	Value any
	Err   error
}

// backend abstracts one target's transport. Implementations classify their
// failures into the shared error taxonomy (RoutingError for unreachable
// endpoints, AuthError for rejected credentials, TransientBackendError for
// retryable conditions).
type backend interface {
	// CallTool performs one tool call. bearer is empty for targets whose auth
	// mode does not forward the caller's token.
	CallTool(ctx context.Context, toolName string, args map[string]any, bearer string) (any, error)
}

// Options configure a Dispatcher.
type Options struct {
	// MaxAttempts bounds retries of transient failures per call.
	MaxAttempts int
	// RetryBaseDelay is the delay before the first retry.
	RetryBaseDelay time.Duration
	// RetryMultiplier scales the delay between consecutive retries. The exact
	// multiplier (and any jitter a backend-specific override adds) is policy,
	// not contract; only "strictly increasing" is guaranteed.
	RetryMultiplier float64
	// CallTimeout bounds each dispatched call including its retry budget.
	CallTimeout time.Duration
	// HTTPClient is used by protocol backends.
	HTTPClient *http.Client
	// Logger receives dispatch-scoped log records.
	Logger logging.Logger

	// NewBackend overrides backend construction. Tests inject fakes here.
	NewBackend func(t Target) (backend, error)

	// Sleep overrides the inter-attempt wait. Tests inject a recorder here.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher routes fully-qualified tool-call names across the registry's
// heterogeneous targets. Safe for concurrent use by many invocations; the
// registry is immutable and backend handles are created lazily per target so
// one misconfigured endpoint never poisons the others.
type Dispatcher struct {
	registry *Registry

	maxAttempts     int
	retryBaseDelay  time.Duration
	retryMultiplier float64
	callTimeout     time.Duration
	logger          logging.Logger

	newBackend func(t Target) (backend, error)
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	backends map[string]backend
}

// NewDispatcher constructs a Dispatcher over an immutable registry.
func NewDispatcher(registry *Registry, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		MaxAttempts:     3,
		RetryBaseDelay:  200 * time.Millisecond,
		RetryMultiplier: 2.0,
		CallTimeout:     30 * time.Second,
		HTTPClient:      http.DefaultClient,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	d := &Dispatcher{
		registry:        registry,
		maxAttempts:     opts.MaxAttempts,
		retryBaseDelay:  opts.RetryBaseDelay,
		retryMultiplier: opts.RetryMultiplier,
		callTimeout:     opts.CallTimeout,
		logger:          opts.Logger,
		newBackend:      opts.NewBackend,
		sleep:           opts.Sleep,
		backends:        make(map[string]backend),
	}

	if d.newBackend == nil {
		httpClient := opts.HTTPClient
		d.newBackend = func(t Target) (backend, error) {
			switch t.Transport {
			case TransportProtocol:
				return newProtocolBackend(t, httpClient), nil
			case TransportInvoke:
				return newInvokeBackend(t)
			default:
				return nil, fmt.Errorf("unknown transport %q", t.Transport)
			}
		}
	}

	if d.sleep == nil {
		d.sleep = func(ctx context.Context, wait time.Duration) error {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return d
}

// Registry exposes the dispatcher's immutable target set.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch resolves fqName, performs the call under the target's transport and
// auth scheme, and normalizes the outcome. Routing and auth failures fail the
// single call without retry; transient failures are retried with increasing
// backoff, all inside one per-call deadline.
func (d *Dispatcher) Dispatch(ictx *core.InvocationContext, fqName string, args map[string]any) ToolResult {
	targetName, toolName, err := SplitToolName(fqName)
	if err != nil {
		d.logger.Warn("gateway.dispatch.unroutable", "tool", fqName, "error", err.Error())
		return ToolResult{Err: err}
	}

	target, ok := d.registry.Lookup(targetName)
	if !ok {
		err := &core.RoutingError{Name: targetName, Reason: "unknown target"}
		d.logger.Warn("gateway.dispatch.unroutable", "tool", fqName, "error", err.Error())
		return ToolResult{Err: err}
	}

	be, err := d.backend(target)
	if err != nil {
		// Misconfigured targets surface per call; other targets stay usable.
		return ToolResult{Err: &core.RoutingError{
			Name:   targetName,
			Reason: fmt.Sprintf("backend unavailable: %v", err),
		}}
	}

	ctx, cancel := context.WithTimeout(ictx.Context(), d.callTimeout)
	defer cancel()

	bearer := ""
	if target.AuthMode == AuthBearerForwarding {
		bearer = ictx.AuthToken
	}

	start := time.Now()
	value, err := d.callWithRetry(ctx, be, target, toolName, args, bearer)

	d.logger.Info(
		"gateway.dispatch.done",
		"request_id", ictx.RequestID,
		"target", targetName,
		"tool", toolName,
		"transport", string(target.Transport),
		"duration_ms", time.Since(start).Milliseconds(),
		"success", err == nil,
	)

	if err != nil {
		return ToolResult{Err: err}
	}

	return ToolResult{OK: true, Value: value}
}

func (d *Dispatcher) callWithRetry(
	ctx context.Context,
	be backend,
	target Target,
	toolName string,
	args map[string]any,
	bearer string,
) (any, error) {
	delay := d.retryBaseDelay

	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		value, err := callSafely(ctx, be, toolName, args, bearer)
		if err == nil {
			return value, nil
		}

		lastErr = err

		if !core.IsTransient(err) {
			return nil, err
		}

		if attempt == d.maxAttempts {
			break
		}

		d.logger.Warn(
			"gateway.dispatch.retry",
			"target", target.Name,
			"tool", toolName,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)

		// The retry budget is consumed within the per-call deadline.
		if err := d.sleep(ctx, delay); err != nil {
			return nil, lastErr
		}

		delay = time.Duration(float64(delay) * d.retryMultiplier)
	}

	return nil, lastErr
}

// callSafely shields the dispatcher from panicking backends.
func callSafely(
	ctx context.Context,
	be backend,
	toolName string,
	args map[string]any,
	bearer string,
) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic calling %s: %v", toolName, r)
		}
	}()

	return be.CallTool(ctx, toolName, args, bearer)
}

// backend returns the cached handle for a target, constructing it lazily.
func (d *Dispatcher) backend(t Target) (backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if be, ok := d.backends[t.Name]; ok {
		return be, nil
	}

	be, err := d.newBackend(t)
	if err != nil {
		return nil, err
	}

	d.backends[t.Name] = be

	return be, nil
}
