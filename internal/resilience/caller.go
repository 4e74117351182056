package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trendsight/insight-core/internal/domain"
	"github.com/trendsight/insight-core/internal/provider"
	"github.com/trendsight/insight-core/internal/security"
)

// GenerateFunc produces output for one attempt against a specific provider
// and credential. The caller owns retries, breakers and fallback; the
// function only performs the call.
type GenerateFunc func(ctx context.Context, providerName string, cred *domain.Credential) (string, error)

// ProviderFactory builds a provider client bound to one credential.
// Streaming traversal uses it to construct the client per selected key.
type ProviderFactory func(providerName, apiKey string) (provider.Provider, error)

// UsageRecorder persists successful-call counts per credential and day.
// Recording is best-effort: a failed write never fails the call.
type UsageRecorder interface {
	AddDailyUsage(ctx context.Context, provider, credName, day string, n int) error
}

// CallResult is the outcome of a successful resilient call.
type CallResult struct {
	// Output is the generated text.
	Output string

	// Provider is the provider that ultimately answered.
	Provider string

	// CallID correlates all log lines of one logical request.
	CallID string
}

// StreamResult is the outcome of a successful streaming call.
type StreamResult struct {
	// ProviderUsed is the provider that delivered the stream.
	ProviderUsed string

	// Synthetic is true when every streaming path failed and the result was
	// delivered as a single chunk from a one-shot fallback call.
	Synthetic bool

	// CallID correlates all log lines of one logical request.
	CallID string
}

// Caller walks a use case's provider chain sequentially, one provider at a
// time, deliberately, so a single logical request never burns quota on
// several providers at once. Each attempt runs through that provider's
// circuit breaker wrapped in the retry policy. Only total exhaustion of the
// chain escapes to the invoker.
type Caller struct {
	routes   *domain.RouteTable
	keys     *domain.KeyManager
	breakers *BreakerRegistry
	retry    RetryPolicy
	factory  ProviderFactory
	usage    UsageRecorder
	logger   *slog.Logger
}

// CallerOption is a functional option for configuring Caller.
type CallerOption func(*Caller)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) CallerOption {
	return func(c *Caller) {
		c.retry = p
	}
}

// WithProviderFactory sets the factory used by streaming traversal.
func WithProviderFactory(f ProviderFactory) CallerOption {
	return func(c *Caller) {
		c.factory = f
	}
}

// WithUsageRecorder enables durable daily usage bookkeeping per credential.
func WithUsageRecorder(rec UsageRecorder) CallerOption {
	return func(c *Caller) {
		c.usage = rec
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) CallerOption {
	return func(c *Caller) {
		c.logger = logger
	}
}

// NewCaller creates a Caller over explicit, constructed collaborators. No
// package-level registries: tests and tenants get isolated state.
func NewCaller(routes *domain.RouteTable, keys *domain.KeyManager, breakers *BreakerRegistry, opts ...CallerOption) *Caller {
	c := &Caller{
		routes:   routes,
		keys:     keys,
		breakers: breakers,
		retry:    DefaultRetryPolicy(),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Call resolves the use case's provider chain and executes fn against each
// provider in order until one succeeds. Per-provider failures are absorbed,
// logged and recorded against the credential; the only error returned is
// AllProvidersExhaustedError (or the context's own error on cancellation).
func (c *Caller) Call(ctx context.Context, useCase string, fn GenerateFunc) (CallResult, error) {
	callID := uuid.NewString()

	route, ok := c.routes.Route(useCase)
	if !ok {
		return CallResult{}, &AllProvidersExhaustedError{UseCase: useCase}
	}

	var attempted []string
	var lastErr error

	for _, name := range route.Chain() {
		cred, err := c.keys.GetKey(name)
		if err != nil {
			c.logger.Debug("no credential for provider, falling through",
				slog.String("call_id", callID),
				slog.String("use_case", useCase),
				slog.String("provider", name),
			)
			continue
		}
		attempted = append(attempted, name)

		output, err := c.attempt(ctx, name, cred, fn)
		if err == nil {
			c.keys.RecordSuccess(cred)
			c.recordUsage(ctx, name, cred)
			c.logger.Info("generation succeeded",
				slog.String("call_id", callID),
				slog.String("use_case", useCase),
				slog.String("provider", name),
				slog.String("key", security.MaskKey(cred.Key)),
			)
			return CallResult{Output: output, Provider: name, CallID: callID}, nil
		}

		// A cancelled attempt is not a verdict on the provider: no failure
		// accounting, no fallback.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return CallResult{}, err
		}

		status := provider.StatusOf(err)
		if !errors.Is(err, ErrCircuitOpen) {
			c.keys.RecordFailure(cred, status)
		}
		lastErr = &ProviderError{Provider: name, StatusCode: status, Err: err}

		c.logger.Warn("provider failed, trying next in chain",
			slog.String("call_id", callID),
			slog.String("use_case", useCase),
			slog.String("provider", name),
			slog.String("key", security.MaskKey(cred.Key)),
			slog.String("error", err.Error()),
		)
	}

	exhausted := &AllProvidersExhaustedError{UseCase: useCase, Attempted: attempted, LastErr: lastErr}
	c.logger.Error("all providers exhausted",
		slog.String("call_id", callID),
		slog.String("use_case", useCase),
		slog.Any("attempted", attempted),
	)
	return CallResult{}, exhausted
}

// recordUsage bumps the credential's durable daily counter after a success.
func (c *Caller) recordUsage(ctx context.Context, name string, cred *domain.Credential) {
	if c.usage == nil {
		return
	}
	day := time.Now().UTC().Format("2006-01-02")
	if err := c.usage.AddDailyUsage(ctx, name, cred.Name, day, 1); err != nil {
		c.logger.Warn("usage recording failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
	}
}

// attempt runs one provider attempt: retry policy outside, breaker inside.
func (c *Caller) attempt(ctx context.Context, name string, cred *domain.Credential, fn GenerateFunc) (string, error) {
	breaker := c.breakers.For(name)

	var output string
	err := c.retry.Do(ctx, func() error {
		return breaker.Execute(func() error {
			out, genErr := fn(ctx, name, cred)
			if genErr != nil {
				return genErr
			}
			output = out
			return nil
		})
	})
	return output, err
}

// StreamCall walks the same provider chain but iterates each provider's
// chunk stream into onChunk. A stream counts as successful only when it
// completes without the provider raising mid-stream. When every streaming
// path fails, the call degrades to a one-shot resilient call and delivers
// the whole result as a single synthetic chunk, so streaming consumers
// always receive something as long as any provider can answer synchronously.
func (c *Caller) StreamCall(ctx context.Context, useCase, prompt string, opts provider.Options, onChunk provider.ChunkFunc) (StreamResult, error) {
	callID := uuid.NewString()

	route, ok := c.routes.Route(useCase)
	if !ok {
		return StreamResult{}, &AllProvidersExhaustedError{UseCase: useCase}
	}
	if c.factory == nil {
		return StreamResult{}, &AllProvidersExhaustedError{UseCase: useCase, LastErr: errors.New("no provider factory configured")}
	}
	if opts.Temperature == 0 {
		opts.Temperature = route.Temperature
	}

	for _, name := range route.Chain() {
		cred, err := c.keys.GetKey(name)
		if err != nil {
			continue
		}

		client, err := c.factory(name, cred.Key)
		if err != nil {
			c.logger.Warn("provider factory failed",
				slog.String("call_id", callID),
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		breaker := c.breakers.For(name)
		streamErr := breaker.Execute(func() error {
			return client.GenerateStream(ctx, prompt, opts, onChunk)
		})
		if streamErr == nil {
			c.keys.RecordSuccess(cred)
			c.recordUsage(ctx, name, cred)
			return StreamResult{ProviderUsed: name, CallID: callID}, nil
		}
		if errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
			return StreamResult{}, streamErr
		}
		if !errors.Is(streamErr, ErrCircuitOpen) {
			c.keys.RecordFailure(cred, provider.StatusOf(streamErr))
		}
		c.logger.Warn("stream failed, trying next in chain",
			slog.String("call_id", callID),
			slog.String("use_case", useCase),
			slog.String("provider", name),
			slog.String("error", streamErr.Error()),
		)
	}

	// Total streaming failure: degrade to a one-shot call and emit the whole
	// answer as one synthetic chunk.
	c.logger.Warn("all streaming paths failed, falling back to one-shot",
		slog.String("call_id", callID),
		slog.String("use_case", useCase),
	)
	result, err := c.Call(ctx, useCase, func(ctx context.Context, name string, cred *domain.Credential) (string, error) {
		client, factoryErr := c.factory(name, cred.Key)
		if factoryErr != nil {
			return "", factoryErr
		}
		return client.GenerateText(ctx, prompt, opts)
	})
	if err != nil {
		return StreamResult{}, err
	}
	if err := onChunk(result.Output); err != nil {
		return StreamResult{}, err
	}
	return StreamResult{ProviderUsed: result.Provider, Synthetic: true, CallID: callID}, nil
}
