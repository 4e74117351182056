package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/trendsight/insight-core/internal/domain"
	"github.com/trendsight/insight-core/internal/provider"
)

func testRoutes() *domain.RouteTable {
	return domain.NewRouteTable([]domain.UseCaseRoute{
		{UseCase: "digest", Provider: "gemini", Fallbacks: []string{"groq", "openai"}},
	})
}

func testKeys(providers ...string) *domain.KeyManager {
	creds := make([]domain.Credential, 0, len(providers))
	for _, p := range providers {
		creds = append(creds, domain.Credential{
			Key:      "key_" + p,
			Name:     p + "_1",
			Provider: p,
		})
	}
	return domain.NewKeyManager(creds)
}

func fastRetry() CallerOption {
	return WithRetryPolicy(RetryPolicy{MaxAttempts: 1})
}

func TestCall_PrimarySucceeds(t *testing.T) {
	keys := testKeys("gemini", "groq")
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()), fastRetry())

	result, err := c.Call(context.Background(), "digest", func(_ context.Context, name string, _ *domain.Credential) (string, error) {
		return "output from " + name, nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result.Provider != "gemini" {
		t.Errorf("Provider = %s, want gemini", result.Provider)
	}
	if result.Output != "output from gemini" {
		t.Errorf("Output = %q, want output from gemini", result.Output)
	}
	if result.CallID == "" {
		t.Error("CallID is empty")
	}
}

func TestCall_FallsBackOnFailure(t *testing.T) {
	keys := testKeys("gemini", "groq")
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()), fastRetry())

	result, err := c.Call(context.Background(), "digest", func(_ context.Context, name string, _ *domain.Credential) (string, error) {
		if name == "gemini" {
			return "", &provider.APIError{Provider: name, StatusCode: 503, Message: "overloaded"}
		}
		return "answer", nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result.Provider != "groq" {
		t.Errorf("Provider = %s, want groq", result.Provider)
	}

	// The primary credential carries the failure, the fallback does not.
	for _, s := range keys.Snapshot("gemini") {
		if s.Failures != 1 {
			t.Errorf("gemini Failures = %d, want 1", s.Failures)
		}
	}
	for _, s := range keys.Snapshot("groq") {
		if s.Failures != 0 {
			t.Errorf("groq Failures = %d, want 0", s.Failures)
		}
	}
}

func TestCall_SkipsProviderWithoutCredentials(t *testing.T) {
	// Only the last provider in the chain has a credential.
	keys := testKeys("openai")
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()), fastRetry())

	result, err := c.Call(context.Background(), "digest", func(_ context.Context, name string, _ *domain.Credential) (string, error) {
		return name, nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result.Provider != "openai" {
		t.Errorf("Provider = %s, want openai", result.Provider)
	}
}

func TestCall_AllProvidersExhausted(t *testing.T) {
	keys := testKeys("gemini", "groq", "openai")
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()), fastRetry())

	_, err := c.Call(context.Background(), "digest", func(_ context.Context, name string, _ *domain.Credential) (string, error) {
		return "", &provider.APIError{Provider: name, StatusCode: 500, Message: "boom"}
	})
	if !IsExhausted(err) {
		t.Fatalf("Call() error = %v, want AllProvidersExhaustedError", err)
	}

	var exhausted *AllProvidersExhaustedError
	errors.As(err, &exhausted)
	if len(exhausted.Attempted) != 3 {
		t.Errorf("Attempted = %v, want 3 providers", exhausted.Attempted)
	}
	if !strings.Contains(exhausted.Error(), "digest") {
		t.Errorf("Error() = %q, want use case named", exhausted.Error())
	}
}

func TestCall_UnknownUseCase(t *testing.T) {
	c := NewCaller(testRoutes(), testKeys("gemini"), NewBreakerRegistry(DefaultBreakerConfig()), fastRetry())

	_, err := c.Call(context.Background(), "unknown", func(_ context.Context, _ string, _ *domain.Credential) (string, error) {
		t.Error("fn invoked for unknown use case")
		return "", nil
	})
	if !IsExhausted(err) {
		t.Errorf("Call() error = %v, want AllProvidersExhaustedError", err)
	}
}

func TestCall_CancellationStopsFallback(t *testing.T) {
	keys := testKeys("gemini", "groq")
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()), fastRetry())

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := c.Call(ctx, "digest", func(_ context.Context, _ string, _ *domain.Credential) (string, error) {
		calls++
		cancel()
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want %v", err, context.Canceled)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (no fallback after cancellation)", calls)
	}

	// A cancelled attempt is not held against the credential.
	for _, s := range keys.Snapshot("gemini") {
		if s.Failures != 0 {
			t.Errorf("gemini Failures = %d after cancellation, want 0", s.Failures)
		}
	}
}

func TestCall_OpenBreakerSkipsWithoutKeyPenalty(t *testing.T) {
	keys := testKeys("gemini", "groq")
	breakers := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	// Trip the gemini breaker.
	_ = breakers.For("gemini").Execute(func() error { return errUpstream })

	c := NewCaller(testRoutes(), keys, breakers, fastRetry())

	result, err := c.Call(context.Background(), "digest", func(_ context.Context, name string, _ *domain.Credential) (string, error) {
		if name == "gemini" {
			t.Error("fn invoked for provider with open breaker")
		}
		return name, nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result.Provider != "groq" {
		t.Errorf("Provider = %s, want groq", result.Provider)
	}

	// Fail-fast rejections carry no signal about the credential itself.
	for _, s := range keys.Snapshot("gemini") {
		if s.Failures != 0 {
			t.Errorf("gemini Failures = %d after breaker rejection, want 0", s.Failures)
		}
	}
}

func TestCall_RetriesBeforeFallback(t *testing.T) {
	keys := testKeys("gemini", "groq")
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond}))

	geminiCalls := 0
	result, err := c.Call(context.Background(), "digest", func(_ context.Context, name string, _ *domain.Credential) (string, error) {
		if name == "gemini" {
			geminiCalls++
			return "", errUpstream
		}
		return name, nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if geminiCalls != 2 {
		t.Errorf("gemini attempts = %d, want 2 (retry before fallback)", geminiCalls)
	}
	if result.Provider != "groq" {
		t.Errorf("Provider = %s, want groq", result.Provider)
	}
}

type fakeUsage struct {
	records map[string]int
}

func (f *fakeUsage) AddDailyUsage(_ context.Context, provider, credName, _ string, n int) error {
	if f.records == nil {
		f.records = make(map[string]int)
	}
	f.records[provider+"/"+credName] += n
	return nil
}

func TestCall_RecordsUsageOnSuccess(t *testing.T) {
	keys := testKeys("gemini", "groq")
	usage := &fakeUsage{}
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()), fastRetry(),
		WithUsageRecorder(usage))

	_, err := c.Call(context.Background(), "digest", func(_ context.Context, name string, _ *domain.Credential) (string, error) {
		if name == "gemini" {
			return "", errUpstream
		}
		return "answer", nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	// Only the provider that answered gets a durable usage record.
	if got := usage.records["groq/groq_1"]; got != 1 {
		t.Errorf("groq usage = %d, want 1", got)
	}
	if got := usage.records["gemini/gemini_1"]; got != 0 {
		t.Errorf("gemini usage = %d, want 0 (failed attempt)", got)
	}
}

// fakeProvider is a scriptable provider for streaming tests.
type fakeProvider struct {
	name      string
	chunks    []string
	streamErr error
	text      string
	textErr   error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) GenerateText(_ context.Context, _ string, _ provider.Options) (string, error) {
	return f.text, f.textErr
}

func (f *fakeProvider) GenerateJSON(_ context.Context, _ string, _ provider.Options) (provider.JSONResult, error) {
	return provider.ParseJSON(f.text), f.textErr
}

func (f *fakeProvider) GenerateStream(_ context.Context, _ string, _ provider.Options, onChunk provider.ChunkFunc) error {
	for _, chunk := range f.chunks {
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return f.streamErr
}

func TestStreamCall_Success(t *testing.T) {
	keys := testKeys("gemini")
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()), fastRetry(),
		WithProviderFactory(func(name, _ string) (provider.Provider, error) {
			return &fakeProvider{name: name, chunks: []string{"hello ", "world"}}, nil
		}))

	var received []string
	result, err := c.StreamCall(context.Background(), "digest", "prompt", provider.Options{}, func(chunk string) error {
		received = append(received, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamCall() error = %v", err)
	}
	if result.Synthetic {
		t.Error("Synthetic = true for a live stream")
	}
	if result.ProviderUsed != "gemini" {
		t.Errorf("ProviderUsed = %s, want gemini", result.ProviderUsed)
	}
	if len(received) != 2 {
		t.Errorf("received %d chunks, want 2", len(received))
	}
}

func TestStreamCall_SyntheticFallback(t *testing.T) {
	keys := testKeys("gemini")
	streamAttempts := 0
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()), fastRetry(),
		WithProviderFactory(func(name, _ string) (provider.Provider, error) {
			streamAttempts++
			if streamAttempts == 1 {
				// First construction serves the streaming attempt, which fails.
				return &fakeProvider{name: name, streamErr: errUpstream}, nil
			}
			return &fakeProvider{name: name, text: "full answer"}, nil
		}))

	var received []string
	result, err := c.StreamCall(context.Background(), "digest", "prompt", provider.Options{}, func(chunk string) error {
		received = append(received, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamCall() error = %v", err)
	}
	if !result.Synthetic {
		t.Error("Synthetic = false, want true after streaming failure")
	}
	if len(received) != 1 || received[0] != "full answer" {
		t.Errorf("received = %v, want single synthetic chunk", received)
	}
}

func TestStreamCall_AllPathsFail(t *testing.T) {
	keys := testKeys("gemini")
	c := NewCaller(testRoutes(), keys, NewBreakerRegistry(DefaultBreakerConfig()), fastRetry(),
		WithProviderFactory(func(name, _ string) (provider.Provider, error) {
			return &fakeProvider{name: name, streamErr: errUpstream, textErr: errUpstream}, nil
		}))

	_, err := c.StreamCall(context.Background(), "digest", "prompt", provider.Options{}, func(string) error {
		return nil
	})
	if !IsExhausted(err) {
		t.Errorf("StreamCall() error = %v, want AllProvidersExhaustedError", err)
	}
}
