package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trendsight/insight-core/internal/domain"
	"github.com/trendsight/insight-core/internal/prompt"
	"github.com/trendsight/insight-core/internal/provider"
	"github.com/trendsight/insight-core/internal/quality"
	"github.com/trendsight/insight-core/internal/resilience"
)

// Store is the slice of persistence the service needs. The SQLite store
// satisfies it; tests use an in-memory map.
type Store interface {
	Get(ctx context.Context, subject, insightType string) (*CachedInsight, error)
	Upsert(ctx context.Context, rec CachedInsight) error
	TouchAccess(ctx context.Context, subject, insightType string, at time.Time) error
}

// TextGenerator is the resilient call surface the service generates through.
type TextGenerator interface {
	Call(ctx context.Context, useCase string, fn resilience.GenerateFunc) (resilience.CallResult, error)
}

// TemplateFunc renders the data-only fallback served when no cached content
// exists yet.
type TemplateFunc func(subject, insightType string) string

// InputRejectedError reports user input that failed the safety filter.
type InputRejectedError struct {
	Flags []string
}

func (e *InputRejectedError) Error() string {
	return fmt.Sprintf("input rejected: %s", strings.Join(e.Flags, ", "))
}

// Request describes one cached-insight read.
type Request struct {
	// Subject identifies what the insight is about.
	Subject string

	// Type is the insight kind and doubles as the routing use case.
	Type string

	// Sections are the prepared prompt sections, in layout order.
	Sections []prompt.Section

	// LowConfidence marks the underlying data as low-confidence.
	LowConfidence bool
}

// Response is what a read serves.
type Response struct {
	// Content is the insight text, or the template fallback.
	Content string `json:"content"`

	// Freshness is the tier the content was served from.
	Freshness string `json:"freshness"`

	// Template is true when Content is the data-only fallback.
	Template bool `json:"template"`
}

// AskRequest describes one interactive question.
type AskRequest struct {
	// UseCase selects the provider chain.
	UseCase string

	// SystemContext is the trusted framing placed before the user block.
	SystemContext string

	// History holds prior conversation turns, oldest first.
	History []string

	// Question is the raw user text.
	Question string
}

// Answer is the outcome of one interactive question.
type Answer struct {
	// Content is the generated answer.
	Content string `json:"content"`

	// Provider is the provider that answered.
	Provider string `json:"provider"`
}

// Service ties the cache, freshness policy, prompt assembly, safety filter,
// quality gate and resilient caller into the two operations the product
// needs: cached insight reads and interactive questions.
type Service struct {
	store    Store
	regen    *RegenQueue
	caller   TextGenerator
	factory  resilience.ProviderFactory
	budget   prompt.BudgetConfig
	template TemplateFunc
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceOption is a functional option for configuring Service.
type ServiceOption func(*Service)

// WithBudget overrides the default prompt budget.
func WithBudget(cfg prompt.BudgetConfig) ServiceOption {
	return func(s *Service) {
		s.budget = cfg
	}
}

// WithTemplate overrides the default fallback template.
func WithTemplate(fn TemplateFunc) ServiceOption {
	return func(s *Service) {
		s.template = fn
	}
}

// WithServiceLogger sets a custom logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithServiceClock overrides the time source. Used by tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service over explicit collaborators.
func NewService(store Store, regen *RegenQueue, caller TextGenerator, factory resilience.ProviderFactory, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		regen:    regen,
		caller:   caller,
		factory:  factory,
		budget:   prompt.DefaultBudgetConfig(),
		template: defaultTemplate,
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// defaultTemplate is the data-only fallback when nothing was ever generated.
func defaultTemplate(subject, insightType string) string {
	return fmt.Sprintf("An AI %s for %s is being prepared. The raw data is shown below in the meantime.", insightType, subject)
}

// Get serves an insight for (subject, type). Whatever exists is served
// immediately; stale, expired or missing content additionally queues a
// background regeneration. The request path never waits on generation.
func (s *Service) Get(ctx context.Context, req Request) (Response, error) {
	rec, err := s.store.Get(ctx, req.Subject, req.Type)
	if err != nil {
		// A broken store degrades to the no-cache path rather than failing
		// the read.
		s.logger.Error("insight store read failed",
			slog.String("subject", req.Subject),
			slog.String("type", req.Type),
			slog.String("error", err.Error()),
		)
		rec = nil
	}

	hash := HashInputs([]byte(joinSections(req.Sections)))
	decision := Decide(rec, hash, s.now())

	if decision.Regenerate {
		// Detach from the request context so regeneration survives the
		// response being written.
		bg := context.WithoutCancel(ctx)
		s.regen.Trigger(bg, req.Subject, req.Type, func(ctx context.Context) error {
			return s.generate(ctx, req, hash, rec)
		})
	}

	if decision.UseTemplate {
		return Response{
			Content:   s.template(req.Subject, req.Type),
			Freshness: decision.Freshness.String(),
			Template:  true,
		}, nil
	}

	if err := s.store.TouchAccess(ctx, req.Subject, req.Type, s.now()); err != nil {
		s.logger.Warn("touch access failed",
			slog.String("subject", req.Subject),
			slog.String("error", err.Error()),
		)
	}

	return Response{
		Content:   decision.Content,
		Freshness: decision.Freshness.String(),
	}, nil
}

// generate runs one full generation for the item and caches the result.
// Output failing the quality gate only replaces the cache when no prior
// record exists; a low-scoring answer still beats an empty cache.
func (s *Service) generate(ctx context.Context, req Request, hash string, prior *CachedInsight) error {
	built := prompt.Build(req.Sections, s.budget)

	result, err := s.caller.Call(ctx, req.Type, s.generateText(built.Prompt))
	if err != nil {
		return err
	}

	grade := quality.Evaluate(result.Output, quality.Context{
		InputText:     joinSections(req.Sections),
		LowConfidence: req.LowConfidence,
	})
	if !grade.Passed {
		s.logger.Warn("generated output failed quality gate",
			slog.String("call_id", result.CallID),
			slog.String("subject", req.Subject),
			slog.String("type", req.Type),
			slog.Int("score", grade.Score),
		)
		if prior != nil {
			return fmt.Errorf("quality score %d below threshold, keeping prior content", grade.Score)
		}
	}

	now := s.now()
	return s.store.Upsert(ctx, CachedInsight{
		Subject:      req.Subject,
		Type:         req.Type,
		Content:      result.Output,
		ContentHash:  hash,
		GeneratedAt:  now,
		LastAccessed: now,
	})
}

// Ask answers one interactive question synchronously. Flagged input never
// reaches a provider; the trusted context is assembled before the delimited
// user block.
func (s *Service) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	sanitized := prompt.SanitizeUserInput(req.Question)
	if sanitized.HasFlag(prompt.FlagPromptInjection) || sanitized.HasFlag(prompt.FlagOffTopic) {
		s.logger.Warn("question rejected by safety filter",
			slog.String("use_case", req.UseCase),
			slog.Any("flags", sanitized.Flags),
		)
		return Answer{}, &InputRejectedError{Flags: sanitized.Flags}
	}

	full := prompt.ContainUserInput(req.SystemContext, req.History, sanitized.Sanitized)

	result, err := s.caller.Call(ctx, req.UseCase, s.generateText(full))
	if err != nil {
		return Answer{}, err
	}
	return Answer{Content: result.Output, Provider: result.Provider}, nil
}

// generateText adapts a prepared prompt into a per-attempt generation
// function over the provider factory.
func (s *Service) generateText(text string) resilience.GenerateFunc {
	return func(ctx context.Context, name string, cred *domain.Credential) (string, error) {
		client, err := s.factory(name, cred.Key)
		if err != nil {
			return "", err
		}
		return client.GenerateText(ctx, text, provider.Options{})
	}
}

// joinSections serializes section contents for input hashing and quality
// grounding.
func joinSections(sections []prompt.Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, s.Content)
	}
	return strings.Join(parts, "\n")
}
