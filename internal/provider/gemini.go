package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultGeminiBaseURL is the default Gemini API endpoint.
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultGeminiModel is used when the caller does not pick a model.
	DefaultGeminiModel = "gemini-1.5-flash"

	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second
)

// Gemini implements Provider for the Google Gemini API.
type Gemini struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// GeminiOption is a functional option for configuring Gemini.
type GeminiOption func(*Gemini)

// WithBaseURL sets a custom base URL for the Gemini API.
func WithBaseURL(url string) GeminiOption {
	return func(g *Gemini) {
		g.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) GeminiOption {
	return func(g *Gemini) {
		g.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) GeminiOption {
	return func(g *Gemini) {
		g.httpClient.Timeout = timeout
	}
}

// NewGemini creates a Gemini provider bound to one API key. The resilient
// call path constructs one per selected credential.
func NewGemini(apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:  apiKey,
		baseURL: DefaultGeminiBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Name returns the provider identifier.
func (g *Gemini) Name() string {
	return "gemini"
}

// GenerateText performs a one-shot generateContent call.
func (g *Gemini) GenerateText(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := g.doGenerate(ctx, prompt, opts, "")
	if err != nil {
		return "", err
	}
	return extractText(body)
}

// GenerateJSON requests a JSON response and reports whether the model's text
// actually parsed. A model that ignores the MIME-type hint still yields a
// usable Unparsed result carrying the raw text.
func (g *Gemini) GenerateJSON(ctx context.Context, prompt string, opts Options) (JSONResult, error) {
	body, err := g.doGenerate(ctx, prompt, opts, "application/json")
	if err != nil {
		return JSONResult{}, err
	}
	text, err := extractText(body)
	if err != nil {
		return JSONResult{}, err
	}
	return ParseJSON(text), nil
}

// GenerateStream iterates the SSE chunk stream of streamGenerateContent and
// invokes onChunk per text delta. Cancelling ctx closes the connection.
func (g *Gemini) GenerateStream(ctx context.Context, prompt string, opts Options, onChunk ChunkFunc) error {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		g.baseURL, g.model(opts), g.apiKey)

	payload, err := json.Marshal(g.buildRequest(prompt, opts, ""))
	if err != nil {
		return fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute gemini stream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // tolerate keep-alive noise between events
		}
		text := chunk.firstText()
		if text == "" {
			continue
		}
		if err := onChunk(text); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		// Report the cancellation itself so breaker bookkeeping can ignore it.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("gemini stream interrupted: %w", err)
	}
	return nil
}

// doGenerate executes a non-streaming generateContent call and returns the
// raw response body.
func (g *Gemini) doGenerate(ctx context.Context, prompt string, opts Options, responseMIME string) ([]byte, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model(opts), g.apiKey)

	payload, err := json.Marshal(g.buildRequest(prompt, opts, responseMIME))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute gemini request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gemini response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var geminiErr geminiErrorResponse
		if err := json.Unmarshal(body, &geminiErr); err == nil && geminiErr.Error.Message != "" {
			return nil, &APIError{Provider: g.Name(), StatusCode: resp.StatusCode, Message: geminiErr.Error.Message}
		}
		return nil, &APIError{Provider: g.Name(), StatusCode: resp.StatusCode, Message: string(body)}
	}

	return body, nil
}

// apiError reads a non-200 response into an APIError.
func (g *Gemini) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var geminiErr geminiErrorResponse
	if err := json.Unmarshal(body, &geminiErr); err == nil && geminiErr.Error.Message != "" {
		return &APIError{Provider: g.Name(), StatusCode: resp.StatusCode, Message: geminiErr.Error.Message}
	}
	return &APIError{Provider: g.Name(), StatusCode: resp.StatusCode, Message: string(body)}
}

func (g *Gemini) model(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return DefaultGeminiModel
}

// buildRequest maps Options onto the Gemini wire format.
func (g *Gemini) buildRequest(prompt string, opts Options, responseMIME string) geminiRequest {
	req := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
	}

	if opts.SystemInstruction != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: opts.SystemInstruction}},
		}
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		req.GenerationConfig.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		m := opts.MaxTokens
		req.GenerationConfig.MaxOutputTokens = &m
	}
	if responseMIME != "" {
		req.GenerationConfig.ResponseMIMEType = responseMIME
	}

	return req
}

// extractText pulls the first candidate's text out of a generateContent body.
func extractText(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal gemini response: %w", err)
	}
	text := resp.firstText()
	if text == "" {
		return "", fmt.Errorf("gemini response contained no candidates")
	}
	return text, nil
}

// ============================================================================
// Gemini API Types
// ============================================================================

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func (r geminiResponse) firstText() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
