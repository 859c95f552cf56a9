package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/fable/internal/prompts"
)

const (
	OpenAITextName          = "openai"
	openAITextDefaultModel  = openai.ChatModelGPT4o
	openAITextDefaultTemp   = 0.8
	openAITextDefaultExpiry = 120 * time.Second
)

// OpenAITextConfig holds configuration for the OpenAI story client.
type OpenAITextConfig struct {
	APIKey     string
	Model      string
	RateLimit  float64       // Requests per second
	Timeout    time.Duration // Per-call HTTP timeout
	BaseURL    string        // Optional (tests, compatible gateways)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAITextClient implements TextGenerator using the official OpenAI SDK.
// Retry is owned by the orchestrator, so the SDK's own retries are disabled.
type OpenAITextClient struct {
	model   string
	limiter *RateLimiter
	timeout time.Duration
	client  openai.Client
}

// NewOpenAITextClient creates a new OpenAI story client.
func NewOpenAITextClient(cfg OpenAITextConfig) *OpenAITextClient {
	if cfg.Model == "" {
		cfg.Model = openAITextDefaultModel
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1.0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = openAITextDefaultExpiry
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAITextClient{
		model:   cfg.Model,
		limiter: NewRateLimiter(cfg.RateLimit),
		timeout: cfg.Timeout,
		client:  openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAITextClient) Name() string { return OpenAITextName }

// GenerateStory generates a complete story draft in one chat completion.
func (c *OpenAITextClient) GenerateStory(ctx context.Context, req *StoryRequest) (*StoryDraft, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, Transient("generate_story", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompts.StorySystem(storyPromptData(req))),
			openai.UserMessage(prompts.StoryUser(storyPromptData(req))),
		},
		Temperature: openai.Float(openAITextDefaultTemp),
	})
	if err != nil {
		return nil, classifyOpenAIError("generate_story", err, c.limiter)
	}
	if len(resp.Choices) == 0 {
		return nil, Transient("generate_story", errors.New("empty completion response"))
	}

	draft, err := ParseStoryDraft(resp.Choices[0].Message.Content, req.PageCount)
	if err != nil {
		// Malformed model output tends to clear up on a fresh sample.
		return nil, Transient("generate_story", err)
	}
	return draft, nil
}

// storyPromptData maps a request onto the story template variables.
func storyPromptData(req *StoryRequest) prompts.StoryData {
	return prompts.StoryData{
		AgeGroup:     string(req.TargetAge),
		Guidelines:   req.TargetAge.writingGuidelines(),
		Theme:        req.Theme,
		Keywords:     joinKeywords(req.Keywords),
		PageCount:    req.PageCount,
		CustomPrompt: req.CustomPrompt,
	}
}

// classifyOpenAIError maps an SDK error to an UpstreamError.
func classifyOpenAIError(op string, err error, limiter *RateLimiter) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		class := classifyStatus(apiErr.StatusCode)
		if apiErr.StatusCode == 429 && limiter != nil {
			limiter.Record429()
		}
		return &UpstreamError{Op: op, Class: class, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return Permanent(op, err)
	}
	// Transport-level failures (connection reset, EOF) are worth retrying.
	if IsTransient(err) {
		return Transient(op, err)
	}
	return Permanent(op, err)
}

// unmarshalDraft is the raw shape before normalization, tolerant of the
// field-name drift models produce.
type rawStoryPage struct {
	PageNumber       int    `json:"page_number"`
	Text             string `json:"text"`
	SceneDescription string `json:"scene_description"`
	Description      string `json:"description"`
	ImagePrompt      string `json:"image_prompt"`
	ImageDescription string `json:"image_description"`
}

type rawStoryDraft struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Pages       []rawStoryPage `json:"pages"`
}

// ParseStoryDraft parses model output into a validated StoryDraft. It
// salvages JSON wrapped in code fences or prose, validates the result
// against the story schema, and normalizes page numbering to a 1-based
// contiguous sequence of wantPages pages.
func ParseStoryDraft(content string, wantPages int) (*StoryDraft, error) {
	raw, err := parseStructuredJSON(content)
	if err != nil {
		return nil, err
	}

	if err := validateStorySchema(raw); err != nil {
		return nil, err
	}

	var parsed rawStoryDraft
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal story draft: %w", err)
	}
	if len(parsed.Pages) == 0 {
		return nil, errors.New("story draft has no pages")
	}
	if wantPages > 0 && len(parsed.Pages) != wantPages {
		return nil, fmt.Errorf("story draft has %d pages, want %d", len(parsed.Pages), wantPages)
	}

	draft := &StoryDraft{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
		Pages:       make([]StoryPage, 0, len(parsed.Pages)),
	}
	for i, p := range parsed.Pages {
		scene := p.SceneDescription
		if scene == "" {
			scene = p.Description
		}
		prompt := p.ImagePrompt
		if prompt == "" {
			prompt = p.ImageDescription
		}
		if prompt == "" {
			prompt = scene
		}
		draft.Pages = append(draft.Pages, StoryPage{
			PageNumber:       i + 1,
			Text:             p.Text,
			SceneDescription: scene,
			ImagePrompt:      prompt,
		})
	}
	return draft, nil
}
