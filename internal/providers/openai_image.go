package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/fable/internal/prompts"
)

const (
	OpenAIImageName         = "openai"
	openAIImageDefaultModel = openai.ImageModelDallE3
	openAIImageDefaultSize  = openai.ImageGenerateParamsSize1024x1024
)

// OpenAIImageConfig holds configuration for the OpenAI image client.
type OpenAIImageConfig struct {
	APIKey     string
	Model      string
	Size       string
	RateLimit  float64       // Requests per second
	Timeout    time.Duration // Per-call HTTP timeout
	BaseURL    string        // Optional (tests, compatible gateways)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIImageClient implements ImageGenerator using the official OpenAI SDK.
type OpenAIImageClient struct {
	model   string
	size    openai.ImageGenerateParamsSize
	limiter *RateLimiter
	timeout time.Duration
	client  openai.Client
}

// NewOpenAIImageClient creates a new OpenAI image client.
func NewOpenAIImageClient(cfg OpenAIImageConfig) *OpenAIImageClient {
	if cfg.Model == "" {
		cfg.Model = openAIImageDefaultModel
	}
	size := openAIImageDefaultSize
	if cfg.Size != "" {
		size = openai.ImageGenerateParamsSize(cfg.Size)
	}
	if cfg.RateLimit <= 0 {
		// Image endpoints rate-limit much harder than chat.
		cfg.RateLimit = 0.5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
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

	return &OpenAIImageClient{
		model:   cfg.Model,
		size:    size,
		limiter: NewRateLimiter(cfg.RateLimit),
		timeout: cfg.Timeout,
		client:  openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIImageClient) Name() string { return OpenAIImageName }

// GenerateImage renders one illustration and returns its URL.
func (c *OpenAIImageClient) GenerateImage(ctx context.Context, prompt string, style ArtStyle) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", Transient("generate_image", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Images.Generate(callCtx, openai.ImageGenerateParams{
		Model: c.model,
		Prompt: prompts.Illustration(prompts.IllustrationData{
			Style: style.promptFragment(),
			Scene: prompt,
		}),
		Size:    c.size,
		Quality: openai.ImageGenerateParamsQualityHD,
		N:       openai.Int(1),
	})
	if err != nil {
		return "", classifyOpenAIError("generate_image", err, c.limiter)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", Transient("generate_image", errors.New("image response missing URL"))
	}
	return resp.Data[0].URL, nil
}
