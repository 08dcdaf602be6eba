package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/medstock-api/internal/config"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/phrazzld/medstock-api/internal/retry"
	"github.com/phrazzld/medstock-api/internal/vision"
	"google.golang.org/genai"
)

const providerName = "gemini"

// contentGenerator is the subset of *genai.Models used by the analyzer.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Analyzer implements vision.Analyzer using the Gemini API.
type Analyzer struct {
	logger      *slog.Logger
	models      contentGenerator
	model       string
	temperature float32
}

var _ vision.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates a Gemini-backed analyzer.
//
// Parameters:
//   - ctx: Context used while creating the API client
//   - logger: A structured logger for operation logging
//   - cfg: LLM configuration with the API key and model name
//
// Returns:
//   - A ready Analyzer or an error wrapping vision.ErrInvalidConfig
func NewAnalyzer(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Analyzer, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", vision.ErrInvalidConfig, err)
	}

	return newAnalyzer(logger, client.Models, cfg.Model, cfg.Temperature), nil
}

func newAnalyzer(logger *slog.Logger, models contentGenerator, model string, temperature float32) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		logger:      logger.With(slog.String("provider", providerName), slog.String("model", model)),
		models:      models,
		model:       model,
		temperature: temperature,
	}
}

func validateConfig(cfg config.LLMConfig) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("%w: gemini API key cannot be empty", vision.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return fmt.Errorf("%w: model name cannot be empty", vision.ErrInvalidConfig)
	}
	return nil
}

// Analyze sends the instructions and images in one request and returns the
// model's text. Safety blocks and empty answers are marked permanent; API
// errors are converted to *vision.APIError so their status drives retries.
func (a *Analyzer) Analyze(ctx context.Context, req vision.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", retry.Permanent(err)
	}

	contents := []*genai.Content{buildContent(req)}
	temperature := a.temperature
	genConfig := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	}

	a.logger.DebugContext(ctx, "Sending analysis request", "image_count", len(req.Images))

	resp, err := a.models.GenerateContent(ctx, a.model, contents, genConfig)
	if err != nil {
		return "", a.convertError(ctx, err)
	}

	text, err := responseText(resp)
	if err != nil {
		a.logger.WarnContext(ctx, "Gemini returned no usable content", "error", err)
		return "", retry.Permanent(err)
	}

	a.logger.DebugContext(ctx, "Received analysis response", "response_length", len(text))
	return text, nil
}

func buildContent(req vision.Request) *genai.Content {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	parts = append(parts, &genai.Part{Text: req.Instructions})

	for _, img := range req.Images {
		switch img.Kind {
		case imagestore.KindURL:
			parts = append(parts, &genai.Part{FileData: &genai.FileData{
				FileURI:  img.URL,
				MIMEType: img.ContentType,
			}})
		case imagestore.KindBytes:
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{
				Data:     img.Data,
				MIMEType: img.ContentType,
			}})
		}
	}

	return &genai.Content{Role: "user", Parts: parts}
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", vision.ErrEmptyResponse
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", vision.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", vision.ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: response blocked by safety settings", vision.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", vision.ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", vision.ErrEmptyResponse
	}
	return sb.String(), nil
}

func (a *Analyzer) convertError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		a.logger.WarnContext(ctx, "Gemini API error",
			"status_code", apiErr.Code,
			"status", apiErr.Status)
		return &vision.APIError{
			Provider:   providerName,
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
		}
	}

	a.logger.WarnContext(ctx, "Gemini request failed", "error", err)
	return fmt.Errorf("gemini request failed: %w", err)
}
