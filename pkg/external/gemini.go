package external

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"

	"github.com/radprogressor-server/internal/domain"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

const geminiSystemInstruction = "You are a careful clinical writing assistant. Do not diagnose. Use hedging and uncertainty. Keep it concise."

// GeminiNarrator writes narrative summaries with a Gemini model.
type GeminiNarrator struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewGeminiNarrator connects to Gemini with the configured API key.
func NewGeminiNarrator(ctx context.Context, config domain.NarrativeConfig, logger *logrus.Logger) (*GeminiNarrator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return NewGeminiNarratorWithClient(client, config, logger), nil
}

// NewGeminiNarratorWithClient uses an existing Gemini client.
func NewGeminiNarratorWithClient(client *genai.Client, config domain.NarrativeConfig, logger *logrus.Logger) *GeminiNarrator {
	name := config.Model
	if name == "" {
		name = DefaultGeminiModel
	}
	model := client.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(geminiSystemInstruction)}}
	model.SetTemperature(0.2)
	model.SetMaxOutputTokens(256)

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}

	return &GeminiNarrator{
		client:  client,
		model:   model,
		timeout: timeout,
		breaker: NewCircuitBreaker("gemini", DefaultCircuitBreakerConfig(), logger),
		logger:  logger,
	}
}

// Summarize implements domain.Narrator.
func (g *GeminiNarrator) Summarize(ctx context.Context, in domain.NarrativeInput, audience domain.Audience) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := BuildNarrativePrompt(in, audience)
	result, err := g.breaker.Execute(func() (interface{}, error) {
		resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return nil, err
		}
		return ResponseText(resp)
	})
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"audience":     string(audience),
			"breaker_open": IsBreakerOpen(err),
			"error":        err.Error(),
		}).Warn("Gemini summary failed")
		return "", domain.Wrap(domain.ErrNarrativeGeneration, "gemini summary failed", err)
	}
	return result.(string), nil
}

// Close releases the underlying Gemini client.
func (g *GeminiNarrator) Close() error {
	return g.client.Close()
}

// BuildNarrativePrompt renders the user prompt for one audience.
func BuildNarrativePrompt(in domain.NarrativeInput, audience domain.Audience) string {
	var b strings.Builder
	switch audience {
	case domain.AudiencePatient:
		b.WriteString("Write two or three plain-language sentences for a patient about their recent chest images. ")
		b.WriteString("Avoid jargon and remind them to discuss results with their clinician.\n\n")
	default:
		b.WriteString("Write a short draft impression for a radiologist or referring clinician. ")
		b.WriteString("Mention the trajectory and recommend clinical correlation.\n\n")
	}

	findings := strings.TrimSpace(in.Findings)
	if findings == "" {
		findings = "(no report findings supplied)"
	}
	fmt.Fprintf(&b, "Report findings: %s\n", findings)

	b.WriteString("Model label probabilities:")
	for _, lp := range in.Labels {
		fmt.Fprintf(&b, " %s=%.2f", lp.Label, lp.Probability)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Progression trend: %s (last delta %.3f)\n", in.Trend.Direction, in.Trend.LastDelta)
	return b.String()
}

// ResponseText joins the text parts of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", fmt.Errorf("gemini candidate has no content")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	out := strings.TrimSpace(strings.Join(parts, ""))
	if out == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return out, nil
}
