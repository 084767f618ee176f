package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey         string
	Model          string
	Temperature    float32
	EmbedModel     string
	EmbedDimension int
}

// GeminiClient serves both chat and embeddings over the Gemini API.
type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client failed: %w", err)
	}
	return &GeminiClient{client: client, cfg: cfg}, nil
}

// toGeminiContents splits out the first system message as the system
// instruction and maps the remaining roles.
func toGeminiContents(messages []ChatMessage) ([]*genai.Content, string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}
		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}
	if len(contents) == 0 {
		return nil, "", fmt.Errorf("messages contain no user content")
	}
	return contents, systemText, nil
}

func (g *GeminiClient) generateConfig(systemText string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.cfg.Temperature),
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}
	return config
}

func (g *GeminiClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	contents, systemText, err := toGeminiContents(messages)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, g.generateConfig(systemText))
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}

func (g *GeminiClient) StreamComplete(ctx context.Context, messages []ChatMessage, onChunk func(chunk string) error) (string, error) {
	contents, systemText, err := toGeminiContents(messages)
	if err != nil {
		return "", err
	}

	var full strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.cfg.Model, contents, g.generateConfig(systemText)) {
		if err != nil {
			return "", fmt.Errorf("gemini stream failed: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		full.WriteString(text)
		if err := onChunk(text); err != nil {
			return "", err
		}
	}
	return full.String(), nil
}

func (g *GeminiClient) embedConfig() *genai.EmbedContentConfig {
	if g.cfg.EmbedDimension <= 0 {
		return nil
	}
	dim := int32(g.cfg.EmbedDimension)
	return &genai.EmbedContentConfig{OutputDimensionality: &dim}
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	result, err := g.client.Models.EmbedContent(ctx, g.cfg.EmbedModel, contents, g.embedConfig())
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned wrong embedding count for %d inputs", len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range result.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini returned empty embedding at %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}
