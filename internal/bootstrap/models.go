package bootstrap

import (
	"context"

	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/ai"
	"fiqh-rag/internal/config"
	"fiqh-rag/internal/pkg/lazy"
	"fiqh-rag/internal/rag/vectorindex"
)

// The model clients are built on first use so the server starts without
// credentials; requests then fail with a model-unavailable error.

func newChatModel(cfg *config.Config, log logrus.FieldLogger) *lazy.Value[ai.ChatModel] {
	return lazy.New(func(ctx context.Context) (ai.ChatModel, error) {
		var (
			m   ai.ChatModel
			err error
		)
		switch cfg.LLM.Provider {
		case "openai":
			m, err = openAIChat(cfg)
		default:
			m, err = gemini(ctx, cfg, cfg.LLM.APIKey)
		}
		if err != nil {
			log.WithError(err).WithField("provider", cfg.LLM.Provider).Error("chat model unavailable")
			return nil, err
		}
		return m, nil
	})
}

func newEmbedder(cfg *config.Config, log logrus.FieldLogger) *lazy.Value[vectorindex.Embedder] {
	return lazy.New(func(ctx context.Context) (vectorindex.Embedder, error) {
		provider, baseURL, apiKey := cfg.EmbeddingProvider()
		var (
			e   vectorindex.Embedder
			err error
		)
		switch provider {
		case "openai":
			e, err = openAIEmbedder(cfg, baseURL, apiKey)
		default:
			e, err = gemini(ctx, cfg, apiKey)
		}
		if err != nil {
			log.WithError(err).WithField("provider", provider).Error("embedder unavailable")
			return nil, err
		}
		return e, nil
	})
}

func gemini(ctx context.Context, cfg *config.Config, apiKey string) (*ai.GeminiClient, error) {
	return ai.NewGeminiClient(ctx, ai.GeminiConfig{
		APIKey:         apiKey,
		Model:          cfg.LLM.Model,
		Temperature:    float32(cfg.LLM.Temperature),
		EmbedModel:     cfg.LLM.EmbeddingModel,
		EmbedDimension: cfg.LLM.EmbeddingDimension,
	})
}

func openAIChat(cfg *config.Config) (*ai.OpenAICompatibleClient, error) {
	return ai.NewOpenAICompatibleClient(ai.ChatConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: float32(cfg.LLM.Temperature),
	})
}

func openAIEmbedder(cfg *config.Config, baseURL, apiKey string) (*ai.OpenAICompatibleEmbedder, error) {
	return ai.NewOpenAICompatibleEmbedder(ai.EmbeddingConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   cfg.LLM.EmbeddingModel,
	})
}
