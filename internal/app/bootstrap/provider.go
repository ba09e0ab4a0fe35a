package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/medspa-telehealth/internal/config"
	"github.com/wolfman30/medspa-telehealth/internal/llm"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// BuildSummaryClient wires AI_PROVIDER, wrapped with AI_FALLBACK_PROVIDER when
// one is configured. A nil client with a nil error means no provider is
// usable; summary requests then report a provider configuration error rather
// than the process refusing to start. The returned closer is never nil.
func BuildSummaryClient(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (llm.Client, func(), error) {
	noop := func() {}
	if cfg == nil {
		return nil, noop, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	primary, closePrimary, err := buildProvider(ctx, cfg.AIProvider, cfg, awsCfg)
	if err != nil {
		logger.Warn("summary provider unavailable", "provider", cfg.AIProvider, "error", err)
	} else {
		closers = append(closers, closePrimary)
	}

	if cfg.AIFallbackProvider == "" || cfg.AIFallbackProvider == cfg.AIProvider {
		if primary != nil {
			logger.Info("summary provider configured", "provider", cfg.AIProvider)
		}
		return primary, closeAll, nil
	}

	fallback, closeFallback, err := buildProvider(ctx, cfg.AIFallbackProvider, cfg, awsCfg)
	if err != nil {
		logger.Warn("summary fallback provider unavailable", "provider", cfg.AIFallbackProvider, "error", err)
		return primary, closeAll, nil
	}
	closers = append(closers, closeFallback)
	if primary == nil {
		logger.Info("summary provider configured", "provider", cfg.AIFallbackProvider)
		return fallback, closeAll, nil
	}
	logger.Info("summary provider configured", "provider", cfg.AIProvider, "fallback", cfg.AIFallbackProvider)
	return llm.NewFallbackClient(primary, fallback, logger), closeAll, nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, awsCfg *aws.Config) (llm.Client, func(), error) {
	noop := func() {}
	switch name {
	case "openai":
		client, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	case "bedrock":
		if awsCfg == nil {
			return nil, noop, fmt.Errorf("%w: aws config not loaded", llm.ErrProviderNotConfigured)
		}
		client, err := llm.NewBedrockClient(bedrockruntime.NewFromConfig(*awsCfg), cfg.BedrockModelID)
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, noop, err
		}
		return client, func() { _ = client.Close() }, nil
	case "", "none":
		return nil, noop, llm.ErrProviderNotConfigured
	default:
		return nil, noop, fmt.Errorf("%w: unknown provider %q", llm.ErrProviderNotConfigured, name)
	}
}
