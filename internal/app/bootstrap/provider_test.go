package bootstrap

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/medspa-telehealth/internal/config"
	"github.com/wolfman30/medspa-telehealth/internal/llm"
)

func TestBuildSummaryClient(t *testing.T) {
	awsCfg := &aws.Config{Region: "us-east-1"}

	tests := []struct {
		name string
		cfg  appconfig.Config
		aws  *aws.Config
		want any
	}{
		{
			name: "no provider configured",
			cfg:  appconfig.Config{AIProvider: "openai"},
			want: nil,
		},
		{
			name: "openai",
			cfg:  appconfig.Config{AIProvider: "openai", OpenAIAPIKey: "sk-test"},
			want: &llm.OpenAIClient{},
		},
		{
			name: "bedrock without aws config",
			cfg:  appconfig.Config{AIProvider: "bedrock", BedrockModelID: "anthropic.claude"},
			want: nil,
		},
		{
			name: "bedrock",
			cfg:  appconfig.Config{AIProvider: "bedrock", BedrockModelID: "anthropic.claude"},
			aws:  awsCfg,
			want: &llm.BedrockClient{},
		},
		{
			name: "openai with bedrock fallback",
			cfg:  appconfig.Config{AIProvider: "openai", OpenAIAPIKey: "sk-test", AIFallbackProvider: "bedrock", BedrockModelID: "anthropic.claude"},
			aws:  awsCfg,
			want: &llm.FallbackClient{},
		},
		{
			name: "fallback stands in for an unconfigured primary",
			cfg:  appconfig.Config{AIProvider: "openai", AIFallbackProvider: "bedrock", BedrockModelID: "anthropic.claude"},
			aws:  awsCfg,
			want: &llm.BedrockClient{},
		},
		{
			name: "unusable fallback keeps the primary",
			cfg:  appconfig.Config{AIProvider: "openai", OpenAIAPIKey: "sk-test", AIFallbackProvider: "gemini"},
			want: &llm.OpenAIClient{},
		},
		{
			name: "unknown provider",
			cfg:  appconfig.Config{AIProvider: "mystery"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			client, closer, err := BuildSummaryClient(context.Background(), &cfg, tt.aws, testLogger())
			require.NoError(t, err)
			require.NotNil(t, closer)
			defer closer()
			if tt.want == nil {
				assert.Nil(t, client)
				return
			}
			assert.IsType(t, tt.want, client)
		})
	}
}

func TestBuildSummaryClientRequiresConfig(t *testing.T) {
	_, closer, err := BuildSummaryClient(context.Background(), nil, nil, nil)
	assert.Error(t, err)
	assert.NotNil(t, closer)
}
