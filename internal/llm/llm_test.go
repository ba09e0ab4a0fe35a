package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
	got  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = req
	return f.resp, f.err
}

type fakeConverse struct {
	out *bedrockruntime.ConverseOutput
	err error
	got *bedrockruntime.ConverseInput
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.got = in
	return f.out, f.err
}

type stubClient struct {
	resp  Response
	err   error
	calls int
}

func (s *stubClient) Complete(context.Context, Request) (Response, error) {
	s.calls++
	return s.resp, s.err
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, "error")
}

func TestOpenAIClientComplete(t *testing.T) {
	api := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Content: "  SUMMARY  "},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	client := newOpenAIClientWithAPI(api, "")

	resp, err := client.Complete(context.Background(), Request{System: []string{"be brief", " "}, Prompt: "corpus", Temperature: -1})
	require.NoError(t, err)
	assert.Equal(t, "SUMMARY", resp.Text)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, int32(15), resp.Usage.TotalTokens)
	require.Len(t, api.got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, api.got.Messages[0].Role)
	assert.Equal(t, "corpus", api.got.Messages[1].Content)
	assert.Zero(t, api.got.Temperature)
}

func TestOpenAIClientEmptyResponse(t *testing.T) {
	client := newOpenAIClientWithAPI(&fakeChat{}, "m")
	_, err := client.Complete(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, apperr.ErrProviderEmpty, apperr.KindOf(err))

	client = newOpenAIClientWithAPI(&fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  "}}},
	}}, "m")
	_, err = client.Complete(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(" ", "", "")
	require.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestBedrockClientComplete(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "CHIEF COMPLAINT: "},
				&brtypes.ContentBlockMemberText{Value: "rash"},
			},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(4), TotalTokens: aws.Int32(7)},
	}}
	client, err := NewBedrockClient(api, "anthropic.claude-3-haiku")
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{System: []string{"sys"}, Prompt: "corpus", MaxTokens: 512, Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "CHIEF COMPLAINT: rash", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int32(7), resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.got.ModelId))
	require.NotNil(t, api.got.InferenceConfig)
	assert.Equal(t, int32(512), aws.ToInt32(api.got.InferenceConfig.MaxTokens))
	require.Len(t, api.got.System, 1)
}

func TestBedrockClientEmptyOutput(t *testing.T) {
	client, err := NewBedrockClient(&fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{}},
	}}, "m")
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestBedrockClientClassifiesErrors(t *testing.T) {
	client, err := NewBedrockClient(&fakeConverse{err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"}}, "m")
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, ErrProviderAuth)
	assert.Equal(t, apperr.ErrProviderConfig, apperr.KindOf(err))
}

func TestBedrockClientRequiresModel(t *testing.T) {
	_, err := NewBedrockClient(&fakeConverse{}, "")
	require.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"openai unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, ErrProviderAuth},
		{"openai unknown model", &openai.APIError{HTTPStatusCode: http.StatusNotFound, Code: "model_not_found"}, ErrModelUnavailable},
		{"openai server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, ErrProviderUnavailable},
		{"openai transport", &openai.RequestError{HTTPStatusCode: http.StatusForbidden, Err: errors.New("forbidden")}, ErrProviderAuth},
		{"bedrock missing model", &brtypes.ResourceNotFoundException{Message: aws.String("no such model")}, ErrModelUnavailable},
		{"bedrock validation on model", &smithy.GenericAPIError{Code: "ValidationException", Message: "The provided model identifier is invalid."}, ErrModelUnavailable},
		{"bedrock throttled", &smithy.GenericAPIError{Code: "ThrottlingException"}, ErrProviderUnavailable},
		{"plain", errors.New("boom"), ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err, "original error stays in the chain")
		})
	}
}

func TestClassifyPassThrough(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, context.DeadlineExceeded, Classify(context.DeadlineExceeded))
	assert.Equal(t, ErrEmptyResponse, Classify(ErrEmptyResponse))
}

func TestFallbackClient(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubClient{resp: Response{Text: "a"}}
		fallback := &stubClient{resp: Response{Text: "b"}}
		resp, err := NewFallbackClient(primary, fallback, quietLogger()).Complete(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "a", resp.Text)
		assert.Zero(t, fallback.calls)
	})

	t.Run("falls back on provider failure", func(t *testing.T) {
		primary := &stubClient{err: ErrProviderUnavailable}
		fallback := &stubClient{resp: Response{Text: "b", Model: "backup"}}
		resp, err := NewFallbackClient(primary, fallback, quietLogger()).Complete(context.Background(), Request{Model: "primary-model"})
		require.NoError(t, err)
		assert.Equal(t, "backup", resp.Model)
	})

	t.Run("returns fallback error", func(t *testing.T) {
		primary := &stubClient{err: ErrProviderUnavailable}
		fallback := &stubClient{err: ErrProviderAuth}
		_, err := NewFallbackClient(primary, fallback, quietLogger()).Complete(context.Background(), Request{})
		require.ErrorIs(t, err, ErrProviderAuth)
	})

	t.Run("keeps primary config error over transient fallback error", func(t *testing.T) {
		primary := &stubClient{err: ErrProviderAuth}
		fallback := &stubClient{err: ErrProviderUnavailable}
		_, err := NewFallbackClient(primary, fallback, quietLogger()).Complete(context.Background(), Request{})
		require.ErrorIs(t, err, ErrProviderAuth)
		kind := apperr.KindOf(err)
		require.NotNil(t, kind)
		assert.Equal(t, apperr.ErrProviderConfig.Code, kind.Code)
		assert.False(t, kind.Retriable)
		assert.Equal(t, 1, fallback.calls)
	})

	t.Run("keeps primary model error over empty fallback response", func(t *testing.T) {
		primary := &stubClient{err: ErrModelUnavailable}
		fallback := &stubClient{err: ErrEmptyResponse}
		_, err := NewFallbackClient(primary, fallback, quietLogger()).Complete(context.Background(), Request{})
		require.ErrorIs(t, err, ErrModelUnavailable)
	})

	t.Run("does not retry timeouts", func(t *testing.T) {
		primary := &stubClient{err: context.DeadlineExceeded}
		fallback := &stubClient{resp: Response{Text: "b"}}
		_, err := NewFallbackClient(primary, fallback, quietLogger()).Complete(context.Background(), Request{})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, fallback.calls)
	})

	t.Run("nil fallback", func(t *testing.T) {
		primary := &stubClient{err: ErrModelUnavailable}
		_, err := NewFallbackClient(primary, nil, quietLogger()).Complete(context.Background(), Request{})
		require.ErrorIs(t, err, ErrModelUnavailable)
	})
}
