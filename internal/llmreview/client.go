package llmreview

import (
	"context"

	"github.com/openai/openai-go"
)

// OpenAIClient adapts *openai.Client to the Client interface this package
// consumes, grounded on the teacher's OpenAIAdapter.handleStream/
// SimpleTextQuery pair.
type OpenAIClient struct {
	Inner *openai.Client
}

func (c OpenAIClient) Stream(ctx context.Context, params openai.ChatCompletionNewParams) ChunkStream {
	return c.Inner.Chat.Completions.NewStreaming(ctx, params)
}

func (c OpenAIClient) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.Inner.Chat.Completions.New(ctx, params)
}
