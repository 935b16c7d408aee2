package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider is the failover path. It speaks the chat-completions API
// directly; the failover tiers never request extended thinking, so the
// surface stays small.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIProvider creates the adapter.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL: openAIBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete issues one non-streaming completion.
func (p *OpenAIProvider) Complete(ctx context.Context, modelID string, req *Request) (*Response, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(map[string]interface{}{
		"model":       modelID,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, domainerrors.NewExternalError("openai", "completion request failed").WithCause(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 512))
		return nil, domainerrors.NewExternalError("openai", "completion request rejected")
	}

	var resp struct {
		Choices []struct {
			Message      openAIMessage `json:"message"`
			FinishReason string        `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, domainerrors.NewExternalError("openai", "decoding completion response failed").WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return nil, domainerrors.NewExternalError("openai", "completion response contained no choices")
	}

	return &Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   resp.Choices[0].FinishReason,
	}, nil
}
