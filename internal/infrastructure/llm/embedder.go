package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint. The
// migration job drives it one payload at a time; its rate limiter owns the
// pacing.
type HTTPEmbedder struct {
	endpoint string
	apiKey   string
	modelID  string
	client   *http.Client
}

// NewHTTPEmbedder creates the embedder for one model.
func NewHTTPEmbedder(endpoint, apiKey, modelID string) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint: endpoint,
		apiKey:   apiKey,
		modelID:  modelID,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed produces a vector for the point's payload. The payload's text field
// is embedded when present; otherwise the whole payload is serialized.
func (e *HTTPEmbedder) Embed(ctx context.Context, payload map[string]interface{}) ([]float32, error) {
	text, _ := payload["text"].(string)
	if text == "" {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		text = string(encoded)
	}

	body, err := json.Marshal(map[string]interface{}{
		"model": e.modelID,
		"input": text,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	httpResp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("embedding request: status %d: %s", httpResp.StatusCode, detail)
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}
	return resp.Data[0].Embedding, nil
}
