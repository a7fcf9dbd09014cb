package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ltmcerrors "ltmc/internal/errors"
)

// OpenAIConfig configures the OpenAI-backed Embedder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Dim     int
}

// OpenAI is an Embedder backed by the OpenAI embeddings endpoint. It is
// available behind the same Embedder interface as Local; bootstrap picks
// one implementation at startup based on embedding_model_name and never
// re-instantiates it per call.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI validates cfg and returns an Embedder. The API key is
// required; dimension must be positive.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ltmcerrors.Config("openai embedder requires an API key")
	}
	if cfg.Dim <= 0 {
		return nil, ltmcerrors.Config("openai embedder requires a positive dimension, got %d", cfg.Dim)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAI{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (o *OpenAI) Dimensions() int { return o.cfg.Dim }

type openAIRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *OpenAI) Encode(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIRequest{Input: text, Model: o.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(data))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	if len(parsed.Data[0].Embedding) != o.cfg.Dim {
		return nil, fmt.Errorf("embedding dimension mismatch: configured %d, got %d", o.cfg.Dim, len(parsed.Data[0].Embedding))
	}
	return parsed.Data[0].Embedding, nil
}
