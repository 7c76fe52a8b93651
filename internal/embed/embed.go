// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embed maps images to vectors. The Embedder handle is built once
// per model and passed explicitly to the components that score images.
package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/visual-search/internal/httputil"
	"github.com/pdiddy/visual-search/pkg/types"
)

// Embedder produces image embeddings for one model. Every failure wraps
// types.ErrEmbeddingUnavailable.
type Embedder interface {
	// Embed returns the global embedding of image.
	Embed(ctx context.Context, image []byte) ([]float32, error)

	// EmbedPatches returns one embedding per image patch, for detailed
	// analysis.
	EmbedPatches(ctx context.Context, image []byte) ([][]float32, error)

	// Model returns the model identifier. It is part of the cache key.
	Model() string
}

// Client calls an embedding service over JSON/HTTP. Requests post the
// base64 image to {endpoint}/embed:
//
//	{"model": "clip-vit-b-32", "image": "<base64>", "patches": false}
//
// and expect {"embedding": [...]} or, with patches, {"patches": [[...], ...]}.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewClient returns a Client for cfg. A nil client selects one with the
// configured timeout.
func NewClient(cfg types.EmbeddingConfig, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   client,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type embedRequest struct {
	Model   string `json:"model"`
	Image   string `json:"image"`
	Patches bool   `json:"patches,omitempty"`
}

type embedResponse struct {
	Embedding []float32   `json:"embedding"`
	Patches   [][]float32 `json:"patches"`
	Error     string      `json:"error"`
}

// Embed implements Embedder.
func (c *Client) Embed(ctx context.Context, image []byte) ([]float32, error) {
	resp, err := c.post(ctx, image, false)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response: %w", types.ErrEmbeddingUnavailable)
	}
	return resp.Embedding, nil
}

// EmbedPatches implements Embedder.
func (c *Client) EmbedPatches(ctx context.Context, image []byte) ([][]float32, error) {
	resp, err := c.post(ctx, image, true)
	if err != nil {
		return nil, err
	}
	if len(resp.Patches) == 0 {
		return nil, fmt.Errorf("empty patch response: %w", types.ErrEmbeddingUnavailable)
	}
	return resp.Patches, nil
}

func (c *Client) post(ctx context.Context, image []byte, patches bool) (*embedResponse, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("no embedding endpoint configured: %w", types.ErrEmbeddingUnavailable)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image: %w", types.ErrEmbeddingUnavailable)
	}

	body, err := json.Marshal(embedRequest{
		Model:   c.model,
		Image:   base64.StdEncoding.EncodeToString(image),
		Patches: patches,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w: %w", types.ErrEmbeddingUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w: %w", types.ErrEmbeddingUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := httputil.DoWithRetry(ctx, c.client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w: %w", types.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	var out embedResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&out)

	if resp.StatusCode != http.StatusOK {
		detail := out.Error
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("embedding API error %d: %s: %w", resp.StatusCode, detail, types.ErrEmbeddingUnavailable)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("parsing embedding response: %w: %w", types.ErrEmbeddingUnavailable, decodeErr)
	}
	return &out, nil
}
