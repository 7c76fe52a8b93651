// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package caption produces a short text description of an image. The
// description drives source searches when a request carries no text.
package caption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/pdiddy/visual-search/internal/logger"
	"github.com/pdiddy/visual-search/pkg/types"
)

// Describer abstracts the captioning model so tests can supply a fake.
type Describer interface {
	Describe(ctx context.Context, image []byte) (string, error)
}

const prompt = "Describe the main subject of this image as a short image-search query " +
	"of at most eight words. Reply with the query only, no punctuation."

// Client captions images through an OpenAI-compatible vision chat endpoint.
type Client struct {
	client    *openai.Client
	model     string
	maxTokens int
	ready     bool
}

// NewClient creates a captioning client. An empty BaseURL targets OpenAI,
// which requires an API key; custom endpoints may run without one.
func NewClient(cfg types.CaptionConfig, httpClient *http.Client) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return &Client{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		ready:     cfg.APIKey != "" || cfg.BaseURL != "",
	}
}

// Describe implements Describer.
func (c *Client) Describe(ctx context.Context, image []byte) (string, error) {
	if !c.ready {
		return "", fmt.Errorf("no API key configured: %w", types.ErrCaptionUnavailable)
	}
	if len(image) == 0 {
		return "", fmt.Errorf("empty image: %w", types.ErrCaptionUnavailable)
	}

	dataURL := "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", parseAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion: %w", types.ErrCaptionUnavailable)
	}

	text := cleanCaption(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("blank caption: %w", types.ErrCaptionUnavailable)
	}

	logger.FromContext(ctx).Debug("Image captioned",
		zap.String("model", c.model),
		zap.String("caption", text),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}

// cleanCaption strips quoting and trailing punctuation models tend to add.
func cleanCaption(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'`")
	s = strings.TrimRight(s, ".!")
	return strings.Join(strings.Fields(s), " ")
}

// parseAPIError turns go-openai errors into ErrCaptionUnavailable with the
// most useful detail available.
func parseAPIError(err error) error {
	wrap := types.ErrCaptionUnavailable

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("caption API error %d: %s: %w", reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("caption API error %d: %w", reqErr.HTTPStatusCode, wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("caption API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("caption request failed: %w: %w", wrap, err)
}

func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Detail
	}
	return ""
}
