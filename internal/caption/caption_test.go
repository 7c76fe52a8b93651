// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package caption

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/visual-search/pkg/types"
)

// chatRequest mirrors the fields of a vision chat request the tests inspect.
type chatRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL    string `json:"url"`
				Detail string `json:"detail"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
}

func completion(content string) string {
	b, _ := json.Marshal(content)
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion","model":"vision-test",`+
		`"choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}]}`, b)
}

func newTestClient(ts *httptest.Server) *Client {
	return NewClient(types.CaptionConfig{BaseURL: ts.URL + "/v1", Model: "vision-test", APIKey: "ck", MaxTokens: 40}, ts.Client())
}

func TestDescribe(t *testing.T) {
	var got chatRequest
	var path, auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completion("  \"Red bicycle leaning against a brick wall.\"\n"))
	}))
	defer ts.Close()

	png := []byte("\x89PNG\r\n\x1a\n0000")
	text, err := newTestClient(ts).Describe(context.Background(), png)
	require.NoError(t, err)

	assert.Equal(t, "Red bicycle leaning against a brick wall", text)
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "Bearer ck", auth)
	assert.Equal(t, "vision-test", got.Model)
	assert.Equal(t, 40, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "text", got.Messages[0].Content[0].Type)
	img := got.Messages[0].Content[1]
	assert.Equal(t, "image_url", img.Type)
	assert.True(t, strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,"), img.ImageURL.URL)
	assert.Equal(t, "low", img.ImageURL.Detail)
}

func TestDescribeFailuresAreCaptionUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"api error", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"model does not support images","type":"invalid_request_error"}}`)
		}, "model does not support images"},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[]}`)
		}, "empty completion"},
		{"blank caption", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, completion(" \"\" "))
		}, "blank caption"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			_, err := newTestClient(ts).Describe(context.Background(), []byte("img"))
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrCaptionUnavailable)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDescribeRequiresKeyAndImage(t *testing.T) {
	_, err := NewClient(types.CaptionConfig{Model: "m"}, nil).Describe(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, types.ErrCaptionUnavailable)

	_, err = NewClient(types.CaptionConfig{Model: "m", APIKey: "k"}, nil).Describe(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrCaptionUnavailable)
}

func TestDescribeUnreachableEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewClient(types.CaptionConfig{BaseURL: url, Model: "m"}, nil)
	_, err := c.Describe(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, types.ErrCaptionUnavailable)
}

func TestCleanCaption(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a dog on a beach", "a dog on a beach"},
		{"'A dog.'", "A dog"},
		{"sunset   over\tmountains!\nSecond line", "sunset over mountains"},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanCaption(tt.in), tt.in)
	}
}
