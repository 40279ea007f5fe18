package ai

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/genai"
)

type MockContentEmbedder struct {
	EmbedContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

func (m *MockContentEmbedder) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	return m.EmbedContentFunc(ctx, model, contents, config)
}

func TestNewVertexAIClient_NilConfig(t *testing.T) {
	_, err := NewVertexAIClient(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected error for nil config")
	}
	if !strings.Contains(err.Error(), "config cannot be nil") {
		t.Errorf("Unexpected error %q", err.Error())
	}
}

func TestNewVertexAIClient_Defaults(t *testing.T) {
	config := &ClientConfig{APIKey: "test-api-key"}

	// genai.NewClient may fail without Vertex credentials; the defaults are
	// applied to config before that either way.
	_, _ = NewVertexAIClient(context.Background(), config)

	if config.EmbedModel != "text-embedding-005" {
		t.Errorf("Expected EmbedModel 'text-embedding-005', got '%s'", config.EmbedModel)
	}
	if config.ChatModel != "gemini-2.5-flash" {
		t.Errorf("Expected ChatModel 'gemini-2.5-flash', got '%s'", config.ChatModel)
	}
	if config.Dim != 768 {
		t.Errorf("Expected Dim 768, got %d", config.Dim)
	}
	if config.Location != "" {
		t.Errorf("Expected no default location with an API key, got %q", config.Location)
	}
}

func TestVertexAIClient_NilClient(t *testing.T) {
	client := &VertexAIClient{
		config: &ClientConfig{EmbedModel: "text-embedding-005", ChatModel: "gemini-2.5-flash", Dim: 768},
	}
	ctx := context.Background()

	if _, err := client.Embed(ctx, []string{"text"}); err == nil {
		t.Error("Expected error from Embed with nil client")
	}
	if _, err := client.EmbedQuery(ctx, "text"); err == nil {
		t.Error("Expected error from EmbedQuery with nil client")
	}
	if _, err := client.Generate(ctx, "prompt"); err == nil {
		t.Error("Expected error from Generate with nil client")
	}
	if client.Dim() != 768 {
		t.Errorf("Expected Dim 768, got %d", client.Dim())
	}
	if client.Model() != "gemini-2.5-flash" {
		t.Errorf("Expected Model 'gemini-2.5-flash', got %q", client.Model())
	}
}

func TestVertexAIClient_EmbedSplitsLargeInput(t *testing.T) {
	tests := []struct {
		name      string
		texts     []string
		wantCalls int
	}{
		{"count limit", repeatTexts(250, 10), 3},
		{"char limit", repeatTexts(8, 20000), 3},
		{"oversized text alone", append(repeatTexts(2, 10), strings.Repeat("x", maxVertexEmbedChars+1)), 2},
		{"single batch", repeatTexts(5, 10), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			var seen []string
			mock := &MockContentEmbedder{
				EmbedContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
					calls++
					if len(contents) > maxVertexEmbedInputs {
						t.Errorf("Expected at most %d inputs per call, got %d", maxVertexEmbedInputs, len(contents))
					}
					if config.TaskType != "RETRIEVAL_DOCUMENT" {
						t.Errorf("Expected task type RETRIEVAL_DOCUMENT, got %q", config.TaskType)
					}
					chars := 0
					res := &genai.EmbedContentResponse{}
					for _, c := range contents {
						text := c.Parts[0].Text
						chars += len(text)
						seen = append(seen, text)
						res.Embeddings = append(res.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(len(seen))}})
					}
					if len(contents) > 1 && chars > maxVertexEmbedChars {
						t.Errorf("Expected at most %d chars per call, got %d", maxVertexEmbedChars, chars)
					}
					return res, nil
				},
			}
			client := &VertexAIClient{config: &ClientConfig{EmbedModel: "text-embedding-005", Dim: 768}, models: mock}

			vecs, err := client.Embed(context.Background(), tt.texts)
			if err != nil {
				t.Fatalf("Embed failed: %v", err)
			}
			if calls != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, calls)
			}
			if len(vecs) != len(tt.texts) {
				t.Fatalf("Expected %d vectors, got %d", len(tt.texts), len(vecs))
			}
			for i, v := range vecs {
				if v[0] != float32(i+1) {
					t.Errorf("Expected vector %d in input order, got %v", i, v[0])
				}
				if seen[i] != tt.texts[i] {
					t.Errorf("Expected text %d to be sent in order", i)
				}
			}
		})
	}
}

func TestVertexAIClient_EmbedCountMismatch(t *testing.T) {
	mock := &MockContentEmbedder{
		EmbedContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
			return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{1}}}}, nil
		},
	}
	client := &VertexAIClient{config: &ClientConfig{Dim: 768}, models: mock}

	_, err := client.Embed(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Errorf("Expected count mismatch error, got %v", err)
	}
}

func repeatTexts(n, size int) []string {
	out := make([]string, n)
	for i := range out {
		s := fmt.Sprintf("%d:", i)
		out[i] = s + strings.Repeat("a", max(size-len(s), 0))
	}
	return out
}
