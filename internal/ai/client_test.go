package ai

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input       string
		expected    Provider
		expectError bool
	}{
		{"openai", ProviderOpenAI, false},
		{"OpenAI", ProviderOpenAI, false},
		{"vertexai", ProviderVertexAI, false},
		{"google", ProviderVertexAI, false},
		{"gemini", ProviderVertexAI, false},
		{"stub", ProviderStub, false},
		{"", ProviderStub, false},
		{"anthropic", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProvider(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected provider %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		config      *ClientConfig
		expectError bool
		errorMsg    string
		clientType  string
	}{
		{
			name:        "nil config",
			config:      nil,
			expectError: true,
			errorMsg:    "client config is required",
		},
		{
			name:       "openai provider",
			config:     &ClientConfig{Provider: ProviderOpenAI, APIKey: "test-key", Dim: 512},
			clientType: "*ai.OpenAIClient",
		},
		{
			name:       "stub provider",
			config:     &ClientConfig{Provider: ProviderStub, Dim: 256},
			clientType: "*ai.StubClient",
		},
		{
			name:        "unsupported provider",
			config:      &ClientConfig{Provider: Provider("unsupported")},
			expectError: true,
			errorMsg:    "unsupported provider: unsupported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
				if client != nil {
					t.Errorf("Expected nil client when error occurs, got %v", client)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			clientTypeName := "unknown"
			switch client.(type) {
			case *OpenAIClient:
				clientTypeName = "*ai.OpenAIClient"
			case *VertexAIClient:
				clientTypeName = "*ai.VertexAIClient"
			case *StubClient:
				clientTypeName = "*ai.StubClient"
			}
			if clientTypeName != tt.clientType {
				t.Errorf("Expected client type '%s', got '%s'", tt.clientType, clientTypeName)
			}
		})
	}
}

func TestNewStubClient(t *testing.T) {
	tests := []struct {
		name     string
		dim      int
		expected int
	}{
		{"explicit dimension", 128, 128},
		{"zero dimension uses default", 0, 384},
		{"negative dimension uses default", -1, 384},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewStubClient(tt.dim)
			if c.Dim() != tt.expected {
				t.Errorf("Expected dim %d, got %d", tt.expected, c.Dim())
			}
		})
	}
}

func TestStubClient_Embed(t *testing.T) {
	c := NewStubClient(64)
	ctx := context.Background()

	vecs, err := c.Embed(ctx, []string{"the quick brown fox", "the quick brown fox", "", "lazy dog"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != 4 {
		t.Fatalf("Expected 4 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 64 {
			t.Errorf("Vector %d: expected length 64, got %d", i, len(v))
		}
	}
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			t.Fatal("Expected identical texts to produce identical vectors")
		}
	}

	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("Expected unit vector, got squared norm %v", norm)
	}
	for _, x := range vecs[2] {
		if x != 0 {
			t.Fatal("Expected zero vector for empty text")
		}
	}
}

func TestStubClient_EmbedQueryMatchesEmbed(t *testing.T) {
	c := NewStubClient(32)
	ctx := context.Background()

	q, err := c.EmbedQuery(ctx, "Hello World")
	if err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	docs, _ := c.Embed(ctx, []string{"hello world"})
	for i := range q {
		if q[i] != docs[0][i] {
			t.Fatal("Expected query embedding to be case-insensitive and equal to document embedding")
		}
	}
}

func TestStubClient_EmbedWithCancelledContext(t *testing.T) {
	c := NewStubClient(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Embed(ctx, []string{"text"}); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestStubClient_Generate(t *testing.T) {
	c := NewStubClient(8)
	ctx := context.Background()

	prompt := "You are answering questions.\nContext:\n[DOC 1]\nfile: /docs/a.txt\nscore: 0.9\n---\nMusashi wrote the Book of Five Rings.\n\nQuestion:\nwho wrote it?"
	got, err := c.Generate(ctx, prompt)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "Musashi wrote the Book of Five Rings." {
		t.Errorf("Unexpected answer %q", got)
	}

	empty, err := c.Generate(ctx, "Context:\n\nQuestion:\nanything")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(empty, "could not find") {
		t.Errorf("Expected fallback answer, got %q", empty)
	}
	if c.Model() != "stub" {
		t.Errorf("Expected model 'stub', got %q", c.Model())
	}
}

func TestClientInterfaceCompliance(t *testing.T) {
	var _ Client = (*StubClient)(nil)
	var _ Client = (*OpenAIClient)(nil)
	var _ Client = (*VertexAIClient)(nil)
}

func TestStubClientConcurrency(t *testing.T) {
	c := NewStubClient(16)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Embed(ctx, []string{"concurrent text"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent embed failed: %v", err)
	}
}
