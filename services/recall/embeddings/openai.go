// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// defaultEmbeddingDimension matches text-embedding-3-small.
const defaultEmbeddingDimension = 1536

// OpenAIProvider implements Provider over an OpenAI-compatible
// embeddings endpoint.
//
// Thread Safety: Safe for concurrent use.
type OpenAIProvider struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIProvider creates a provider from environment configuration.
//
// Description:
//
//	Reads OPENAI_API_KEY (or the container secret fallback) and
//	EMBEDDING_MODEL_NAME. Defaults to text-embedding-3-small when no
//	model is configured.
//
// Outputs:
//
//	*OpenAIProvider - Ready-to-use provider.
//	error - Non-nil if no API key can be found.
func NewOpenAIProvider() (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	model := os.Getenv("EMBEDDING_MODEL_NAME")
	if model == "" {
		model = string(openai.SmallEmbedding3)
		slog.Warn("EMBEDDING_MODEL_NAME not set, defaulting to text-embedding-3-small")
	}

	return &OpenAIProvider{
		client:    openai.NewClient(apiKey),
		model:     openai.EmbeddingModel(model),
		dimension: defaultEmbeddingDimension,
	}, nil
}

// NewOpenAIProviderWithClient injects a pre-built client, used when the
// endpoint or dimension differs from the defaults.
func NewOpenAIProviderWithClient(client *openai.Client, model string, dimension int) *OpenAIProvider {
	if dimension <= 0 {
		dimension = defaultEmbeddingDimension
	}
	return &OpenAIProvider{
		client:    client,
		model:     openai.EmbeddingModel(model),
		dimension: dimension,
	}
}

// Encode returns the embedding vector for text.
//
// Inputs:
//
//	ctx - Context carrying the caller's timeout. Every call to the
//	      model backend must be bounded.
//	text - Text to embed. Must be non-empty.
//
// Outputs:
//
//	[]float32 - The embedding vector.
//	error - ErrEmptyText on empty input, ErrProviderUnavailable wrapped
//	        around transport failures.
func (p *OpenAIProvider) Encode(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: p.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrProviderUnavailable)
	}

	return resp.Data[0].Embedding, nil
}

// Dimension returns the provider's fixed vector dimension.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}
