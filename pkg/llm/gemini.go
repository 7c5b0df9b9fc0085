package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

// GeminiClient implements Generator over the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Reply(ctx context.Context, system string, turns []Turn) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contentsFromTurns(turns), generateConfig(system))
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("generate reply: model returned no text")
	}
	return text, nil
}

func (g *GeminiClient) StreamReply(ctx context.Context, system string, turns []Turn, onDelta func(string) error) (string, error) {
	var full strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contentsFromTurns(turns), generateConfig(system)) {
		if err != nil {
			return "", fmt.Errorf("stream reply: %w", err)
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}
	text := strings.TrimSpace(full.String())
	if text == "" {
		return "", fmt.Errorf("stream reply: model returned no text")
	}
	return text, nil
}

func generateConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(system) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

func contentsFromTurns(turns []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role = genai.RoleUser
		if t.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Text, role))
	}
	return out
}
