package respond

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

const systemPrompt = "You are Jarvis, a voice assistant for building automation workflows. " +
	"Reply in one or two short spoken sentences. If the user seems to want a workflow change, " +
	"suggest the exact phrasing to use, such as \"create a trigger node\" or \"connect trigger to action\"."

// Gemini answers unmatched utterances with a short model-generated reply.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds a responder against the Gemini API. An empty model name
// selects the default.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Reply(ctx context.Context, utterance string, history []Exchange) (string, error) {
	var contents []*genai.Content
	for _, ex := range history {
		if ex.User != "" {
			contents = append(contents, genai.NewContentFromText(ex.User, genai.RoleUser))
		}
		if ex.Agent != "" {
			contents = append(contents, genai.NewContentFromText(ex.Agent, genai.RoleModel))
		}
	}
	contents = append(contents, genai.NewContentFromText(utterance, genai.RoleUser))

	temp := float32(0.7)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   256,
	}

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}
