package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"Lifeline/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// Assessor produces a triage assessment from a raise image and the
// requester's medical history. Implementations never return an error across
// this boundary: failure resolves to models.FallbackAssessment.
type Assessor interface {
	Assess(ctx context.Context, image string, history []models.MedicalHistory) models.Assessment
}

const systemPrompt = `You are a medical triage AI. Analyze the image and medical history. Try to infer the location of the image as well.
CRITICAL RULES:
1. Return ONLY valid JSON.
2. Structure: { "condition": string, "severity": "High"|"Medium"|"Low", "reasoning": string, "action": string, "location": string }
3. If the image is unclear, set condition to "Unclear".`

// GroqAssessor calls Groq's OpenAI-compatible chat completion endpoint with
// a vision message and a JSON-object response format.
type GroqAssessor struct {
	client *openai.Client
	model  string
}

func NewGroqAssessor(apiKey, baseURL, model string) *GroqAssessor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &GroqAssessor{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *GroqAssessor) Assess(ctx context.Context, image string, history []models.MedicalHistory) models.Assessment {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: fmt.Sprintf("Patient History: %s. Analyze this image.", historyContext(history)),
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: normalizeImage(image)},
					},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   512,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.FallbackAssessment("AI Service Unavailable: " + err.Error())
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return models.FallbackAssessment("empty response from triage model")
	}

	var parsed models.Assessment
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return models.FallbackAssessment("unparseable triage response")
	}
	return withDefaults(parsed)
}

// historyContext flattens the medical history into the prompt line the model
// was tuned against.
func historyContext(history []models.MedicalHistory) string {
	if len(history) == 0 {
		return "No known pre-existing conditions"
	}
	parts := make([]string, 0, len(history))
	for _, h := range history {
		treatment := h.Treatment
		if treatment == "" {
			treatment = "None"
		}
		parts = append(parts, fmt.Sprintf("%s (Treatment: %s)", h.Condition, treatment))
	}
	return strings.Join(parts, ", ")
}

var (
	dataURIHeader = regexp.MustCompile(`^data:image/[a-z]+;base64,`)
	invalidB64    = regexp.MustCompile(`[^A-Za-z0-9+/=]`)
)

// normalizeImage repairs client-supplied base64: strips any data URI header,
// removes stray characters, fixes padding, then re-wraps as a JPEG data URI.
func normalizeImage(image string) string {
	clean := strings.TrimSpace(image)
	clean = dataURIHeader.ReplaceAllString(clean, "")
	clean = invalidB64.ReplaceAllString(clean, "")
	if missing := len(clean) % 4; missing != 0 {
		clean += strings.Repeat("=", 4-missing)
	}
	return "data:image/jpeg;base64," + clean
}

// withDefaults guarantees every field is populated so clients never render
// undefined state.
func withDefaults(a models.Assessment) models.Assessment {
	if a.Condition == "" {
		a.Condition = "Unclear"
	}
	if a.Severity == "" {
		a.Severity = "Unknown"
	}
	if a.Reasoning == "" {
		a.Reasoning = "No details provided."
	}
	if a.Action == "" {
		a.Action = "Proceed with standard protocol."
	}
	if a.Location == "" {
		a.Location = "Unknown"
	}
	return a
}
