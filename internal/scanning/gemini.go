package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/green-return/internal/preprocess"
)

// Gemini reads bottle labels with a Google Gemini vision model
type Gemini struct {
	apiKey    string
	modelName string
}

// NewGemini creates a Gemini engine. Clients are created per handle.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &Gemini{apiKey: apiKey, modelName: modelName}, nil
}

// Initialize opens a Gemini client
func (g *Gemini) Initialize(ctx context.Context, language string) (Handle, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := client.GenerativeModel(g.modelName)
	model.SetTemperature(0)

	return &geminiHandle{
		client:   client,
		model:    model,
		language: language,
	}, nil
}

type geminiHandle struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	language string
}

// Recognize sends the image to Gemini and returns the label transcript
func (h *geminiHandle) Recognize(ctx context.Context, img *preprocess.NormalizedImage) (string, error) {
	// genai.ImageData expects the format suffix ("jpeg"), not the MIME type
	format := strings.TrimPrefix(img.Encoding, "image/")
	parts := []genai.Part{
		genai.ImageData(format, img.Data),
		genai.Text(fmt.Sprintf(labelPrompt, h.language)),
	}

	resp, err := h.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	label, err := parseLabelJSON(responseText.String())
	if err != nil {
		return "", fmt.Errorf("parsing label data: %w", err)
	}
	return label.Transcript(), nil
}

// Release closes the Gemini client
func (h *geminiHandle) Release() error {
	return h.client.Close()
}
