package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zombor/green-return/internal/preprocess"
)

// Ollama reads bottle labels with a vision model served by Ollama.
// Recommended models, best first:
//   - llava:1.6
//   - qwen2-vl:7b (good OCR capabilities)
//   - llava-phi3 (smaller, faster, less accurate)
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama engine
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		// No client timeout: the Session deadline cancels the request context
		client: &http.Client{},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Initialize checks that the model is available. Ollama loads models on
// first use, so this is where a missing model is reported.
func (o *Ollama) Initialize(ctx context.Context, language string) (Handle, error) {
	body, err := json.Marshal(map[string]string{"model": o.model})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama model %q unavailable (status %d): %s", o.model, resp.StatusCode, string(msg))
	}

	return &ollamaHandle{engine: o, language: language}, nil
}

type ollamaHandle struct {
	engine   *Ollama
	language string
}

// Recognize sends the image to Ollama's chat API and returns the label
// transcript
func (h *ollamaHandle) Recognize(ctx context.Context, img *preprocess.NormalizedImage) (string, error) {
	reqBody := ollamaChatRequest{
		Model:  h.engine.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading product labels on bottles and cans. You must carefully read all text in images and report it accurately.",
			},
			{
				Role:    "user",
				Content: fmt.Sprintf(labelPrompt, h.language),
				Images:  []string{base64.StdEncoding.EncodeToString(img.Data)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.engine.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.engine.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	label, err := parseLabelJSON(chatResp.Message.Content)
	if err != nil {
		return "", fmt.Errorf("parsing label data: %w", err)
	}
	return label.Transcript(), nil
}

// Release drops idle connections; Ollama keeps no per-client state
func (h *ollamaHandle) Release() error {
	h.engine.client.CloseIdleConnections()
	return nil
}
