// Package tesseract provides a local OCR engine backed by Tesseract.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/green-return/internal/preprocess"
	"github.com/zombor/green-return/internal/scanning"
)

// Engine implements scanning.Engine using the gosseract client
type Engine struct {
	enhance       bool
	clientFactory func() *gosseract.Client
}

// NewEngine creates a Tesseract engine. With enhance set, images are
// converted to high-contrast grayscale before recognition.
func NewEngine(enhance bool) *Engine {
	return &Engine{enhance: enhance, clientFactory: gosseract.NewClient}
}

// Initialize creates a client for language and loads its trained data
func (e *Engine) Initialize(ctx context.Context, language string) (scanning.Handle, error) {
	client := e.clientFactory()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting OCR language: %w", err)
	}
	// Label text wraps around the bottle, so let Tesseract find the blocks
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	return &handle{client: client, enhance: e.enhance}, nil
}

type handle struct {
	client  *gosseract.Client
	enhance bool
}

// Recognize runs Tesseract on img. Tesseract can't be interrupted, so ctx is
// only checked before starting.
func (h *handle) Recognize(ctx context.Context, img *preprocess.NormalizedImage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if h.enhance {
		enhanced, err := preprocess.Enhance(img)
		if err != nil {
			return "", fmt.Errorf("enhancing image: %w", err)
		}
		img = enhanced
	}

	if err := h.client.SetImageFromBytes(img.Data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := h.client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Release frees the Tesseract API instance
func (h *handle) Release() error {
	return h.client.Close()
}
