package scanning

import (
	"context"

	"github.com/zombor/green-return/internal/preprocess"
)

// Engine loads OCR engine instances bound to a language profile
type Engine interface {
	// Initialize constructs and fully loads an engine instance. It may be slow.
	Initialize(ctx context.Context, language string) (Handle, error)
}

// Handle is a loaded engine instance. A Handle is used by one recognition
// at a time.
type Handle interface {
	// Recognize returns the text visible in img. Implementations may ignore
	// ctx; the Session abandons calls that outlive its deadline.
	Recognize(ctx context.Context, img *preprocess.NormalizedImage) (string, error)
	// Release frees the engine instance
	Release() error
}

// RecognitionResult is the raw text produced by one recognition attempt
type RecognitionResult struct {
	Text string `json:"text"`
}
