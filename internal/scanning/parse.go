package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// labelPrompt is the shared prompt used by the vision-model engines
const labelPrompt = `You are reading the label of a bottle or beverage container. Carefully read all printed text on the label, which is mostly in language %q (Tesseract language code), and extract:

1. **Brand Name**: the main brand or product name, usually the largest text on the label. Examples: "Coca-Cola", "Evian", "Red Bull".
2. **Size**: the volume of the container exactly as printed (e.g. 500ml, 1.5L, 12 fl oz).
3. **Text**: every other word you can read on the label, in reading order.

Return ONLY valid JSON in this exact format:
{
  "bottleName": "brand name",
  "size": "container size",
  "text": "all visible text"
}

Important:
- If you cannot find a field, use "Unknown" for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// LabelData is what a vision model read off a bottle label
type LabelData struct {
	BottleName string `json:"bottleName"`
	Size       string `json:"size"`
	Text       string `json:"text"`
}

// Transcript joins the fields the model found into one block of text for
// the brand matcher
func (l *LabelData) Transcript() string {
	parts := make([]string, 0, 3)
	for _, field := range []string{l.BottleName, l.Size, l.Text} {
		field = strings.TrimSpace(field)
		if field == "" || strings.EqualFold(field, "unknown") {
			continue
		}
		parts = append(parts, field)
	}
	return strings.Join(parts, "\n")
}

// parseLabelJSON extracts the JSON object from a model response
func parseLabelJSON(text string) (*LabelData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Models sometimes wrap the object in prose, so take the first { to the last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data LabelData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	return &data, nil
}
