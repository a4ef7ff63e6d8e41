package preprocess

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// PreviewDataURI reads an image and returns it as an inline data URI for
// display. An empty mimeType is sniffed from the payload.
func PreviewDataURI(r io.Reader, mimeType string) (string, error) {
	if r == nil {
		return "", &EncodeError{Err: errors.New("no image to preview")}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", &EncodeError{Err: fmt.Errorf("reading image: %w", err)}
	}
	if len(data) == 0 {
		return "", &EncodeError{Err: errors.New("empty image data")}
	}

	mimeType = normalizeMIMEType(mimeType)
	if mimeType == "" {
		mimeType = normalizeMIMEType(http.DetectContentType(data))
	}

	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DataURI returns the normalized image as an inline data URI
func (n *NormalizedImage) DataURI() (string, error) {
	if n == nil {
		return "", &EncodeError{Err: errors.New("no image to preview")}
	}
	return PreviewDataURI(bytes.NewReader(n.Data), n.Encoding)
}
