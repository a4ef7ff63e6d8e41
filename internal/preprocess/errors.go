package preprocess

import "fmt"

// DecodeError is returned when the input can't be parsed as an image. The
// caller has to ask for a different image; retrying the same bytes won't help.
type DecodeError struct {
	MIMEType string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.MIMEType == "" {
		return fmt.Sprintf("decoding image: %v", e.Err)
	}
	return fmt.Sprintf("decoding %s image: %v", e.MIMEType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is returned when an image can't be re-encoded or turned into a
// preview.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoding image: %v", e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
