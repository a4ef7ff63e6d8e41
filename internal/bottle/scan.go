// Package bottle records bottle scans: it stores the normalized photo, runs
// recognition, matches the text against the brand catalog and serves the
// results over HTTP.
package bottle

import "time"

// Status of a scan
const (
	StatusIdentified   = "identified"
	StatusUnrecognized = "unrecognized"
	StatusConfirmed    = "confirmed"
)

// Scan is one recognized bottle photo
type Scan struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"` // of the original upload; the stored image is always JPEG
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	RawText     string    `json:"raw_text"`
	CleanedText string    `json:"cleaned_text"`
	Brand       *string   `json:"brand"` // nil until matched or confirmed
	Volume      string    `json:"volume,omitempty"`
	Confirmed   bool      `json:"confirmed"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Brand is a catalog entry
type Brand struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
