package bottle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/green-return/internal/brand"
	"github.com/zombor/green-return/internal/preprocess"
	"github.com/zombor/green-return/internal/scanning"
)

var (
	// ErrInvalidBrand is returned for a brand name that is empty once cleaned
	ErrInvalidBrand = errors.New("brand name is empty")

	// ErrDuplicateBrand is returned when adding a brand already in the catalog
	ErrDuplicateBrand = errors.New("brand already exists")
)

// Recognizer reads the text off a normalized image. *scanning.Session
// implements it.
type Recognizer interface {
	Recognize(ctx context.Context, img *preprocess.NormalizedImage) (*scanning.RecognitionResult, error)
}

// IDGenerator generates unique IDs for scans
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles bottle scans and the brand catalog
type Service struct {
	db          DB
	recognizer  Recognizer
	storage     Storage
	maxWidth    int
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with UUID scan IDs and the wall clock.
// A maxWidth of 0 uses preprocess.DefaultMaxWidth.
func NewService(db DB, recognizer Recognizer, storage Storage, maxWidth int) *Service {
	return NewServiceWithDeps(db, recognizer, storage, maxWidth, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, recognizer Recognizer, storage Storage, maxWidth int, idGen IDGenerator, timeSrc TimeSource) *Service {
	if maxWidth <= 0 {
		maxWidth = preprocess.DefaultMaxWidth
	}
	return &Service{
		db:          db,
		recognizer:  recognizer,
		storage:     storage,
		maxWidth:    maxWidth,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	filenameNoise = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpace = regexp.MustCompile(`\s+`)
)

// sanitizeFilename reduces an upload name to a short, safe base name
// without extension. Phones produce long names full of punctuation.
func sanitizeFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = filenameNoise.ReplaceAllString(base, "")
	base = filenameSpace.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "bottle"
	}
	return base
}

// ScanBottle normalizes an uploaded photo, stores it, reads the label and
// matches it against the brand catalog. An unmatched scan is still saved,
// with status unrecognized, so the user can confirm the brand by hand.
//
// Decode, timeout and recognition failures are returned wrapped around
// *preprocess.DecodeError, *scanning.TimeoutError and
// *scanning.RecognitionError.
func (s *Service) ScanBottle(ctx context.Context, filename string, data []byte, contentType string) (*Scan, error) {
	img, err := preprocess.Normalize(preprocess.RawImage{Data: data, MIMEType: contentType}, s.maxWidth)
	if err != nil {
		return nil, fmt.Errorf("normalizing image: %w", err)
	}

	id := s.idGenerator.Generate()
	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s.jpg", id, sanitizeFilename(filename)), img.Data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	start := time.Now()
	result, err := s.recognizer.Recognize(ctx, img)
	if err != nil {
		slog.Error("Failed to recognize bottle",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeImage(savedName)
		return nil, fmt.Errorf("recognizing bottle: %w", err)
	}

	brands, err := s.KnownBrands()
	if err != nil {
		s.removeImage(savedName)
		return nil, err
	}
	match := brand.Match(result.Text, brands)

	now := s.timeSource.Now()
	scan := &Scan{
		ID:          id,
		Filename:    savedName,
		ContentType: contentType,
		Width:       img.Width,
		Height:      img.Height,
		RawText:     result.Text,
		CleanedText: match.CleanedText,
		Brand:       match.IdentifiedBrand,
		Volume:      brand.ParseVolume(match.CleanedText),
		Status:      StatusUnrecognized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	logger := slog.With("id", id, "duration", time.Since(start))
	if match.Matched() {
		scan.Status = StatusIdentified
		logger = logger.With("brand", *match.IdentifiedBrand)
	}
	logger.Info("Scanned bottle", "status", scan.Status)

	if err := s.db.SaveScan(scan); err != nil {
		s.removeImage(savedName)
		return nil, fmt.Errorf("saving scan to database: %w", err)
	}

	return scan, nil
}

func (s *Service) removeImage(name string) {
	if err := s.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}

// ConfirmBrand records a brand entered by the user for a scan
func (s *Service) ConfirmBrand(id string, name string) (*Scan, error) {
	cleaned := brand.Clean(name)
	if cleaned == "" {
		return nil, ErrInvalidBrand
	}

	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}

	scan.Brand = &cleaned
	scan.Confirmed = true
	scan.Status = StatusConfirmed
	scan.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveScan(scan); err != nil {
		return nil, fmt.Errorf("saving scan: %w", err)
	}
	return scan, nil
}

// GetScan retrieves a scan by ID
func (s *Service) GetScan(id string) (*Scan, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	return scan, nil
}

// ListScans returns all scans, newest first
func (s *Service) ListScans() ([]*Scan, error) {
	scans, err := s.db.ListScans()
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	return scans, nil
}

// DeleteScan removes a scan and its image
func (s *Service) DeleteScan(id string) error {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return fmt.Errorf("getting scan for deletion: %w", err)
	}

	// a missing image shouldn't keep the record around
	s.removeImage(scan.Filename)

	if err := s.db.DeleteScan(id); err != nil {
		return fmt.Errorf("deleting scan from database: %w", err)
	}
	return nil
}

// GetScanImage returns the stored JPEG for a scan
func (s *Service) GetScanImage(id string) ([]byte, string, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan: %w", err)
	}

	data, err := s.storage.Get(scan.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan image: %w", err)
	}

	return data, preprocess.EncodingJPEG, nil
}

// GetScanPreview returns the stored image of a scan as a data URI
func (s *Service) GetScanPreview(id string) (string, error) {
	data, contentType, err := s.GetScanImage(id)
	if err != nil {
		return "", err
	}
	uri, err := preprocess.PreviewDataURI(bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("building preview: %w", err)
	}
	return uri, nil
}

// ListBrands returns the brand catalog in match priority order
func (s *Service) ListBrands() ([]*Brand, error) {
	brands, err := s.db.ListBrands()
	if err != nil {
		return nil, fmt.Errorf("listing brands: %w", err)
	}
	return brands, nil
}

// AddBrand appends a brand to the catalog. The name is stored cleaned, so
// it matches the way recognized text is compared.
func (s *Service) AddBrand(name string) (*Brand, error) {
	cleaned := brand.Clean(name)
	if cleaned == "" {
		return nil, ErrInvalidBrand
	}

	entry := &Brand{Name: cleaned, CreatedAt: s.timeSource.Now()}
	if err := s.db.SaveBrand(entry); err != nil {
		return nil, fmt.Errorf("saving brand: %w", err)
	}
	return entry, nil
}

// RemoveBrand removes a brand from the catalog
func (s *Service) RemoveBrand(name string) error {
	if err := s.db.DeleteBrand(name); err != nil {
		return fmt.Errorf("deleting brand: %w", err)
	}
	return nil
}

// KnownBrands returns the list scans are matched against: the catalog, or
// the built-in brands while the catalog is empty
func (s *Service) KnownBrands() (brand.List, error) {
	entries, err := s.ListBrands()
	if err != nil {
		return brand.List{}, err
	}
	if len(entries) == 0 {
		return brand.UseDefault(), nil
	}

	names := make([]string, 0, len(entries))
	for _, b := range entries {
		names = append(names, b.Name)
	}
	return brand.Brands(names...), nil
}
