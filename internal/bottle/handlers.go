package bottle

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/green-return/internal/brand"
	"github.com/zombor/green-return/internal/preprocess"
	"github.com/zombor/green-return/internal/scanning"
)

// maxUploadSize leaves room for full resolution phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// errorStatus maps service errors to HTTP status codes
func errorStatus(err error) int {
	var (
		decodeErr  *preprocess.DecodeError
		timeoutErr *scanning.TimeoutError
		recErr     *scanning.RecognitionError
	)
	switch {
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &recErr):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidBrand):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateBrand):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// imageError reports a failure to serve a stored image. A missing scan or
// image file is a 404; anything else is an internal error.
func imageError(w http.ResponseWriter, err error) {
	code := errorStatus(err)
	if errors.Is(err, fs.ErrNotExist) {
		code = http.StatusNotFound
	}
	if code == http.StatusNotFound {
		jsonError(w, "Image not found", code)
		return
	}
	jsonError(w, errorMessage(err, code), code)
}

// errorMessage is what the client sees for err. Internal errors are not
// echoed back.
func errorMessage(err error, code int) string {
	var timeoutErr *scanning.TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		return timeoutErr.Error()
	case code == http.StatusInternalServerError:
		return "Internal server error"
	default:
		return err.Error()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// contentTypeFor returns the declared content type of an upload, falling
// back to its extension
func contentTypeFor(filename, declared string) string {
	if declared != "" {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleScanBottle accepts a multipart upload in the "file" field
func (s *Server) handleScanBottle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file was selected. Please choose a photo of the bottle.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := contentTypeFor(header.Filename, header.Header.Get("Content-Type"))

	scan, err := s.service.ScanBottle(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error scanning bottle", "filename", header.Filename, "error", err)
		code := errorStatus(err)
		jsonError(w, errorMessage(err, code), code)
		return
	}

	writeJSON(w, http.StatusCreated, scan)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.service.ListScans()
	if err != nil {
		slog.Error("Error listing scans", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.service.GetScan(r.PathValue("id"))
	if err != nil {
		code := errorStatus(err)
		jsonError(w, errorMessage(err, code), code)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

func (s *Server) handleGetScanImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetScanImage(r.PathValue("id"))
	if err != nil {
		slog.Error("Error getting scan image", "id", r.PathValue("id"), "error", err)
		imageError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleGetScanPreview(w http.ResponseWriter, r *http.Request) {
	uri, err := s.service.GetScanPreview(r.PathValue("id"))
	if err != nil {
		slog.Error("Error building preview", "id", r.PathValue("id"), "error", err)
		imageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"preview": uri})
}

// handleConfirmBrand sets the brand of a scan from {"brand": "..."}
func (s *Server) handleConfirmBrand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Brand string `json:"brand"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	scan, err := s.service.ConfirmBrand(r.PathValue("id"), req.Brand)
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			slog.Error("Error confirming brand", "id", r.PathValue("id"), "error", err)
		}
		jsonError(w, errorMessage(err, code), code)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteScan(r.PathValue("id")); err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			slog.Error("Error deleting scan", "id", r.PathValue("id"), "error", err)
		}
		jsonError(w, errorMessage(err, code), code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type brandsResponse struct {
	Brands  []string `json:"brands"`
	Default bool     `json:"default"` // true while the catalog is empty
}

// handleListBrands returns the brands scans are matched against, in
// priority order
func (s *Server) handleListBrands(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.KnownBrands()
	if err != nil {
		slog.Error("Error listing brands", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, brandsResponse{Brands: list.Names(), Default: list.IsDefault()})
}

// handleAddBrand appends {"name": "..."} to the catalog
func (s *Server) handleAddBrand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := s.service.AddBrand(req.Name)
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			slog.Error("Error adding brand", "error", err)
		}
		jsonError(w, errorMessage(err, code), code)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveBrand(w http.ResponseWriter, r *http.Request) {
	name := brand.Clean(r.PathValue("name"))
	if err := s.service.RemoveBrand(name); err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			slog.Error("Error removing brand", "name", name, "error", err)
		}
		jsonError(w, errorMessage(err, code), code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
