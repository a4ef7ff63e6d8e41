package bottle

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/green-return/internal/brand"
	"github.com/zombor/green-return/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		recognizer  *mockRecognizer
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		recognizer = newMockRecognizer("Sprite lemon-lime 330ml")
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, recognizer, storage, 0, &fixedIDGenerator{id: "scan-1"}, &fixedTimeSource{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		anyPath := regexp.MustCompile(`.*`)
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, anyPath, server.Handler().ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	upload := func(filename, contentType string, data []byte) *http.Response {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
		if contentType != "" {
			header["Content-Type"] = []string{contentType}
		}
		part, err := writer.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/scans", writer.FormDataContentType(), &body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	do := func(method, path string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	errorBody := func(resp *http.Response) string {
		var body map[string]string
		decode(resp, &body)
		return body["error"]
	}

	Describe("GET /healthz", func() {
		It("reports ok", func() {
			resp := do(http.MethodGet, "/healthz", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			decode(resp, &body)
			Expect(body["status"]).To(Equal("ok"))
		})
	})

	Describe("POST /api/scans", func() {
		When("the bottle is recognized", func() {
			It("returns the created scan", func() {
				resp := upload("sprite.png", "image/png", bottlePhoto(40, 80))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var scan Scan
				decode(resp, &scan)
				Expect(scan.ID).To(Equal("scan-1"))
				Expect(*scan.Brand).To(Equal("Sprite"))
				Expect(scan.Volume).To(Equal("330ml"))
				Expect(scan.Status).To(Equal(StatusIdentified))
			})
		})

		When("the content type is missing", func() {
			It("falls back to the extension", func() {
				resp := upload("sprite.png", "", bottlePhoto(40, 80))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var scan Scan
				decode(resp, &scan)
				Expect(scan.ContentType).To(Equal("image/png"))
			})
		})

		When("no brand matches", func() {
			BeforeEach(func() {
				recognizer.text = "homemade kombucha"
			})

			It("returns the scan with a null brand", func() {
				resp := upload("jar.png", "image/png", bottlePhoto(40, 80))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var raw map[string]any
				decode(resp, &raw)
				Expect(raw).To(HaveKeyWithValue("brand", BeNil()))
				Expect(raw).To(HaveKeyWithValue("status", StatusUnrecognized))
			})
		})

		When("the file is not an image", func() {
			It("returns 400", func() {
				resp := upload("notes.txt", "text/plain", []byte("hello"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorBody(resp)).To(ContainSubstring("normalizing image"))
			})
		})

		When("recognition times out", func() {
			BeforeEach(func() {
				recognizer.err = &scanning.TimeoutError{Timeout: time.Second}
			})

			It("returns 504 with the timeout message", func() {
				resp := upload("sprite.png", "image/png", bottlePhoto(40, 80))
				Expect(resp.StatusCode).To(Equal(http.StatusGatewayTimeout))
				Expect(errorBody(resp)).To(Equal("Scan timed out"))
			})
		})

		When("the engine fails", func() {
			BeforeEach(func() {
				recognizer.err = &scanning.RecognitionError{Message: "tesseract crashed"}
			})

			It("returns 502", func() {
				resp := upload("sprite.png", "image/png", bottlePhoto(40, 80))
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(errorBody(resp)).To(ContainSubstring("tesseract crashed"))
			})
		})

		When("there is no file field", func() {
			It("returns 400", func() {
				var body bytes.Buffer
				writer := multipart.NewWriter(&body)
				Expect(writer.WriteField("other", "x")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(ghttpServer.URL()+"/api/scans", writer.FormDataContentType(), &body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorBody(resp)).To(ContainSubstring("No file was selected"))
			})
		})

		When("the body is not multipart", func() {
			It("returns 400", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/scans", "application/json", strings.NewReader("{}"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("scan endpoints", func() {
		BeforeEach(func() {
			db.scans["scan-1"] = &Scan{ID: "scan-1", Filename: "scan-1_a.jpg", Status: StatusUnrecognized}
			storage.files["scan-1_a.jpg"] = []byte("abc")
		})

		It("lists scans", func() {
			resp := do(http.MethodGet, "/api/scans", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var scans []*Scan
			decode(resp, &scans)
			Expect(scans).To(HaveLen(1))
		})

		It("gets a scan", func() {
			resp := do(http.MethodGet, "/api/scans/scan-1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var scan Scan
			decode(resp, &scan)
			Expect(scan.ID).To(Equal("scan-1"))
		})

		It("returns 404 for an unknown scan", func() {
			resp := do(http.MethodGet, "/api/scans/missing", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("serves the image", func() {
			resp := do(http.MethodGet, "/api/scans/scan-1/image", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("abc")))
		})

		It("serves the preview", func() {
			resp := do(http.MethodGet, "/api/scans/scan-1/preview", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			decode(resp, &body)
			Expect(body["preview"]).To(Equal("data:image/jpeg;base64,YWJj"))
		})

		It("returns 404 when the image file is missing", func() {
			delete(storage.files, "scan-1_a.jpg")

			for _, path := range []string{"/api/scans/scan-1/image", "/api/scans/scan-1/preview"} {
				resp := do(http.MethodGet, path, nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(errorBody(resp)).To(Equal("Image not found"))
			}
		})

		It("returns 404 for the image of an unknown scan", func() {
			resp := do(http.MethodGet, "/api/scans/missing/image", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("returns 500 when storage fails", func() {
			storage.getErr = errors.New("disk on fire")

			for _, path := range []string{"/api/scans/scan-1/image", "/api/scans/scan-1/preview"} {
				resp := do(http.MethodGet, path, nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(errorBody(resp)).To(Equal("Internal server error"))
			}
		})

		It("confirms a brand", func() {
			resp := do(http.MethodPut, "/api/scans/scan-1/brand", strings.NewReader(`{"brand": "Fritz-Kola"}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var scan Scan
			decode(resp, &scan)
			Expect(*scan.Brand).To(Equal("Fritz-Kola"))
			Expect(scan.Status).To(Equal(StatusConfirmed))
		})

		It("rejects a blank brand", func() {
			resp := do(http.MethodPut, "/api/scans/scan-1/brand", strings.NewReader(`{"brand": "  "}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("rejects a malformed body", func() {
			resp := do(http.MethodPut, "/api/scans/scan-1/brand", strings.NewReader(`brand`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("deletes a scan", func() {
			resp := do(http.MethodDelete, "/api/scans/scan-1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.scans).To(BeEmpty())
			Expect(storage.files).To(BeEmpty())
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("bolt: database not open")
			})

			It("hides the cause", func() {
				resp := do(http.MethodGet, "/api/scans", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(errorBody(resp)).To(Equal("Internal server error"))
			})
		})
	})

	Describe("brand endpoints", func() {
		It("lists the defaults while the catalog is empty", func() {
			resp := do(http.MethodGet, "/api/brands", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body brandsResponse
			decode(resp, &body)
			Expect(body.Default).To(BeTrue())
			Expect(body.Brands).To(Equal(brand.DefaultBrands))
		})

		It("adds a brand", func() {
			resp := do(http.MethodPost, "/api/brands", strings.NewReader(`{"name": "Club-Mate"}`))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var entry Brand
			decode(resp, &entry)
			Expect(entry.Name).To(Equal("Club-Mate"))

			resp = do(http.MethodGet, "/api/brands", nil)
			var body brandsResponse
			decode(resp, &body)
			Expect(body.Default).To(BeFalse())
			Expect(body.Brands).To(Equal([]string{"Club-Mate"}))
		})

		It("returns 409 for a duplicate", func() {
			db.brands = []*Brand{{Name: "Club-Mate"}}
			resp := do(http.MethodPost, "/api/brands", strings.NewReader(`{"name": "club-mate"}`))
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})

		It("removes a brand", func() {
			db.brands = []*Brand{{Name: "Club-Mate"}}
			resp := do(http.MethodDelete, "/api/brands/Club-Mate", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.brands).To(BeEmpty())
		})

		It("returns 404 when removing an unknown brand", func() {
			resp := do(http.MethodDelete, "/api/brands/Tab", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp := do(http.MethodOptions, "/api/scans", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
			resp.Body.Close()
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp := do(http.MethodGet, "/api/scans", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			resp.Body.Close()
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:nope")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("accepts the right credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("leaves the health check open", func() {
			resp := do(http.MethodGet, "/healthz", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})
})
