package bottle

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "images"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		It("writes the file and returns its name", func() {
			name, err := storage.Save("scan-1_bottle.jpg", []byte("jpeg"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("scan-1_bottle.jpg"))
			Expect(filepath.Join(tmpDir, "images", "scan-1_bottle.jpg")).To(BeAnExistingFile())
		})

		It("leaves no temp files behind", func() {
			_, err := storage.Save("scan-1_bottle.jpg", []byte("jpeg"))
			Expect(err).NotTo(HaveOccurred())

			entries, err := os.ReadDir(filepath.Join(tmpDir, "images"))
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})

		It("replaces an existing file", func() {
			_, err := storage.Save("a.jpg", []byte("old"))
			Expect(err).NotTo(HaveOccurred())
			_, err = storage.Save("a.jpg", []byte("new"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get("a.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("new")))
		})

		DescribeTable("rejects names outside the storage directory",
			func(name string) {
				_, err := storage.Save(name, []byte("x"))
				Expect(err).To(MatchError(ContainSubstring("invalid file name")))
			},
			Entry("parent directory", "../escape.jpg"),
			Entry("nested path", "sub/dir.jpg"),
			Entry("hidden file", ".hidden.jpg"),
			Entry("empty name", ""),
		)
	})

	Describe("Get", func() {
		It("reads a saved file", func() {
			_, err := storage.Save("a.jpg", []byte("jpeg"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get("a.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("jpeg")))
		})

		It("fails for a missing file", func() {
			_, err := storage.Get("missing.jpg")
			Expect(err).To(MatchError(ContainSubstring("reading file")))
		})

		It("rejects traversal", func() {
			_, err := storage.Get("../test.db")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("removes a saved file", func() {
			_, err := storage.Save("a.jpg", []byte("jpeg"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete("a.jpg")).To(Succeed())
			Expect(filepath.Join(tmpDir, "images", "a.jpg")).NotTo(BeAnExistingFile())
		})

		It("fails for a missing file", func() {
			Expect(storage.Delete("missing.jpg")).To(MatchError(ContainSubstring("deleting file")))
		})
	})
})
