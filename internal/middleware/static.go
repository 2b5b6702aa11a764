package middleware

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// UploadFileServer serves applicant-uploaded documents and generated
// receipts from dir. Paths are cleaned before hitting the filesystem so
// a crafted URL cannot escape the upload root.
func UploadFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleaned := filepath.Clean("/" + r.URL.Path)
		if strings.Contains(cleaned, "..") {
			http.NotFound(w, r)
			return
		}

		path := filepath.Join(dir, cleaned)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=2592000")
		http.ServeFile(w, r, path)
	})
}
