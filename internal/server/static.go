package server

import (
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
)

const indexFile = "index.html"

// SPAHandler serves the built front end from disk. Extensionless paths that
// match no file get index.html so client-side routes resolve; missing files
// with an extension are 404.
type SPAHandler struct {
	fileServer http.Handler
	filesystem fs.FS
}

// NewSPAHandler serves files below root. A root that does not exist yet is
// not an error: the build may not have run, and every request 404s until
// it does.
func NewSPAHandler(root string, logger *slog.Logger) *SPAHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		logger.Warn("static root not found, only proxied paths will be served", "root", root)
	}
	return newSPAHandler(os.DirFS(root))
}

func newSPAHandler(fsys fs.FS) *SPAHandler {
	return &SPAHandler{
		fileServer: http.FileServer(http.FS(fsys)),
		filesystem: fsys,
	}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" {
		name = "."
	}

	if info, err := fs.Stat(h.filesystem, name); err == nil {
		if !info.IsDir() || h.hasIndex(name) {
			h.fileServer.ServeHTTP(w, r)
			return
		}
	}

	// r.URL.Path is already decoded, so %2Ecss counts as an extension.
	if path.Ext(name) != "" || !h.hasIndex(".") {
		http.NotFound(w, r)
		return
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	r2.URL.RawPath = ""
	h.fileServer.ServeHTTP(w, r2)
}

func (h *SPAHandler) hasIndex(dir string) bool {
	_, err := fs.Stat(h.filesystem, path.Join(dir, indexFile))
	return err == nil
}
