package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// staticHandler serves PublicDir. Directories requested without a
// trailing slash redirect to the prefixed path with one, so the
// dashboard's relative links resolve behind a proxy.
func (s *Server) staticHandler() http.Handler {
	if s.opts.PublicDir == "" {
		return http.NotFoundHandler()
	}
	files := http.FileServer(http.Dir(s.opts.PublicDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if p != "/" && !strings.HasSuffix(p, "/") {
			clean := path.Clean("/" + p)
			full := filepath.Join(s.opts.PublicDir, filepath.FromSlash(clean))
			if info, err := os.Stat(full); err == nil && info.IsDir() {
				http.Redirect(w, r, withQuery(s.opts.Prefix+p+"/", r.URL.RawQuery), http.StatusMovedPermanently)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}
