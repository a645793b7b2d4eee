package router

import (
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/handlers/staticfileserver"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/server"
)

// AllowedMethods is advertised in the Allow header of OPTIONS and 405 responses.
const AllowedMethods = "GET, HEAD, OPTIONS"

// RequestRouter maps request paths onto the document root and decides between
// serving a file, an index page, a directory listing, a redirect or a 404.
type RequestRouter struct {
	root      string
	indexPage string
	fs        staticfileserver.FileSystem
	pipeline  *staticfileserver.ResponsePipeline
	log       *logger.Logger
}

// NewRequestRouter creates a RequestRouter for cfg's document root.
func NewRequestRouter(cfg *config.ServerConfig, fs staticfileserver.FileSystem, pipeline *staticfileserver.ResponsePipeline, lg *logger.Logger) (*RequestRouter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server configuration cannot be nil")
	}
	if fs == nil {
		return nil, fmt.Errorf("file system cannot be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("response pipeline cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &RequestRouter{
		root:      cfg.RootDirectory,
		indexPage: cfg.IndexPageName,
		fs:        fs,
		pipeline:  pipeline,
		log:       lg,
	}, nil
}

// ResolvePath joins root with the cleaned, rooted form of urlPath. Dot-dot
// segments cannot climb above root.
func ResolvePath(root, urlPath string) string {
	return filepath.Join(root, filepath.FromSlash(path.Clean("/"+urlPath)))
}

// ServeHTTP implements http.Handler.
func (rt *RequestRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodOptions:
		w.Header().Set("Allow", AllowedMethods)
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		rt.log.Debug("Method not allowed", logger.LogFields{"method": r.Method, "path": r.URL.Path})
		server.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "", http.Header{"Allow": {AllowedMethods}}, rt.log)
		return
	}

	urlPath := r.URL.Path
	fsPath := ResolvePath(rt.root, urlPath)
	trailingSlash := strings.HasSuffix(urlPath, "/")

	meta, err := rt.fs.Stat(r.Context(), fsPath)
	if err != nil {
		fields := logger.LogFields{"path": urlPath, "fs_path": fsPath, "error": err.Error()}
		switch {
		case r.Context().Err() != nil:
			// Nobody is waiting for the answer.
			rt.log.Debug("Request ended before lookup completed", fields)
			return
		case errors.Is(err, fs.ErrNotExist):
			rt.log.Info("Resource not found", fields)
		default:
			rt.log.Warn("Stat failed, answering not found", fields)
		}
		rt.notFound(w, r)
		return
	}

	switch {
	case meta.IsDir && trailingSlash:
		indexPath := filepath.Join(fsPath, rt.indexPage)
		if im, err := rt.fs.Stat(r.Context(), indexPath); err == nil && !im.IsDir {
			rt.pipeline.Respond(w, r, indexPath)
			return
		}
		rt.pipeline.RespondListing(w, r, fsPath)
	case meta.IsDir:
		rt.redirect(w, r)
	case trailingSlash:
		// A regular file cannot be addressed as a directory.
		rt.notFound(w, r)
	default:
		rt.pipeline.Respond(w, r, fsPath)
	}
}

func (rt *RequestRouter) notFound(w http.ResponseWriter, r *http.Request) {
	body := fmt.Sprintf("<h1>Not Found</h1><p>The requested URL %s was not found on this server.</p>",
		html.EscapeString(r.URL.RequestURI()))
	writeHTML(w, r, http.StatusNotFound, body)
}

// redirect sends a 301 to the same path with a trailing slash, keeping the query.
func (rt *RequestRouter) redirect(w http.ResponseWriter, r *http.Request) {
	location := r.URL.EscapedPath() + "/"
	if r.URL.RawQuery != "" {
		location += "?" + r.URL.RawQuery
	}
	w.Header().Set("Location", location)
	escaped := html.EscapeString(location)
	writeHTML(w, r, http.StatusMovedPermanently, fmt.Sprintf("Redirecting to <a href='%s'>%s</a>", escaped, escaped))
}

func writeHTML(w http.ResponseWriter, r *http.Request, status int, body string) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write([]byte(body))
	}
}
