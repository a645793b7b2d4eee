package staticfileserver

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/server"
)

const listingTimeFormat = "02-Jan-2006 15:04"

// RespondListing renders the HTML index of the directory at dirPath. The raw
// read error is logged; the client only sees a generic 500 page.
func (p *ResponsePipeline) RespondListing(w http.ResponseWriter, r *http.Request, dirPath string) {
	entries, err := p.fs.ReadDir(r.Context(), dirPath)
	if err != nil {
		p.log.Error("Failed to read directory for listing", logger.LogFields{"dir_path": dirPath, "error": err.Error()})
		server.WriteErrorResponse(w, r, http.StatusInternalServerError, "", nil, p.log)
		return
	}
	p.log.Debug("Generating directory listing", logger.LogFields{"dir_path": dirPath, "entries": len(entries)})

	body := RenderDirectoryListing(r.URL.Path, entries)
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		p.log.Warn("Failed to write directory listing", logger.LogFields{"dir_path": dirPath, "error": err.Error()})
	}
}

// RenderDirectoryListing builds the index page for webPath, the URL path of
// the directory ending in '/'. Directories come first, then files, each group
// ordered by case-insensitive name. The entries slice is sorted in place.
func RenderDirectoryListing(webPath string, entries []DirEntry) []byte {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	if !strings.HasSuffix(webPath, "/") {
		webPath += "/"
	}
	escapedWebPath := html.EscapeString(webPath)

	var sb strings.Builder
	fmt.Fprintf(&sb, "<html><head><title>Index of %s</title></head><body>\n", escapedWebPath)
	fmt.Fprintf(&sb, "<h1>Index of %s</h1><hr><pre>\n", escapedWebPath)

	if webPath != "/" {
		parent := path.Dir(strings.TrimSuffix(webPath, "/"))
		if parent != "/" {
			parent += "/"
		}
		fmt.Fprintf(&sb, "<a href=\"%s\">../</a>\n", html.EscapeString(escapePath(parent)))
	}

	for _, e := range entries {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		href := html.EscapeString(escapePath(webPath + name))
		label := html.EscapeString(name)

		size := "-"
		if !e.IsDir {
			size = humanize.Bytes(uint64(e.Size))
		}
		modified := "-"
		if !e.ModTime.IsZero() {
			modified = e.ModTime.Format(listingTimeFormat)
		}

		pad := 50 - len(name)
		if pad < 1 {
			pad = 1
		}
		fmt.Fprintf(&sb, "<a href=\"%s\">%s</a>%*s %17s %10s\n", href, label, pad, "", modified, size)
	}

	sb.WriteString("</pre><hr></body></html>\n")
	return []byte(sb.String())
}

// escapePath percent-encodes p for use in an href, keeping '/' separators.
func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
