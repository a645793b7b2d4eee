package staticfileserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"example.com/staticserve/internal/config"
)

// ValidationHeaders are the cache validators computed for one response.
// Empty strings and the zero time mean the header is disabled.
type ValidationHeaders struct {
	ETag         string
	LastModified string
	CacheControl string
	Expires      time.Time
}

// GenerateETag returns the weak validator W/"<size hex>-<mtime millis hex>".
func GenerateETag(meta FileMetadata) string {
	return fmt.Sprintf(`W/"%x-%x"`, meta.Size, meta.ModTime.UnixMilli())
}

// ComputeHeaders derives the validators for meta according to cfg's toggles.
// now anchors the Expires header.
func ComputeHeaders(meta FileMetadata, cfg *config.ServerConfig, now time.Time) ValidationHeaders {
	var vh ValidationHeaders
	if cfg.EnableExpires {
		vh.Expires = now.Add(time.Duration(cfg.MaxAgeSeconds) * time.Second).UTC()
	}
	if cfg.EnableCacheControl {
		vh.CacheControl = "public, max-age=" + strconv.Itoa(cfg.MaxAgeSeconds)
	}
	if cfg.EnableLastModified {
		vh.LastModified = meta.ModTime.UTC().Format(http.TimeFormat)
	}
	if cfg.EnableETag {
		vh.ETag = GenerateETag(meta)
	}
	return vh
}

// Apply writes the enabled validators onto h.
func (vh ValidationHeaders) Apply(h http.Header) {
	if !vh.Expires.IsZero() {
		h.Set("Expires", vh.Expires.Format(http.TimeFormat))
	}
	if vh.CacheControl != "" {
		h.Set("Cache-Control", vh.CacheControl)
	}
	if vh.LastModified != "" {
		h.Set("Last-Modified", vh.LastModified)
	}
	if vh.ETag != "" {
		h.Set("ETag", vh.ETag)
	}
}

// IsFresh reports whether the client's cached copy is still valid. At least
// one of If-None-Match or If-Modified-Since must be present, and every present
// one must equal the computed value exactly. If-Modified-Since is compared as
// a string, not as a date.
func IsFresh(reqHeader http.Header, vh ValidationHeaders) bool {
	noneMatch := reqHeader.Get("If-None-Match")
	modifiedSince := reqHeader.Get("If-Modified-Since")
	if noneMatch == "" && modifiedSince == "" {
		return false
	}
	if noneMatch != "" && noneMatch != vh.ETag {
		return false
	}
	if modifiedSince != "" && modifiedSince != vh.LastModified {
		return false
	}
	return true
}
