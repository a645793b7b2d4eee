package staticfileserver

import (
	"strings"
)

// defaultMimeTypes is the built-in extension table. Text types carry a charset.
var defaultMimeTypes = map[string]string{
	".aac":         "audio/aac",
	".apng":        "image/apng",
	".avif":        "image/avif",
	".avi":         "video/x-msvideo",
	".bin":         "application/octet-stream",
	".bmp":         "image/bmp",
	".bz2":         "application/x-bzip2",
	".css":         "text/css; charset=utf-8",
	".csv":         "text/csv; charset=utf-8",
	".doc":         "application/msword",
	".docx":        "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".eot":         "application/vnd.ms-fontobject",
	".epub":        "application/epub+zip",
	".gif":         "image/gif",
	".gz":          "application/gzip",
	".htm":         "text/html; charset=utf-8",
	".html":        "text/html; charset=utf-8",
	".ico":         "image/x-icon",
	".ics":         "text/calendar; charset=utf-8",
	".jpeg":        "image/jpeg",
	".jpg":         "image/jpeg",
	".js":          "text/javascript; charset=utf-8",
	".json":        "application/json; charset=utf-8",
	".jsonld":      "application/ld+json; charset=utf-8",
	".map":         "application/json; charset=utf-8",
	".md":          "text/markdown; charset=utf-8",
	".mid":         "audio/midi",
	".mjs":         "text/javascript; charset=utf-8",
	".mp3":         "audio/mpeg",
	".mp4":         "video/mp4",
	".mpeg":        "video/mpeg",
	".oga":         "audio/ogg",
	".ogg":         "audio/ogg",
	".ogv":         "video/ogg",
	".opus":        "audio/opus",
	".otf":         "font/otf",
	".pdf":         "application/pdf",
	".png":         "image/png",
	".rtf":         "application/rtf",
	".svg":         "image/svg+xml",
	".tar":         "application/x-tar",
	".tif":         "image/tiff",
	".tiff":        "image/tiff",
	".ttf":         "font/ttf",
	".txt":         "text/plain; charset=utf-8",
	".wasm":        "application/wasm",
	".wav":         "audio/wav",
	".weba":        "audio/webm",
	".webm":        "video/webm",
	".webmanifest": "application/manifest+json; charset=utf-8",
	".webp":        "image/webp",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".xhtml":       "application/xhtml+xml; charset=utf-8",
	".xml":         "application/xml; charset=utf-8",
	".yaml":        "application/yaml; charset=utf-8",
	".yml":         "application/yaml; charset=utf-8",
	".zip":         "application/zip",
	".7z":          "application/x-7z-compressed",
}

// DefaultMimeType is returned for unknown or missing extensions.
const DefaultMimeType = "text/plain; charset=utf-8"

// MimeResolver maps file paths to Content-Type values. It is immutable after
// construction and safe for concurrent use.
type MimeResolver struct {
	custom map[string]string
}

// NewMimeResolver creates a MimeResolver. Entries in custom take precedence
// over the built-in table; keys are extensions with their leading dot.
func NewMimeResolver(custom map[string]string) *MimeResolver {
	r := &MimeResolver{custom: make(map[string]string, len(custom))}
	for ext, mimeType := range custom {
		r.custom[strings.ToLower(ext)] = mimeType
	}
	return r
}

// Lookup returns the MIME type for path, or DefaultMimeType.
func (r *MimeResolver) Lookup(path string) string {
	mimeType, _ := r.LookupKnown(path)
	return mimeType
}

// LookupKnown is Lookup that also reports whether the extension was found in
// a table. Unknown extensions yield DefaultMimeType and false.
func (r *MimeResolver) LookupKnown(path string) (string, bool) {
	ext := extension(path)
	if ext == "" {
		return DefaultMimeType, false
	}
	if mimeType, ok := r.custom[ext]; ok {
		return mimeType, true
	}
	if mimeType, ok := defaultMimeTypes[ext]; ok {
		return mimeType, true
	}
	return DefaultMimeType, false
}

// extension returns the lowercased text from the final '.' of the final path
// segment, including the dot. Dotfiles such as ".env" count as having an extension.
func extension(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	i := strings.LastIndexByte(path, '.')
	if i < 0 || i == len(path)-1 {
		return ""
	}
	return strings.ToLower(path[i:])
}
