package staticfileserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/server"
)

// ResponsePipeline turns a resolved regular file and a request into a 200,
// 206, 304 or 416 response. Each call works from a single stat snapshot.
type ResponsePipeline struct {
	cfg         *config.ServerConfig
	fs          FileSystem
	mime        *MimeResolver
	compression *CompressionNegotiator
	log         *logger.Logger
	now         func() time.Time
}

// NewResponsePipeline creates a ResponsePipeline over fs.
func NewResponsePipeline(cfg *config.ServerConfig, fs FileSystem, lg *logger.Logger) (*ResponsePipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server configuration cannot be nil")
	}
	if fs == nil {
		return nil, fmt.Errorf("file system cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	compression, err := NewCompressionNegotiator(cfg.CompressPattern)
	if err != nil {
		return nil, err
	}
	return &ResponsePipeline{
		cfg:         cfg,
		fs:          fs,
		mime:        NewMimeResolver(cfg.MimeTypes),
		compression: compression,
		log:         lg,
		now:         time.Now,
	}, nil
}

// Respond serves the file at path. A stat failure here is an internal error
// because the router has already seen the file. Failures after the status
// line is written are logged and abort the connection.
func (p *ResponsePipeline) Respond(w http.ResponseWriter, r *http.Request, path string) {
	ctx := r.Context()
	meta, err := p.fs.Stat(ctx, path)
	if err != nil {
		p.log.Error("Failed to stat file", logger.LogFields{"path": path, "error": err.Error()})
		server.WriteErrorResponse(w, r, http.StatusInternalServerError, "", nil, p.log)
		return
	}
	if meta.IsDir {
		p.log.Error("Pipeline asked to serve a directory", logger.LogFields{"path": path})
		server.WriteErrorResponse(w, r, http.StatusInternalServerError, "", nil, p.log)
		return
	}

	h := w.Header()
	vh := ComputeHeaders(meta, p.cfg, p.now())
	vh.Apply(h)
	if IsFresh(r.Header, vh) {
		p.log.Debug("Sending 304 Not Modified", logger.LogFields{"path": path, "etag": vh.ETag})
		w.WriteHeader(http.StatusNotModified)
		return
	}

	contentType, known := p.mime.LookupKnown(path)
	if !known && p.cfg.SniffUnknownTypes {
		contentType = p.sniff(r, path, contentType)
	}
	h.Set("Content-Type", contentType)
	h.Set("Accept-Ranges", "bytes")

	status := http.StatusOK
	start, end := int64(0), meta.Size-1
	length := meta.Size
	if rangeText := r.Header.Get("Range"); rangeText != "" {
		br, err := ParseRange(rangeText, meta.Size)
		switch {
		case errors.Is(err, ErrRangeNotSatisfiable):
			p.log.Debug("Range not satisfiable", logger.LogFields{"path": path, "range": rangeText, "size": meta.Size})
			h.Set("Content-Range", "bytes */"+strconv.FormatInt(meta.Size, 10))
			h.Set("Content-Length", "0")
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		case err != nil:
			p.log.Debug("Malformed Range header", logger.LogFields{"path": path, "range": rangeText})
			server.WriteErrorResponse(w, r, http.StatusBadRequest, "Malformed Range header.", nil, p.log)
			return
		}
		status = http.StatusPartialContent
		start, end, length = br.Start, br.End, br.Length()
		h.Set("Content-Range", br.ContentRange(meta.Size))
	}

	encoding := EncodingIdentity
	if p.compression.ShouldCompress(path) {
		h.Add("Vary", "Accept-Encoding")
		encoding = Negotiate(r.Header.Get("Accept-Encoding"))
	}
	if encoding != EncodingIdentity {
		h.Set("Content-Encoding", string(encoding))
	} else {
		h.Set("Content-Length", strconv.FormatInt(length, 10))
	}

	if r.Method == http.MethodHead || (length == 0 && encoding == EncodingIdentity) {
		w.WriteHeader(status)
		return
	}

	body, err := p.fs.Open(ctx, path, start, end)
	if err != nil {
		p.log.Error("Failed to open file", logger.LogFields{"path": path, "error": err.Error()})
		server.WriteErrorResponse(w, r, http.StatusInternalServerError, "", nil, p.log)
		return
	}
	defer body.Close()

	w.WriteHeader(status)
	enc := encoding.Wrap(w)
	n, err := io.Copy(enc, body)
	if closeErr := enc.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		p.log.Error("Aborting response after stream failure", logger.LogFields{
			"path":     path,
			"status":   status,
			"encoding": string(encoding),
			"copied":   n,
			"error":    err.Error(),
		})
		panic(http.ErrAbortHandler)
	}
}

// sniff detects the type of a file with an unknown extension from its leading bytes.
func (p *ResponsePipeline) sniff(r *http.Request, path, fallback string) string {
	rc, err := p.fs.Open(r.Context(), path, 0, -1)
	if err != nil {
		p.log.Debug("Content sniffing skipped", logger.LogFields{"path": path, "error": err.Error()})
		return fallback
	}
	defer rc.Close()
	detected, err := mimetype.DetectReader(rc)
	if err != nil {
		return fallback
	}
	return detected.String()
}
