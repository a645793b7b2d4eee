package staticfileserver

import (
	"fmt"
	"io"
	"regexp"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Encoding is a Content-Encoding the server can produce.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingGzip     Encoding = "gzip"
	EncodingDeflate  Encoding = "deflate"
)

var (
	gzipToken    = regexp.MustCompile(`\bgzip\b`)
	deflateToken = regexp.MustCompile(`\bdeflate\b`)
)

// Negotiate picks the encoding for an Accept-Encoding value. gzip wins over
// deflate; anything else, including an empty header, means identity.
func Negotiate(acceptEncoding string) Encoding {
	switch {
	case acceptEncoding == "":
		return EncodingIdentity
	case gzipToken.MatchString(acceptEncoding):
		return EncodingGzip
	case deflateToken.MatchString(acceptEncoding):
		return EncodingDeflate
	}
	return EncodingIdentity
}

// Wrap returns a writer that encodes into w. Close flushes the encoder but
// does not close w. "deflate" is the zlib format (RFC 1950).
func (e Encoding) Wrap(w io.Writer) io.WriteCloser {
	switch e {
	case EncodingGzip:
		return gzip.NewWriter(w)
	case EncodingDeflate:
		return zlib.NewWriter(w)
	}
	return nopWriteCloser{w}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// CompressionNegotiator decides which files are eligible for encoding.
type CompressionNegotiator struct {
	pattern *regexp.Regexp
}

// NewCompressionNegotiator compiles pattern, which is matched against the
// lowercased file extension including its dot. An empty pattern disables compression.
func NewCompressionNegotiator(pattern string) (*CompressionNegotiator, error) {
	if pattern == "" {
		return &CompressionNegotiator{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid compress pattern %q: %w", pattern, err)
	}
	return &CompressionNegotiator{pattern: re}, nil
}

// ShouldCompress reports whether path's extension matches the pattern.
func (c *CompressionNegotiator) ShouldCompress(path string) bool {
	if c.pattern == nil {
		return false
	}
	return c.pattern.MatchString(extension(path))
}
