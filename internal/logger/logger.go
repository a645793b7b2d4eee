package logger

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/staticserve/internal/config"
)

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]interface{}

// Logger writes leveled error-log entries and, when enabled, one access-log
// entry per request. Both sinks are safe for concurrent use.
type Logger struct {
	errorLog       zerolog.Logger
	accessLog      *zerolog.Logger
	realIPHeader   string
	trustedProxies []netip.Prefix
	files          []*os.File
}

// NewLogger creates a Logger from cfg, opening file targets in append mode.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	open := func(target string) (io.Writer, error) {
		switch target {
		case "", "stderr":
			return os.Stderr, nil
		case "stdout":
			return os.Stdout, nil
		}
		f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", target, err)
		}
		files = append(files, f)
		return f, nil
	}

	errOut, err := open(cfg.ErrorTarget)
	if err != nil {
		return nil, err
	}
	var accessOut io.Writer
	if cfg.AccessLog {
		if accessOut, err = open(cfg.AccessTarget); err != nil {
			closeAll()
			return nil, err
		}
	}

	l, err := New(cfg, errOut, accessOut)
	if err != nil {
		closeAll()
		return nil, err
	}
	l.files = files
	return l, nil
}

// New builds a Logger over already opened writers. A nil accessOut
// disables access logging.
func New(cfg *config.LoggingConfig, errOut, accessOut io.Writer) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}
	if errOut == nil {
		errOut = io.Discard
	}
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(string(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		errorLog:       zerolog.New(formatWriter(errOut, cfg.Format)).Level(level).With().Timestamp().Logger(),
		realIPHeader:   cfg.RealIPHeader,
		trustedProxies: proxies,
	}
	if accessOut != nil {
		access := zerolog.New(formatWriter(accessOut, cfg.Format)).With().Timestamp().Logger()
		l.accessLog = &access
	}
	return l, nil
}

func formatWriter(w io.Writer, format string) io.Writer {
	if format != config.LogFormatConsole {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, NoColor: w != os.Stdout && w != os.Stderr, TimeFormat: time.RFC3339}
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{errorLog: zerolog.Nop()}
}

func (l *Logger) log(level zerolog.Level, msg string, fields []LogFields) {
	ev := l.errorLog.WithLevel(level)
	for _, f := range fields {
		if f != nil {
			ev = ev.Fields(map[string]interface{}(f))
		}
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...LogFields) { l.log(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...LogFields)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...LogFields)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...LogFields) { l.log(zerolog.ErrorLevel, msg, fields) }

// Access writes one access-log entry. It is a no-op when access logging is disabled.
func (l *Logger) Access(req *http.Request, requestID string, status int, responseBytes int64, duration time.Duration) {
	if l.accessLog == nil {
		return
	}
	_, remotePort, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		remotePort = "0"
	}
	ev := l.accessLog.Log().
		Str("remote_addr", realClientIP(req.RemoteAddr, req.Header, l.realIPHeader, l.trustedProxies)).
		Str("remote_port", remotePort).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", status).
		Int64("resp_bytes", responseBytes).
		Int64("duration_ms", duration.Milliseconds())
	if requestID != "" {
		ev = ev.Str("request_id", requestID)
	}
	if ua := req.UserAgent(); ua != "" {
		ev = ev.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		ev = ev.Str("referer", ref)
	}
	ev.Send()
}

// CloseLogFiles closes any file targets opened by NewLogger.
func (l *Logger) CloseLogFiles() error {
	var errs []error
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", f.Name(), err))
		}
	}
	l.files = nil
	return errors.Join(errs...)
}

func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR in trusted_proxies %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid IP in trusted_proxies %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// realClientIP walks the real-IP header from right to left and returns the
// first address not covered by a trusted proxy. The direct peer is returned
// when the header is absent, malformed, or made only of trusted hops.
func realClientIP(remoteAddr string, headers http.Header, headerName string, trusted []netip.Prefix) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	}
	if headerName == "" {
		return peer
	}
	value := headers.Get(headerName)
	if value == "" {
		return peer
	}

	hops := strings.Split(value, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			return peer
		}
		if !isTrusted(addr.Unmap(), trusted) {
			return hop
		}
	}
	return peer
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
