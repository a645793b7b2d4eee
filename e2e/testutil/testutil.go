package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"gopkg.in/yaml.v3"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/handlers/staticfileserver"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/router"
	"example.com/staticserve/internal/server"
)

// TestRequest models an HTTP request for E2E testing.
type TestRequest struct {
	Method  string
	Path    string // may include a query string, e.g. "/path?query=value"
	Headers http.Header
}

// HeaderMatcher maps header names to expected values. An empty expected
// value asserts that the header is absent.
type HeaderMatcher map[string]string

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string) // match status and a description of the mismatch
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", string(m.ExpectedBody), string(body))
}

// StringContainsBodyMatcher checks if the body contains a specific substring.
type StringContainsBodyMatcher struct {
	Substring string
}

func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, string(body))
}

// JSONFieldsBodyMatcher checks that the body is a JSON object containing
// ExpectedFields. Nested objects are matched recursively; keys not listed
// are ignored.
type JSONFieldsBodyMatcher struct {
	ExpectedFields map[string]interface{}
}

func (m *JSONFieldsBodyMatcher) Match(body []byte) (bool, string) {
	var got map[string]interface{}
	if err := json.Unmarshal(body, &got); err != nil {
		return false, fmt.Sprintf("body is not a JSON object: %v. Body: %q", err, string(body))
	}
	return matchFields("", m.ExpectedFields, got)
}

func matchFields(prefix string, want, got map[string]interface{}) (bool, string) {
	for k, wv := range want {
		gv, ok := got[k]
		if !ok {
			return false, fmt.Sprintf("missing JSON field %s%s", prefix, k)
		}
		if wm, ok := wv.(map[string]interface{}); ok {
			gm, ok := gv.(map[string]interface{})
			if !ok {
				return false, fmt.Sprintf("JSON field %s%s is %T, want object", prefix, k, gv)
			}
			if ok, msg := matchFields(prefix+k+".", wm, gm); !ok {
				return false, msg
			}
			continue
		}
		if !reflect.DeepEqual(wv, gv) {
			return false, fmt.Sprintf("JSON field %s%s = %#v, want %#v", prefix, k, gv, wv)
		}
	}
	return true, ""
}

// DecodedBodyMatcher decodes a gzip or deflate (zlib) body according to
// Encoding, then applies Inner to the result.
type DecodedBodyMatcher struct {
	Encoding string
	Inner    BodyMatcher
}

func (m *DecodedBodyMatcher) Match(body []byte) (bool, string) {
	var (
		r   io.ReadCloser
		err error
	)
	switch m.Encoding {
	case "gzip":
		r, err = gzip.NewReader(bytes.NewReader(body))
	case "deflate":
		r, err = zlib.NewReader(bytes.NewReader(body))
	default:
		return false, fmt.Sprintf("unsupported content encoding %q", m.Encoding)
	}
	if err != nil {
		return false, fmt.Sprintf("cannot open %s stream: %v", m.Encoding, err)
	}
	defer r.Close()
	decoded, err := io.ReadAll(r)
	if err != nil {
		return false, fmt.Sprintf("cannot decode %s body: %v", m.Encoding, err)
	}
	return m.Inner.Match(decoded)
}

// ExpectedResponse models the expected outcome of an HTTP request.
type ExpectedResponse struct {
	StatusCode   int
	Headers      HeaderMatcher
	BodyMatcher  BodyMatcher
	ExpectNoBody bool // if true, BodyMatcher is ignored and the body must be empty
}

// ActualResponse stores the actual outcome of an HTTP request from a client.
type ActualResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// E2ETestCase is one request and the response it must produce.
type E2ETestCase struct {
	Name     string
	Request  TestRequest
	Expected ExpectedResponse
}

// syncBuffer is a bytes.Buffer safe for the concurrent writers of the logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ServerInstance is a server running in-process on a loopback port.
type ServerInstance struct {
	Config  *config.Config
	Address string // host:port actually bound
	BaseURL string // "http://" + Address

	logs   *syncBuffer
	cancel context.CancelFunc
	done   chan error
}

// Logs returns everything written to the error and access logs so far.
func (s *ServerInstance) Logs() string { return s.logs.String() }

// GetFreePort asks the kernel for a free open port that is ready to use.
func GetFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// WriteTempConfig writes configData into dir as a JSON, TOML or YAML file
// and returns its path.
func WriteTempConfig(dir string, configData interface{}, format string) (string, error) {
	var (
		data []byte
		err  error
		ext  string
	)
	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(configData, "", "  ")
		ext = ".json"
	case "toml":
		buf := new(bytes.Buffer)
		if err = toml.NewEncoder(buf).Encode(configData); err == nil {
			data = buf.Bytes()
		}
		ext = ".toml"
	case "yaml", "yml":
		data, err = yaml.Marshal(configData)
		ext = ".yaml"
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal config data to %s: %w", format, err)
	}

	path := filepath.Join(dir, "config"+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write temp config file: %w", err)
	}
	return path, nil
}

// LoadConfigFile runs the regular configuration loader over the file at path.
func LoadConfigFile(path string) (*config.Config, error) {
	return config.Load(&config.CLIOptions{ConfigPath: path})
}

// StartTestServer serves cfg on 127.0.0.1 with an OS-assigned port unless
// cfg names one. Logs are captured in memory at debug level. The server is
// stopped when the test finishes.
func StartTestServer(t testing.TB, cfg *config.Config) *ServerInstance {
	t.Helper()
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	logs := &syncBuffer{}
	logCfg := cfg.Logging
	logCfg.Level = config.LogLevelDebug
	var accessOut io.Writer
	if logCfg.AccessLog {
		accessOut = logs
	}
	lg, err := logger.New(&logCfg, logs, accessOut)
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}

	fsys := staticfileserver.OSFileSystem{}
	pipeline, err := staticfileserver.NewResponsePipeline(&cfg.Server, fsys, lg)
	if err != nil {
		t.Fatalf("creating response pipeline: %v", err)
	}
	rt, err := router.NewRequestRouter(&cfg.Server, fsys, pipeline, lg)
	if err != nil {
		t.Fatalf("creating router: %v", err)
	}
	srv, err := server.NewServer(cfg, lg, rt)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &ServerInstance{Config: cfg, logs: logs, cancel: cancel, done: make(chan error, 1)}
	go func() { inst.done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-inst.done:
		cancel()
		t.Fatalf("server exited before listening: %v. Logs captured:\n%s", err, logs.String())
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatalf("server not ready after 10s. Logs captured:\n%s", logs.String())
	}
	inst.Address = srv.Addr().String()
	inst.BaseURL = "http://" + inst.Address
	t.Cleanup(func() {
		if err := inst.Stop(); err != nil {
			t.Errorf("stopping server: %v", err)
		}
	})
	return inst
}

// Stop cancels the server and waits for it to shut down. It is safe to call
// more than once.
func (s *ServerInstance) Stop() error {
	s.cancel()
	select {
	case err, ok := <-s.done:
		if ok {
			close(s.done)
		}
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("server did not stop within 10s")
	}
}

// newClient returns a client that neither follows redirects nor negotiates
// compression on its own, so responses arrive exactly as sent.
func newClient() *http.Client {
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{DisableCompression: true},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Do sends request to the server and reads the whole response.
func (s *ServerInstance) Do(request TestRequest) (ActualResponse, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequest(method, s.BaseURL+request.Path, nil)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("building request: %w", err)
	}
	for name, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := newClient().Do(req)
	if err != nil {
		return ActualResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("reading response body: %w", err)
	}
	return ActualResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// RunTestCases sends every case to s as a subtest and checks the response.
func RunTestCases(t *testing.T, s *ServerInstance, cases []E2ETestCase) {
	t.Helper()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			actual, err := s.Do(tc.Request)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if msgs := CheckResponse(tc.Expected, actual); len(msgs) > 0 {
				t.Errorf("%s %s:\n  %s", tc.Request.Method, tc.Request.Path, strings.Join(msgs, "\n  "))
			}
		})
	}
}

// CheckResponse lists every way actual deviates from expected.
func CheckResponse(expected ExpectedResponse, actual ActualResponse) []string {
	var msgs []string
	if expected.StatusCode != 0 && actual.StatusCode != expected.StatusCode {
		msgs = append(msgs, fmt.Sprintf("status = %d, want %d", actual.StatusCode, expected.StatusCode))
	}
	for name, want := range expected.Headers {
		got := actual.Headers.Get(name)
		switch {
		case want == "" && got != "":
			msgs = append(msgs, fmt.Sprintf("header %s = %q, want absent", name, got))
		case want != "" && got != want:
			msgs = append(msgs, fmt.Sprintf("header %s = %q, want %q", name, got, want))
		}
	}
	switch {
	case expected.ExpectNoBody:
		if len(actual.Body) != 0 {
			msgs = append(msgs, fmt.Sprintf("body = %q, want empty", string(actual.Body)))
		}
	case expected.BodyMatcher != nil:
		if ok, msg := expected.BodyMatcher.Match(actual.Body); !ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}
