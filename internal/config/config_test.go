package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

// writeTempFile creates a file with the given content and extension in a
// per-test directory and returns its path.
func writeTempFile(t *testing.T, content string, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config"+ext)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

// checkErrorContains checks if the error is not nil and its message contains the expected substring.
func checkErrorContains(t *testing.T, err error, expectedSubstring string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected an error containing %q, but got nil", expectedSubstring)
	}
	if !strings.Contains(err.Error(), expectedSubstring) {
		t.Fatalf("Expected error message to contain %q, but got: %v", expectedSubstring, err)
	}
}

func mustParseFlags(t *testing.T, args ...string) *CLIOptions {
	t.Helper()
	opts, err := ParseFlags("test", args, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseFlags(%v) failed: %v", args, err)
	}
	return opts
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.IndexPageName != "index.html" {
		t.Errorf("IndexPageName = %q, want index.html", cfg.Server.IndexPageName)
	}
	if !cfg.Server.EnableCacheControl || !cfg.Server.EnableExpires || !cfg.Server.EnableETag || !cfg.Server.EnableLastModified {
		t.Errorf("all freshness headers should be enabled by default: %+v", cfg.Server)
	}
	if cfg.Logging.Level != LogLevelInfo {
		t.Errorf("Level = %q, want info", cfg.Logging.Level)
	}
	if got := cfg.Server.Address(); got != ":8080" {
		t.Errorf("Address() = %q, want :8080", got)
	}
	if cfg.Server.RequestTimeout.Duration != 0 {
		t.Errorf("RequestTimeout = %v, want 0 (no deadline)", cfg.Server.RequestTimeout)
	}
}

func TestLoadFile_EmptyPath(t *testing.T) {
	err := LoadFile("", Default())
	checkErrorContains(t, err, "configuration file path cannot be empty")
}

func TestLoadFile_NonExistentFile(t *testing.T) {
	err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"), Default())
	checkErrorContains(t, err, "failed to read configuration file")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected error to wrap os.ErrNotExist, got %v", err)
	}
}

func TestLoadFile_Formats(t *testing.T) {
	tests := []struct {
		name    string
		ext     string
		content string
	}{
		{
			name: "toml",
			ext:  ".toml",
			content: `
[server]
port = 9000
index_page = "home.html"
etag = false
request_timeout = "5s"

[server.mime_types]
".MD" = "text/markdown; charset=utf-8"

[logging]
level = "debug"
`,
		},
		{
			name: "json",
			ext:  ".json",
			content: `{
  "server": {"port": 9000, "index_page": "home.html", "etag": false, "request_timeout": "5s",
             "mime_types": {".MD": "text/markdown; charset=utf-8"}},
  "logging": {"level": "debug"}
}`,
		},
		{
			name: "yaml",
			ext:  ".yaml",
			content: `
server:
  port: 9000
  index_page: home.html
  etag: false
  request_timeout: 5s
  mime_types:
    .MD: "text/markdown; charset=utf-8"
logging:
  level: debug
`,
		},
		{
			name:    "auto-detect json",
			ext:     ".conf",
			content: `{"server": {"port": 9000, "index_page": "home.html", "etag": false, "request_timeout": "5s", "mime_types": {".MD": "text/markdown; charset=utf-8"}}, "logging": {"level": "debug"}}`,
		},
		{
			name: "auto-detect toml",
			ext:  "",
			content: `
[server]
port = 9000
index_page = "home.html"
etag = false
request_timeout = "5s"
mime_types = { ".MD" = "text/markdown; charset=utf-8" }
[logging]
level = "debug"
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempFile(t, tc.content, tc.ext)
			cfg := Default()
			if err := LoadFile(path, cfg); err != nil {
				t.Fatalf("LoadFile() error = %v", err)
			}
			if cfg.Server.Port != 9000 {
				t.Errorf("Port = %d, want 9000", cfg.Server.Port)
			}
			if cfg.Server.IndexPageName != "home.html" {
				t.Errorf("IndexPageName = %q, want home.html", cfg.Server.IndexPageName)
			}
			if cfg.Server.EnableETag {
				t.Error("EnableETag should be false")
			}
			if !cfg.Server.EnableLastModified {
				t.Error("EnableLastModified should keep its default")
			}
			if cfg.Server.RequestTimeout.Duration != 5*time.Second {
				t.Errorf("RequestTimeout = %v, want 5s", cfg.Server.RequestTimeout)
			}
			if cfg.Server.MimeTypes[".MD"] == "" {
				t.Errorf("MimeTypes not decoded: %v", cfg.Server.MimeTypes)
			}
			if cfg.Logging.Level != LogLevelDebug {
				t.Errorf("Level = %q, want debug", cfg.Logging.Level)
			}
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name        string
		ext         string
		content     string
		errContains string
	}{
		{name: "empty file", ext: ".toml", content: "  \n", errContains: "configuration file is empty"},
		{name: "invalid json", ext: ".json", content: `{"server": {`, errContains: "failed to parse configuration file"},
		{name: "invalid toml", ext: ".toml", content: `[server`, errContains: "failed to parse configuration file"},
		{name: "unknown toml key", ext: ".toml", content: "[server]\nbogus = 1\n", errContains: "unknown keys"},
		{name: "unknown json key", ext: ".json", content: `{"server": {"bogus": 1}}`, errContains: "unknown field"},
		{name: "unknown yaml key", ext: ".yml", content: "server:\n  bogus: 1\n", errContains: "not found"},
		{name: "auto-detect failure", ext: ".cfg", content: "not json or toml", errContains: "failed to auto-detect configuration format"},
		{name: "bad duration", ext: ".toml", content: "[server]\nrequest_timeout = \"abc\"\n", errContains: "invalid duration string"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := LoadFile(writeTempFile(t, tc.content, tc.ext), Default())
			checkErrorContains(t, err, tc.errContains)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected *ConfigError, got %T", err)
			}
		})
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		name      string
		inputJSON string
		inputTOML string
		expectErr string
		expectDur time.Duration
	}{
		{name: "valid duration json", inputJSON: `{"timeout": "10s"}`, expectDur: 10 * time.Second},
		{name: "valid duration toml", inputTOML: `timeout = "15m"`, expectDur: 15 * time.Minute},
		{name: "missing unit json", inputJSON: `{"timeout": "10"}`, expectErr: "invalid duration string \"10\""},
		{name: "invalid toml", inputTOML: `timeout = "abc"`, expectErr: "invalid duration string \"abc\""},
		{name: "non-positive json", inputJSON: `{"timeout": "0s"}`, expectErr: "duration must be positive, got \"0s\""},
		{name: "negative toml", inputTOML: `timeout = "-1h"`, expectErr: "duration must be positive, got \"-1h\""},
		{name: "empty string json", inputJSON: `{"timeout": ""}`, expectErr: "duration string cannot be empty"},
		{name: "empty string toml", inputTOML: `timeout = ""`, expectErr: "duration string cannot be empty"},
	}

	type testStruct struct {
		Timeout Duration `json:"timeout" toml:"timeout"`
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var s testStruct
			var err error
			if tc.inputJSON != "" {
				err = json.Unmarshal([]byte(tc.inputJSON), &s)
			} else {
				_, err = toml.Decode(tc.inputTOML, &s)
			}
			if tc.expectErr != "" {
				checkErrorContains(t, err, tc.expectErr)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Timeout.Duration != tc.expectDur {
				t.Errorf("Timeout = %v, want %v", s.Timeout.Duration, tc.expectDur)
			}
		})
	}

	text, err := Duration{90 * time.Second}.MarshalText()
	if err != nil || string(text) != "1m30s" {
		t.Errorf("MarshalText() = %q, %v; want 1m30s", text, err)
	}
}

func TestParseFlags_ShortAndLongNames(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "short names",
			args: []string{"-p", "9100", "-r", root, "-i", "start.html", "-m", "60", "-c=false", "-e=false", "-t=false", "-l=false"},
			check: func(t *testing.T, cfg *Config) {
				s := cfg.Server
				if s.Port != 9100 || s.RootDirectory != root || s.IndexPageName != "start.html" || s.MaxAgeSeconds != 60 {
					t.Errorf("unexpected server config: %+v", s)
				}
				if s.EnableCacheControl || s.EnableExpires || s.EnableETag || s.EnableLastModified {
					t.Errorf("boolean flags not applied: %+v", s)
				}
			},
		},
		{
			name: "long names",
			args: []string{"--port=9200", "--root", root, "--index", "main.html", "--maxage", "5", "--etag=false", "--host", "127.0.0.1", "--loglevel", "warn"},
			check: func(t *testing.T, cfg *Config) {
				s := cfg.Server
				if s.Port != 9200 || s.IndexPageName != "main.html" || s.MaxAgeSeconds != 5 || s.Host != "127.0.0.1" {
					t.Errorf("unexpected server config: %+v", s)
				}
				if s.EnableETag {
					t.Error("EnableETag should be false")
				}
				if !s.EnableCacheControl {
					t.Error("EnableCacheControl should keep its default")
				}
				if cfg.Logging.Level != LogLevelWarning {
					t.Errorf("Level = %q, want warn", cfg.Logging.Level)
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			mustParseFlags(t, tc.args...).Apply(cfg)
			tc.check(t, cfg)
		})
	}
}

func TestParseFlags_SeparateBoolValues(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "false then more flags",
			args: []string{"-c", "false", "-p", "9000"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.EnableCacheControl {
					t.Error("EnableCacheControl should be false")
				}
				if cfg.Server.Port != 9000 {
					t.Errorf("Port = %d, want 9000", cfg.Server.Port)
				}
			},
		},
		{
			name: "several booleans",
			args: []string{"-c", "false", "-e", "false", "--etag", "false", "-l", "true"},
			check: func(t *testing.T, cfg *Config) {
				s := cfg.Server
				if s.EnableCacheControl || s.EnableExpires || s.EnableETag {
					t.Errorf("boolean flags not applied: %+v", s)
				}
				if !s.EnableLastModified {
					t.Error("EnableLastModified should stay true")
				}
			},
		},
		{
			name: "bare boolean keeps true",
			args: []string{"-t", "-p", "9001"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Server.EnableETag || cfg.Server.Port != 9001 {
					t.Errorf("unexpected server config: %+v", cfg.Server)
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			mustParseFlags(t, tc.args...).Apply(cfg)
			tc.check(t, cfg)
		})
	}
}

func TestParseFlags_StrayArgument(t *testing.T) {
	for _, args := range [][]string{
		{"public"},
		{"-p", "9000", "extra", "-m", "5"},
		{"-c", "no"},
	} {
		var out bytes.Buffer
		_, err := ParseFlags("staticserve", args, &out)
		if err == nil {
			t.Fatalf("ParseFlags(%v) succeeded, want an error for the positional argument", args)
		}
		if errors.Is(err, flag.ErrHelp) {
			t.Fatalf("ParseFlags(%v) returned ErrHelp", args)
		}
		checkErrorContains(t, err, "unexpected argument")
		if !strings.Contains(out.String(), "unexpected argument") {
			t.Errorf("error not reported on output: %q", out.String())
		}
	}
}

func TestParseFlags_Help(t *testing.T) {
	for _, arg := range []string{"-?", "--help", "-h"} {
		t.Run(arg, func(t *testing.T) {
			var out bytes.Buffer
			_, err := ParseFlags("staticserve", []string{arg}, &out)
			if !errors.Is(err, flag.ErrHelp) {
				t.Fatalf("ParseFlags(%s) error = %v, want flag.ErrHelp", arg, err)
			}
			if !strings.Contains(out.String(), "cachecontrol") {
				t.Errorf("usage output missing flag list: %q", out.String())
			}
		})
	}
}

func TestParseFlags_UnsetFlagsDoNotOverride(t *testing.T) {
	cfg := Default()
	cfg.Server.EnableETag = false
	cfg.Server.Port = 1234
	mustParseFlags(t, "-m", "10").Apply(cfg)
	if cfg.Server.EnableETag {
		t.Error("unset -t flag overrode EnableETag")
	}
	if cfg.Server.Port != 1234 {
		t.Errorf("unset -p flag overrode Port: %d", cfg.Server.Port)
	}
}

func TestLoad_Precedence(t *testing.T) {
	root := t.TempDir()
	path := writeTempFile(t, "[server]\nport = 7000\nmax_age = 100\nindex_page = \"file.html\"\n", ".toml")

	t.Setenv("STATICSERVE_SERVER_PORT", "7100")
	t.Setenv("STATICSERVE_SERVER_MAX_AGE", "200")
	t.Setenv("STATICSERVE_SERVER_ROOT", root)

	opts := mustParseFlags(t, "--config", path, "-p", "7200")
	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7200 {
		t.Errorf("Port = %d, want flag value 7200", cfg.Server.Port)
	}
	if cfg.Server.MaxAgeSeconds != 200 {
		t.Errorf("MaxAgeSeconds = %d, want env value 200", cfg.Server.MaxAgeSeconds)
	}
	if cfg.Server.IndexPageName != "file.html" {
		t.Errorf("IndexPageName = %q, want file value", cfg.Server.IndexPageName)
	}
	if cfg.Server.RootDirectory != root {
		t.Errorf("RootDirectory = %q, want %q", cfg.Server.RootDirectory, root)
	}
}

func TestLoad_NormalizesRootAndMimeTypes(t *testing.T) {
	root := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	if err := os.Mkdir("public", 0o755); err != nil {
		t.Fatal(err)
	}
	path := writeTempFile(t, "[server]\nroot_directory = \"public\"\n[server.mime_types]\n\".WASM\" = \"application/wasm\"\n", ".toml")

	cfg, err := Load(mustParseFlags(t, "--config", path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !filepath.IsAbs(cfg.Server.RootDirectory) || filepath.Base(cfg.Server.RootDirectory) != "public" {
		t.Errorf("RootDirectory = %q, want absolute path ending in public", cfg.Server.RootDirectory)
	}
	if cfg.Server.MimeTypes[".wasm"] != "application/wasm" {
		t.Errorf("MimeTypes keys not lowercased: %v", cfg.Server.MimeTypes)
	}
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("STATICSERVE_SERVER_PORT", "not-a-number")
	_, err := Load(nil)
	checkErrorContains(t, err, "invalid environment configuration")
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		mutate      func(c *Config)
		errContains string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, errContains: "Port"},
		{name: "negative max age", mutate: func(c *Config) { c.Server.MaxAgeSeconds = -1 }, errContains: "MaxAgeSeconds"},
		{name: "empty index", mutate: func(c *Config) { c.Server.IndexPageName = "" }, errContains: "IndexPageName"},
		{name: "index with slash", mutate: func(c *Config) { c.Server.IndexPageName = "a/b.html" }, errContains: "IndexPageName"},
		{name: "missing root", mutate: func(c *Config) { c.Server.RootDirectory = filepath.Join(root, "nope") }, errContains: "root directory is not accessible"},
		{name: "root is a file", mutate: func(c *Config) { c.Server.RootDirectory = file }, errContains: "is not a directory"},
		{name: "bad compress pattern", mutate: func(c *Config) { c.Server.CompressPattern = "(" }, errContains: "invalid compress_pattern"},
		{name: "mime key without dot", mutate: func(c *Config) { c.Server.MimeTypes = map[string]string{"txt": "text/plain"} }, errContains: "must start with a '.'"},
		{name: "empty mime value", mutate: func(c *Config) { c.Server.MimeTypes = map[string]string{".txt": ""} }, errContains: "empty MIME type"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, errContains: "Level"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, errContains: "Format"},
		{name: "relative log file", mutate: func(c *Config) { c.Logging.ErrorTarget = "logs/error.log" }, errContains: "logging.error_target"},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.Logging.TrustedProxies = []string{"not-an-ip"} }, errContains: "TrustedProxies"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.RootDirectory = root
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.errContains == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			checkErrorContains(t, err, tc.errContains)
		})
	}
}

func TestIsFilePath(t *testing.T) {
	tests := map[string]bool{
		"stdout":           false,
		"stderr":           false,
		"/var/log/app.log": true,
		"relative.log":     true,
	}
	for target, want := range tests {
		if got := IsFilePath(target); got != want {
			t.Errorf("IsFilePath(%q) = %v, want %v", target, got, want)
		}
	}
}
