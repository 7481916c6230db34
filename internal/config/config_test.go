package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/takak2166/confluence2local/internal/transport"
)

// unsetenv removes variables for the duration of the test
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestLoadPrecedence(t *testing.T) {
	unsetenv(t, "CONFLUENCE_BASE_URL", "EXPORT_FOLDER", "LOG_LEVEL", "SPACES_TO_EXPORT")
	t.Setenv("EXPORT_CONCURRENCY", "8")

	dir := t.TempDir()
	file := writeFile(t, dir, "config.toml", `
[confluence]
base_url = "https://wiki.example.com"
spaces = ["DOC"]

[http]
timeout_seconds = 10

[[http.headers]]
name = "X-Tenant"
value = "docs"

[export]
folder = "from-toml"
concurrency = 2
`)
	envFile := writeFile(t, dir, ".env", "EXPORT_FOLDER=from-dotenv\nEXPORT_CONCURRENCY=3\nLOG_LEVEL=debug\n")

	cfg, err := Load(Sources{File: file, EnvFile: envFile})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Confluence.BaseURL != "https://wiki.example.com" {
		t.Errorf("Expected base URL from TOML, got %q", cfg.Confluence.BaseURL)
	}
	if cfg.Export.Folder != "from-dotenv" {
		t.Errorf("Expected folder from .env, got %q", cfg.Export.Folder)
	}
	if cfg.Export.Concurrency != 8 {
		t.Errorf("Expected concurrency from environment, got %d", cfg.Export.Concurrency)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level from .env, got %q", cfg.Log.Level)
	}
	if cfg.HTTP.TimeoutSeconds != 10 || cfg.HTTP.MaxRetries != transport.DefaultMaxRetries {
		t.Errorf("Unexpected HTTP settings: %+v", cfg.HTTP)
	}
	if want := []transport.Header{{Name: "X-Tenant", Value: "docs"}}; !reflect.DeepEqual(cfg.HTTP.Headers, want) {
		t.Errorf("Expected headers %v, got %v", want, cfg.HTTP.Headers)
	}
	if !cfg.Export.ForwardStubs {
		t.Error("Expected forward stubs to default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid configuration, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	file := writeFile(t, t.TempDir(), "config.toml", "[export]\nfolders = \"typo\"\n")
	if _, err := Load(Sources{File: file}); err == nil {
		t.Error("Expected error for unknown key, got nil")
	}
}

func TestLoadEnvFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), ".env")

	if _, err := Load(Sources{EnvFile: missing}); err != nil {
		t.Errorf("Expected a missing default .env to be ignored, got %v", err)
	}
	if _, err := Load(Sources{EnvFile: missing, RequireEnvFile: true}); err == nil {
		t.Error("Expected error for a missing required .env, got nil")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		"CONFLUENCE_BASE_URL":        "https://example.com/confluence",
		"SPACES_TO_EXPORT":           " DOC, ENG ,,",
		"VERIFY_PEER_CERTIFICATE":    "true",
		"HTTP_PROXIES":               `{"https": "http://proxy.local:3128"}`,
		"HTTP_CUSTOM_HEADERS":        `{"X-A": "1", "X-B": "2", "X-A": "3"}`,
		"SKIP_ATTACHMENT_EXTENSIONS": "exe,.iso",
		"FORWARD_STUBS":              "false",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !reflect.DeepEqual(cfg.Confluence.Spaces, []string{"DOC", "ENG"}) {
		t.Errorf("Unexpected spaces %v", cfg.Confluence.Spaces)
	}
	if !cfg.HTTP.VerifyPeerCertificate {
		t.Error("Expected TLS verification to be enabled")
	}
	if cfg.HTTP.Proxies["https"] != "http://proxy.local:3128" {
		t.Errorf("Unexpected proxies %v", cfg.HTTP.Proxies)
	}
	wantHeaders := []transport.Header{{Name: "X-A", Value: "1"}, {Name: "X-B", Value: "2"}, {Name: "X-A", Value: "3"}}
	if !reflect.DeepEqual(cfg.HTTP.Headers, wantHeaders) {
		t.Errorf("Expected headers %v, got %v", wantHeaders, cfg.HTTP.Headers)
	}
	if cfg.Export.ForwardStubs {
		t.Error("Expected forward stubs to be disabled")
	}

	tc := cfg.Transport()
	if !tc.VerifyTLS || tc.Timeout != 60*time.Second || tc.MaxRetries != 3 {
		t.Errorf("Unexpected transport config %+v", tc)
	}
	opts := cfg.Exporter()
	if opts.Output != "export" || opts.AttachmentsDir != "attachments" || opts.Crawl.Concurrency != 4 {
		t.Errorf("Unexpected exporter options %+v", opts)
	}
}

func TestApplyEnvInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"Loose boolean":    {"VERIFY_PEER_CERTIFICATE": "yes"},
		"Bad integer":      {"EXPORT_CONCURRENCY": "four"},
		"Bad number":       {"HTTP_REQUESTS_PER_SECOND": "fast"},
		"Headers as array": {"HTTP_CUSTOM_HEADERS": `["X-A: 1"]`},
		"Header not text":  {"HTTP_CUSTOM_HEADERS": `{"X-A": 1}`},
		"Trailing data":    {"HTTP_CUSTOM_HEADERS": `{"X-A": "1"} {}`},
		"Proxy string":     {"HTTP_PROXIES": "http://proxy.local"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			err := Default().ApplyEnv(mapLookup(env))
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Errorf("Expected validation errors, got %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		modify func(c *Config)
		field  string
	}{
		"Missing base URL": {
			modify: func(c *Config) { c.Confluence.BaseURL = "" },
			field:  "confluence.base_url",
		},
		"Relative base URL": {
			modify: func(c *Config) { c.Confluence.BaseURL = "wiki.example.com" },
			field:  "confluence.base_url",
		},
		"Proxy for unknown scheme": {
			modify: func(c *Config) { c.HTTP.Proxies = map[string]string{"ftp": "http://proxy:8080"} },
			field:  "http.proxies",
		},
		"Proxy without host": {
			modify: func(c *Config) { c.HTTP.Proxies = map[string]string{"https": "proxy:8080"} },
			field:  "http.proxies.https",
		},
		"Invalid header name": {
			modify: func(c *Config) { c.HTTP.Headers = []transport.Header{{Name: "X Tenant", Value: "a"}} },
			field:  "http.headers[0]",
		},
		"Invalid header value": {
			modify: func(c *Config) { c.HTTP.Headers = []transport.Header{{Name: "X-Tenant", Value: "a\r\nb"}} },
			field:  "http.headers[0]",
		},
		"Too many retries": {
			modify: func(c *Config) { c.HTTP.MaxRetries = 50 },
			field:  "http.max_retries",
		},
		"Nested attachments folder": {
			modify: func(c *Config) { c.Export.AttachmentsFolder = "../files" },
			field:  "export.attachments_folder",
		},
		"Zero concurrency": {
			modify: func(c *Config) { c.Export.Concurrency = 0 },
			field:  "export.concurrency",
		},
		"Unknown log level": {
			modify: func(c *Config) { c.Log.Level = "verbose" },
			field:  "log.level",
		},
		"Unknown log format": {
			modify: func(c *Config) { c.Log.Format = "xml" },
			field:  "log.format",
		},
		"Half configured notion": {
			modify: func(c *Config) { c.Notion.APIKey = "secret" },
			field:  "notion",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Confluence.BaseURL = "https://wiki.example.com"
			tt.modify(cfg)

			var verrs ValidateErrors
			if !errors.As(cfg.Validate(), &verrs) {
				t.Fatal("Expected validation errors, got nil")
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected an error for %s, got %v", tt.field, verrs)
			}
		})
	}
}
