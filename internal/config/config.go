// Package config loads export settings from defaults, an optional TOML
// file, a .env file and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpguts"

	"github.com/takak2166/confluence2local/internal/confluence"
	"github.com/takak2166/confluence2local/internal/crawler"
	"github.com/takak2166/confluence2local/internal/exporter"
	"github.com/takak2166/confluence2local/internal/transport"
)

type Config struct {
	Confluence ConfluenceConfig `toml:"confluence"`
	HTTP       HTTPConfig       `toml:"http"`
	Export     ExportConfig     `toml:"export"`
	Log        LogConfig        `toml:"log"`
	Notion     NotionConfig     `toml:"notion"`
}

type ConfluenceConfig struct {
	BaseURL  string   `toml:"base_url"`
	Spaces   []string `toml:"spaces"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	PageSize int      `toml:"page_size"`
}

type HTTPConfig struct {
	VerifyPeerCertificate bool               `toml:"verify_peer_certificate"`
	Proxies               map[string]string  `toml:"proxies"`
	Headers               []transport.Header `toml:"headers"`
	TimeoutSeconds        int                `toml:"timeout_seconds"`
	MaxRetries            int                `toml:"max_retries"`
	RequestsPerSecond     float64            `toml:"requests_per_second"`
}

type ExportConfig struct {
	Folder                   string   `toml:"folder"`
	AttachmentsFolder        string   `toml:"attachments_folder"`
	TemplateFile             string   `toml:"template_file"`
	Concurrency              int      `toml:"concurrency"`
	IOFailureThreshold       int      `toml:"io_failure_threshold"`
	SkipAttachmentExtensions []string `toml:"skip_attachment_extensions"`
	SkipExistingAttachments  bool     `toml:"skip_existing_attachments"`
	ForwardStubs             bool     `toml:"forward_stubs"`
	Clean                    bool     `toml:"clean"`
	Manifest                 string   `toml:"manifest"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type NotionConfig struct {
	APIKey       string `toml:"api_key"`
	ParentPageID string `toml:"parent_page_id"`
}

// Enabled reports whether pages are also published to Notion
func (n NotionConfig) Enabled() bool {
	return n.APIKey != "" && n.ParentPageID != ""
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Confluence: ConfluenceConfig{
			PageSize: confluence.DefaultPageSize,
		},
		HTTP: HTTPConfig{
			TimeoutSeconds: int(transport.DefaultTimeout / time.Second),
			MaxRetries:     transport.DefaultMaxRetries,
		},
		Export: ExportConfig{
			Folder:             "export",
			AttachmentsFolder:  "attachments",
			Concurrency:        crawler.DefaultConcurrency,
			IOFailureThreshold: crawler.DefaultIOFailureThreshold,
			ForwardStubs:       true,
			Manifest:           filepath.Join(".confluence2local", "manifest.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Sources names the files Load reads. A missing EnvFile is ignored unless
// RequireEnvFile is set.
type Sources struct {
	File           string
	EnvFile        string
	RequireEnvFile bool
}

// Load builds the configuration: defaults, then the TOML file, then the
// environment (with the .env file loaded into it first). Command line
// flags are applied by the caller.
func Load(src Sources) (*Config, error) {
	cfg := Default()

	if src.File != "" {
		md, err := toml.DecodeFile(src.File, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TOML file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown keys in %s: %s", src.File, strings.Join(keys, ", "))
		}
	}

	if src.EnvFile != "" {
		// variables already in the environment win over the file
		if err := godotenv.Load(src.EnvFile); err != nil {
			if src.RequireEnvFile || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", src.EnvFile, err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings with the variables lookup finds
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.str("CONFLUENCE_BASE_URL", &c.Confluence.BaseURL)
	env.list("SPACES_TO_EXPORT", &c.Confluence.Spaces)
	env.str("HTTP_AUTHENTICATION_USERNAME", &c.Confluence.Username)
	env.str("HTTP_AUTHENTICATION_PASSWORD", &c.Confluence.Password)
	env.integer("CONFLUENCE_PAGE_SIZE", &c.Confluence.PageSize)

	env.boolean("VERIFY_PEER_CERTIFICATE", &c.HTTP.VerifyPeerCertificate)
	env.integer("HTTP_TIMEOUT_SECONDS", &c.HTTP.TimeoutSeconds)
	env.integer("HTTP_MAX_RETRIES", &c.HTTP.MaxRetries)
	env.float("HTTP_REQUESTS_PER_SECOND", &c.HTTP.RequestsPerSecond)
	if v, ok := lookup("HTTP_PROXIES"); ok && v != "" {
		proxies, err := parseProxies(v)
		if err != nil {
			env.fail("HTTP_PROXIES", err)
		} else {
			c.HTTP.Proxies = proxies
		}
	}
	if v, ok := lookup("HTTP_CUSTOM_HEADERS"); ok && v != "" {
		headers, err := parseHeaders(v)
		if err != nil {
			env.fail("HTTP_CUSTOM_HEADERS", err)
		} else {
			c.HTTP.Headers = headers
		}
	}

	env.str("EXPORT_FOLDER", &c.Export.Folder)
	env.str("DOWNLOAD_SUB_FOLDER", &c.Export.AttachmentsFolder)
	env.str("TEMPLATE_FILE", &c.Export.TemplateFile)
	env.integer("EXPORT_CONCURRENCY", &c.Export.Concurrency)
	env.integer("IO_FAILURE_THRESHOLD", &c.Export.IOFailureThreshold)
	env.list("SKIP_ATTACHMENT_EXTENSIONS", &c.Export.SkipAttachmentExtensions)
	env.boolean("SKIP_EXISTING_ATTACHMENTS", &c.Export.SkipExistingAttachments)
	env.boolean("FORWARD_STUBS", &c.Export.ForwardStubs)
	env.str("MANIFEST_PATH", &c.Export.Manifest)

	env.str("LOG_LEVEL", &c.Log.Level)
	env.str("LOG_FORMAT", &c.Log.Format)

	env.str("NOTION_API_KEY", &c.Notion.APIKey)
	env.str("NOTION_PARENT_PAGE_ID", &c.Notion.ParentPageID)

	if len(env.errs) > 0 {
		return env.errs
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   ValidateErrors
}

func (e *envReader) fail(name string, err error) {
	e.errs = append(e.errs, ValidationError{Field: name, Message: err.Error()})
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		e.fail(name, fmt.Errorf("invalid boolean %q", v))
		return
	}
	*dst = b
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.fail(name, fmt.Errorf("invalid integer %q", v))
		return
	}
	*dst = n
}

func (e *envReader) float(name string, dst *float64) {
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.fail(name, fmt.Errorf("invalid number %q", v))
		return
	}
	*dst = f
}

// parseHeaders reads a JSON object of header names to values keeping the
// order of the keys, so a later duplicate overrides an earlier one.
func parseHeaders(raw string) ([]transport.Header, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var headers []transport.Header
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)

		var value string
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("value of header %q must be a string", name)
		}
		headers = append(headers, transport.Header{Name: name, Value: value})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON object")
	}
	return headers, nil
}

// parseProxies reads a JSON object of URL scheme to proxy URL
func parseProxies(raw string) (map[string]string, error) {
	var proxies map[string]string
	if err := json.Unmarshal([]byte(raw), &proxies); err != nil {
		return nil, fmt.Errorf("expected a JSON object of scheme to proxy URL: %w", err)
	}
	return proxies, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("expected a JSON object: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// ValidationError is an invalid setting
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and reports all problems at once
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Confluence.BaseURL == "" {
		add("confluence.base_url", "is required")
	} else if u, err := url.Parse(c.Confluence.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("confluence.base_url", "must be an absolute http or https URL, got %q", c.Confluence.BaseURL)
	}
	if c.Confluence.PageSize < 1 || c.Confluence.PageSize > 1000 {
		add("confluence.page_size", "must be between 1 and 1000")
	}

	for scheme, raw := range c.HTTP.Proxies {
		if scheme != "http" && scheme != "https" {
			add("http.proxies", "unsupported scheme %q, must be http or https", scheme)
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			add("http.proxies."+scheme, "must be an absolute URL, got %q", raw)
			continue
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			add("http.proxies."+scheme, "unsupported proxy scheme %q", u.Scheme)
		}
	}
	for i, h := range c.HTTP.Headers {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			add(fmt.Sprintf("http.headers[%d]", i), "invalid header name %q", h.Name)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			add(fmt.Sprintf("http.headers[%d]", i), "invalid value for header %q", h.Name)
		}
	}
	if c.HTTP.TimeoutSeconds < 1 {
		add("http.timeout_seconds", "must be positive")
	}
	if c.HTTP.MaxRetries < 0 || c.HTTP.MaxRetries > 10 {
		add("http.max_retries", "must be between 0 and 10")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		add("http.requests_per_second", "cannot be negative")
	}

	if c.Export.Folder == "" {
		add("export.folder", "is required")
	}
	if f := c.Export.AttachmentsFolder; f == "" || f == "." || f == ".." || strings.ContainsAny(f, `/\`) {
		add("export.attachments_folder", "must be a single folder name, got %q", f)
	}
	if c.Export.Concurrency < 1 || c.Export.Concurrency > 64 {
		add("export.concurrency", "must be between 1 and 64")
	}
	if c.Export.IOFailureThreshold < 1 {
		add("export.io_failure_threshold", "must be at least 1")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format", "must be text or json, got %q", c.Log.Format)
	}

	if (c.Notion.APIKey == "") != (c.Notion.ParentPageID == "") {
		add("notion", "api_key and parent_page_id must be set together")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Transport returns the request policy for the HTTP layer
func (c *Config) Transport() transport.Config {
	return transport.Config{
		Username:          c.Confluence.Username,
		Password:          c.Confluence.Password,
		Proxies:           c.HTTP.Proxies,
		Headers:           c.HTTP.Headers,
		VerifyTLS:         c.HTTP.VerifyPeerCertificate,
		Timeout:           time.Duration(c.HTTP.TimeoutSeconds) * time.Second,
		MaxRetries:        c.HTTP.MaxRetries,
		RequestsPerSecond: c.HTTP.RequestsPerSecond,
	}
}

// Exporter returns the options of an export run
func (c *Config) Exporter() exporter.Options {
	return exporter.Options{
		Output:             c.Export.Folder,
		AttachmentsDir:     c.Export.AttachmentsFolder,
		TemplateFile:       c.Export.TemplateFile,
		BaseURL:            c.Confluence.BaseURL,
		ForwardStubs:       c.Export.ForwardStubs,
		Clean:              c.Export.Clean,
		IOFailureThreshold: c.Export.IOFailureThreshold,
		Crawl: crawler.Options{
			Concurrency:             c.Export.Concurrency,
			SkipExtensions:          c.Export.SkipAttachmentExtensions,
			SkipExistingAttachments: c.Export.SkipExistingAttachments,
		},
	}
}
