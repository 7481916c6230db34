package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takak2166/confluence2local/internal/confluence"
	"github.com/takak2166/confluence2local/internal/crawler"
	"github.com/takak2166/confluence2local/internal/models"
	"github.com/takak2166/confluence2local/internal/report"
	"github.com/takak2166/confluence2local/internal/transport"
)

type fakeSpace struct {
	key, name, home string
	roots           []string
}

type fakePage struct {
	id, title, space, body string
	children            []string
	attachments         map[string]string
}

// fakeWiki serves the subset of the REST API the client uses
type fakeWiki struct {
	spaces map[string]fakeSpace
	pages  map[string]fakePage
	status map[string]int

	mu       sync.Mutex
	requests []string
}

func newFakeWiki() *fakeWiki {
	return &fakeWiki{
		spaces: map[string]fakeSpace{
			"DOC": {key: "DOC", name: "Documentation", home: "1", roots: []string{"1"}},
			"ENG": {key: "ENG", name: "Engineering", home: "10", roots: []string{"10"}},
		},
		pages: map[string]fakePage{
			"1": {id: "1", title: "Home", space: "DOC",
				body: `<p><a href="/display/DOC/Deep+Page#usage">deep</a> <img src="/download/attachments/1/diagram.png"></p>`,
				children:    []string{"2"},
				attachments: map[string]string{"diagram.png": "png-bytes"}},
			"2": {id: "2", title: "Guide", space: "DOC", body: "<p>guide</p>", children: []string{"3", "4"}},
			"3": {id: "3", title: "Deep Page", space: "DOC", body: `<a href="/pages/viewpage.action?pageId=1">home</a>`},
			"10": {id: "10", title: "Start", space: "ENG",
				body: `<a href="/spaces/DOC/pages/2/Guide">guide</a>`},
		},
		status: map[string]int{},
	}
}

func (f *fakeWiki) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/api/space", func(w http.ResponseWriter, r *http.Request) {
		var results []map[string]interface{}
		for _, key := range []string{"DOC", "ENG"} {
			results = append(results, f.spaceJSON(f.spaces[key]))
		}
		writeJSON(w, map[string]interface{}{"results": results})
	})
	mux.HandleFunc("GET /rest/api/space/{key}", func(w http.ResponseWriter, r *http.Request) {
		s, ok := f.spaces[r.PathValue("key")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, f.spaceJSON(s))
	})
	mux.HandleFunc("GET /rest/api/space/{key}/content/page", func(w http.ResponseWriter, r *http.Request) {
		s, ok := f.spaces[r.PathValue("key")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]interface{}{"results": f.stubs(s.roots)})
	})
	mux.HandleFunc("GET /rest/api/content/{id}", func(w http.ResponseWriter, r *http.Request) {
		p, ok := f.page(w, r)
		if !ok {
			return
		}
		doc := map[string]interface{}{
			"id":      p.id,
			"title":   p.title,
			"space":   map[string]string{"key": p.space},
			"version": map[string]int{"number": 1},
		}
		if r.URL.Query().Get("expand") == "body.view" {
			doc["body"] = map[string]interface{}{"view": map[string]string{"value": p.body}}
		}
		writeJSON(w, doc)
	})
	mux.HandleFunc("GET /rest/api/content/{id}/child/page", func(w http.ResponseWriter, r *http.Request) {
		p, ok := f.page(w, r)
		if !ok {
			return
		}
		writeJSON(w, map[string]interface{}{"results": f.stubs(p.children)})
	})
	mux.HandleFunc("GET /rest/api/content/{id}/child/attachment", func(w http.ResponseWriter, r *http.Request) {
		p, ok := f.page(w, r)
		if !ok {
			return
		}
		var results []map[string]interface{}
		for name := range p.attachments {
			results = append(results, map[string]interface{}{
				"id":         "att-" + p.id + "-" + name,
				"title":      name,
				"extensions": map[string]interface{}{"mediaType": "image/png", "fileSize": len(p.attachments[name])},
				"_links":     map[string]string{"download": fmt.Sprintf("/download/attachments/%s/%s?version=1", p.id, name)},
			})
		}
		writeJSON(w, map[string]interface{}{"results": results})
	})
	mux.HandleFunc("GET /download/attachments/{id}/{name}", func(w http.ResponseWriter, r *http.Request) {
		p, ok := f.pages[r.PathValue("id")]
		data, found := p.attachments[r.PathValue("name")]
		if !ok || !found {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(data))
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

func (f *fakeWiki) page(w http.ResponseWriter, r *http.Request) (fakePage, bool) {
	id := r.PathValue("id")
	if code, ok := f.status[id]; ok {
		w.WriteHeader(code)
		return fakePage{}, false
	}
	p, ok := f.pages[id]
	if !ok {
		http.NotFound(w, r)
	}
	return p, ok
}

func (f *fakeWiki) spaceJSON(s fakeSpace) map[string]interface{} {
	return map[string]interface{}{
		"key":      s.key,
		"name":     s.name,
		"homepage": map[string]string{"id": s.home},
	}
}

// stubs lists ids in order; ids without a page still get a title so the
// listing matches what the service would show before the page vanished
func (f *fakeWiki) stubs(ids []string) []map[string]string {
	out := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		title := "Page " + id
		if p, ok := f.pages[id]; ok {
			title = p.title
		}
		out = append(out, map[string]string{"id": id, "title": title})
	}
	return out
}

func (f *fakeWiki) requested(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.requests {
		if p == path {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newExporter(t *testing.T, srv *httptest.Server, output string) *Exporter {
	t.Helper()
	tc, err := transport.New(transport.Config{})
	require.NoError(t, err)
	client, err := confluence.New(srv.URL, 2, tc)
	require.NoError(t, err)

	return New(client, Options{
		Output:       output,
		BaseURL:      srv.URL,
		ForwardStubs: true,
		Crawl:        crawler.Options{Concurrency: 3},
	})
}

// snapshot reads every file of a mirror keyed by slash path
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestRunExportsAllSpaces(t *testing.T) {
	wiki := newFakeWiki()
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	out := t.TempDir()
	exp := newExporter(t, srv, out)
	assert.Equal(t, StateIdle, exp.Phase().State)

	summary, err := exp.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, report.StatusDone, summary.Status)
	assert.Equal(t, StateDone, exp.Phase().State)
	assert.Len(t, summary.Spaces, 2)
	assert.Equal(t, 4, summary.TotalPages())
	assert.Equal(t, 1, summary.TotalAttachments())
	assert.Equal(t, 0, summary.UnresolvedLinks)

	skips := summary.Spaces[0].Skips()
	require.Len(t, skips, 1)
	assert.Equal(t, "4", skips[0].ID)

	files := snapshot(t, out)
	for _, p := range []string{
		"index.html",
		"unavailable.html",
		"DOC/index.html",
		"DOC/Home_1.html",
		"DOC/1.html",
		"DOC/Guide_2.html",
		"DOC/Deep Page_3.html",
		"DOC/attachments/1/diagram.png",
		"ENG/Start_10.html",
	} {
		assert.Contains(t, files, p)
	}
	assert.NotContains(t, files, "DOC/Page 4_4.html")
	assert.Equal(t, "png-bytes", files["DOC/attachments/1/diagram.png"])
}

func TestRunResolvesEveryLink(t *testing.T) {
	wiki := newFakeWiki()
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	out := t.TempDir()
	_, err := newExporter(t, srv, out).Run(context.Background(), []string{"DOC", "ENG"})
	require.NoError(t, err)

	files := snapshot(t, out)
	for p, content := range files {
		assert.NotContains(t, content, "data-mirror-", "pending marker left in %s", p)
		assert.NotContains(t, content, srv.URL, "remote link left in %s", p)
	}

	// written before "Deep Page" was discovered, fixed up at the end
	home := files["DOC/Home_1.html"]
	assert.Contains(t, home, `href="Deep%20Page_3.html#usage"`)
	assert.Contains(t, home, `src="attachments/1/diagram.png"`)
	assert.Contains(t, home, `alt="diagram.png"`)

	assert.Contains(t, files["DOC/Deep Page_3.html"], `href="Home_1.html"`)
	assert.Contains(t, files["ENG/Start_10.html"], `href="../DOC/Guide_2.html"`)
}

var hrefPattern = regexp.MustCompile(`(?:href|src)="([^"]*)"`)

// assertLinksResolve checks that every relative link of every page points
// at a file of the mirror
func assertLinksResolve(t *testing.T, files map[string]string) {
	t.Helper()
	for p, content := range files {
		if !strings.HasSuffix(p, ".html") {
			continue
		}
		for _, m := range hrefPattern.FindAllStringSubmatch(content, -1) {
			u, err := url.Parse(m[1])
			if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
				continue
			}
			target := path.Join(path.Dir(p), u.Path)
			assert.Contains(t, files, target, "%s links to missing %s", p, m[1])
		}
	}
}

func TestRunUnlinksSkippedPages(t *testing.T) {
	wiki := newFakeWiki()
	guide := wiki.pages["2"]
	guide.body = `<p><a href="/pages/viewpage.action?pageId=4">missing</a></p>`
	wiki.pages["2"] = guide
	deep := wiki.pages["3"]
	deep.body = `<a href="/pages/viewpage.action?pageId=1">home</a> <a href="/display/DOC/Page+4#intro">sibling</a>`
	wiki.pages["3"] = deep
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	out := t.TempDir()
	exp := newExporter(t, srv, out)
	summary, err := exp.Run(context.Background(), []string{"DOC"})
	require.NoError(t, err)

	skips := summary.Spaces[0].Skips()
	require.Len(t, skips, 1)
	assert.Equal(t, "4", skips[0].ID)
	assert.Equal(t, 2, summary.UnresolvedLinks)

	files := snapshot(t, out)
	assert.NotContains(t, files, "DOC/Page 4_4.html")
	assertLinksResolve(t, files)

	// resolved while page 4 was still expected, withdrawn once it failed
	assert.Contains(t, files["DOC/Guide_2.html"], `href="../unavailable.html" data-mirror-href="page:4"`)
	assert.Contains(t, files["DOC/Deep Page_3.html"], `href="../unavailable.html" data-mirror-href="page:4#intro"`)
	assert.Contains(t, files["DOC/Deep Page_3.html"], `href="Home_1.html"`)
	for p, content := range files {
		assert.NotContains(t, content, "Page%204_4.html", "link to skipped page left in %s", p)
	}

	_, err = exp.Run(context.Background(), []string{"DOC"})
	require.NoError(t, err)
	assert.Equal(t, files, snapshot(t, out))
}

func TestRunWritesLongTitles(t *testing.T) {
	wiki := newFakeWiki()
	start := wiki.pages["10"]
	start.title = strings.Repeat("設計", 60)
	wiki.pages["10"] = start
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	out := t.TempDir()
	summary, err := newExporter(t, srv, out).Run(context.Background(), []string{"ENG"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TotalPages())
	assert.Empty(t, summary.Spaces[0].Skips())

	files := snapshot(t, out)
	assert.Contains(t, files, "ENG/"+strings.Repeat("設計", 33)+"_10.html")
	assertLinksResolve(t, files)
}

func TestRunAbortsOnPersistentIOFailure(t *testing.T) {
	wiki := newFakeWiki()
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	// a file where the space folder belongs makes every write below it fail
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "DOC"), []byte("not a folder"), 0o644))

	exp := newExporter(t, srv, out)
	exp.opts.IOFailureThreshold = 1
	summary, err := exp.Run(context.Background(), []string{"DOC", "ENG"})

	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "local IO failure", abort.Reason)
	assert.ErrorIs(t, err, crawler.ErrPersistentIO)

	assert.Equal(t, report.StatusAborted, summary.Status)
	assert.Equal(t, StateAborted, exp.Phase().State)
	assert.NotEmpty(t, summary.Spaces[0].Skips())
	assert.False(t, wiki.requested("/rest/api/space/ENG/content/page"), "second space must not be crawled")
	assert.NotContains(t, snapshot(t, out), "index.html")
}

func TestRunIsIdempotent(t *testing.T) {
	wiki := newFakeWiki()
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	out := t.TempDir()
	exp := newExporter(t, srv, out)

	_, err := exp.Run(context.Background(), nil)
	require.NoError(t, err)
	first := snapshot(t, out)

	_, err = exp.Run(context.Background(), nil)
	require.NoError(t, err)
	second := snapshot(t, out)

	require.Equal(t, len(first), len(second))
	for p, content := range first {
		assert.Equal(t, content, second[p], "content of %s changed", p)
	}
}

func TestRunAbortsOnAuthFailure(t *testing.T) {
	wiki := newFakeWiki()
	wiki.status["1"] = http.StatusUnauthorized
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	exp := newExporter(t, srv, t.TempDir())
	summary, err := exp.Run(context.Background(), []string{"DOC", "ENG"})

	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "authentication failed", abort.Reason)
	assert.True(t, errors.Is(err, confluence.ErrUnauthorized))

	assert.Equal(t, report.StatusAborted, summary.Status)
	assert.Equal(t, StateAborted, exp.Phase().State)
	assert.Len(t, summary.Spaces, 1)
	assert.Empty(t, summary.Spaces[0].Skips())
	assert.False(t, wiki.requested("/rest/api/space/ENG/content/page"), "second space must not be crawled")
}

func TestRunWithoutValidSpaces(t *testing.T) {
	wiki := newFakeWiki()
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	summary, err := newExporter(t, srv, t.TempDir()).Run(context.Background(), []string{"NOPE"})

	assert.ErrorIs(t, err, ErrNoSpaces)
	require.Len(t, summary.SkippedSpaces, 1)
	assert.Equal(t, "NOPE", summary.SkippedSpaces[0].ID)
}

func TestRunSkipsUnknownSpace(t *testing.T) {
	wiki := newFakeWiki()
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	summary, err := newExporter(t, srv, t.TempDir()).Run(context.Background(), []string{"ENG", "NOPE"})
	require.NoError(t, err)

	assert.Len(t, summary.Spaces, 1)
	assert.Len(t, summary.SkippedSpaces, 1)
}

func TestRunRecordsManifest(t *testing.T) {
	wiki := newFakeWiki()
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	manifest, err := report.OpenManifest(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer manifest.Close()

	exp := newExporter(t, srv, t.TempDir())
	exp.SetRecorder(manifest)
	summary, err := exp.Run(context.Background(), []string{"DOC"})
	require.NoError(t, err)

	runs, err := manifest.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)
	assert.Equal(t, report.StatusDone, runs[0].Status)
	assert.Equal(t, 3, runs[0].Pages)
}

func TestRunHonoursCancellation(t *testing.T) {
	wiki := newFakeWiki()
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newExporter(t, srv, t.TempDir()).Run(ctx, nil)

	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "cancelled", abort.Reason)
	assert.Equal(t, report.StatusAborted, summary.Status)
}

type recordingPublisher struct {
	mu    sync.Mutex
	pages []string
}

func (p *recordingPublisher) Publish(_ context.Context, _ models.Space, page *models.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, page.ID)
	if page.ID == "2" {
		return errors.New("publish rejected")
	}
	return nil
}

func TestRunPublishesWrittenPages(t *testing.T) {
	wiki := newFakeWiki()
	srv := httptest.NewServer(wiki.handler())
	defer srv.Close()

	pub := &recordingPublisher{}
	exp := newExporter(t, srv, t.TempDir())
	exp.SetPublisher(pub)

	summary, err := exp.Run(context.Background(), []string{"DOC"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"1", "2", "3"}, pub.pages)
	assert.Equal(t, 1, summary.Spaces[0].PublishFailures())
	assert.Equal(t, 3, summary.Spaces[0].Pages())
}
