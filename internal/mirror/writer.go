// Package mirror lays out and writes the offline copy of exported spaces.
package mirror

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/takak2166/confluence2local/internal/logger"
	"github.com/takak2166/confluence2local/internal/models"
)

const filePerm = 0o644

// IOError is a failed local filesystem operation
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// WriterOptions configures a Writer
type WriterOptions struct {
	Root           string
	AttachmentsDir string
	TemplateFile   string
	BaseURL        string
	ForwardStubs   bool
}

// TreeNode is a page in a space's index
type TreeNode struct {
	ID       string
	Title    string
	Children []*TreeNode
}

// WriteResult describes a written page
type WriteResult struct {
	Path       string
	Unresolved int
	// Links holds the ids of the pages the written page links to
	Links []string
}

// Writer materializes pages, attachments and indexes under Root. Distinct
// pages map to distinct paths, so concurrent writes never share a file.
type Writer struct {
	opts     WriterOptions
	index    *PathIndex
	rewriter *Rewriter
	page     *template.Template
}

func NewWriter(opts WriterOptions, index *PathIndex) (*Writer, error) {
	if opts.Root == "" {
		return nil, errors.New("mirror root is required")
	}
	t, err := loadPageTemplate(opts.TemplateFile)
	if err != nil {
		return nil, err
	}
	rw, err := NewRewriter(index, opts.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Writer{
		opts:     opts,
		index:    index,
		rewriter: rw,
		page:     t,
	}, nil
}

// Prepare creates the root folder, optionally emptying it first, and writes
// the placeholder page.
func (w *Writer) Prepare(clean bool) error {
	if clean {
		if err := os.RemoveAll(w.opts.Root); err != nil {
			return &IOError{Op: "clean", Path: w.opts.Root, Err: err}
		}
	}
	if err := os.MkdirAll(w.opts.Root, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: w.opts.Root, Err: err}
	}

	data := pageData{
		Title: "Page not available",
		Body:  template.HTML("<p>The linked page or file is not part of this export.</p>"),
	}
	_, _, err := w.render(PlaceholderPath, data)
	return err
}

// WritePage renders, rewrites and writes a page. The attachments are listed
// at the end of the page.
func (w *Writer) WritePage(space models.Space, page *models.Page, attachments []models.Attachment) (WriteResult, error) {
	entry := w.index.RegisterPage(space.Key, page.ID, page.Title)
	dir := path.Dir(entry.Path)

	data := pageData{
		Title:     page.Title,
		ID:        page.ID,
		SpaceKey:  space.Key,
		SpaceName: space.Title(),
		IndexHref: relHref(dir, SpaceIndexPath(space.Key)),
		Body:      template.HTML(page.Body),
	}
	for _, att := range attachments {
		p, ok := w.index.Attachment(att.PageID, att.Filename)
		if !ok {
			p = w.index.RegisterAttachment(space.Key, att)
		}
		data.Attachments = append(data.Attachments, attachmentLink{
			Name: att.Filename,
			Href: relHref(dir, p),
		})
	}

	unresolved, links, err := w.render(entry.Path, data)
	if err != nil {
		return WriteResult{}, err
	}
	if w.opts.ForwardStubs {
		if err := w.writeStub(page, entry); err != nil {
			return WriteResult{}, err
		}
	}
	return WriteResult{Path: entry.Path, Unresolved: unresolved, Links: links}, nil
}

func (w *Writer) writeStub(page *models.Page, entry PageEntry) error {
	stub := StubPath(entry.SpaceKey, page.ID)
	href := relHref(path.Dir(stub), entry.Path)

	msg, err := renderHTML(forwardTemplate, struct{ Href, Title string }{href, page.Title})
	if err != nil {
		return &IOError{Op: "render", Path: stub, Err: err}
	}
	refresh, err := renderHTML(refreshTemplate, href)
	if err != nil {
		return &IOError{Op: "render", Path: stub, Err: err}
	}
	_, _, err = w.render(stub, pageData{
		Title:     page.Title,
		ID:        page.ID,
		Body:      msg,
		ExtraHead: []template.HTML{refresh},
	})
	return err
}

var refreshTemplate = template.Must(template.New("refresh").Parse(
	`<meta http-equiv="refresh" content="0; url={{.}}">`))

// WriteSpaceIndex writes the nested page tree of a space
func (w *Writer) WriteSpaceIndex(space models.Space, roots []*TreeNode) error {
	p := SpaceIndexPath(space.Key)
	dir := path.Dir(p)

	body, err := renderHTML(treeTemplate, w.treeItems(dir, roots))
	if err != nil {
		return &IOError{Op: "render", Path: p, Err: err}
	}
	_, _, err = w.render(p, pageData{
		Title:     space.Title(),
		SpaceKey:  space.Key,
		SpaceName: "All spaces",
		IndexHref: relHref(dir, "index.html"),
		Body:      body,
	})
	return err
}

func (w *Writer) treeItems(dir string, nodes []*TreeNode) []treeItem {
	items := make([]treeItem, 0, len(nodes))
	for _, n := range nodes {
		e, ok := w.index.Page(n.ID)
		if !ok {
			continue
		}
		items = append(items, treeItem{
			Title:    n.Title,
			Href:     relHref(dir, e.Path),
			Children: w.treeItems(dir, n.Children),
		})
	}
	return items
}

// WriteRootIndex writes the list of exported spaces
func (w *Writer) WriteRootIndex(spaces []models.Space) error {
	sorted := append([]models.Space(nil), spaces...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	items := make([]treeItem, 0, len(sorted))
	for _, s := range sorted {
		items = append(items, treeItem{Title: s.Title(), Href: relHref("", SpaceIndexPath(s.Key))})
	}
	body, err := renderHTML(treeTemplate, items)
	if err != nil {
		return &IOError{Op: "render", Path: "index.html", Err: err}
	}
	_, _, err = w.render("index.html", pageData{Title: "Exported spaces", Body: body})
	return err
}

// WriteAttachment stores attachment bytes at a path from the PathIndex
func (w *Writer) WriteAttachment(relPath string, data []byte) error {
	full := w.fullPath(relPath)
	if err := writeFileAtomic(full, data, filePerm); err != nil {
		return &IOError{Op: "write", Path: full, Err: err}
	}
	return nil
}

// AttachmentExists reports whether a previous run already stored relPath
func (w *Writer) AttachmentExists(relPath string) bool {
	fi, err := os.Stat(w.fullPath(relPath))
	return err == nil && fi.Mode().IsRegular()
}

// Finalize revisits the given pages (id -> path) now that every page of the
// run is known. References to withdrawn pages go back to the placeholder
// and pending references are retried. It returns how many references
// still point at the placeholder.
func (w *Writer) Finalize(pending map[string]string) (int, error) {
	paths := make([]string, 0, len(pending))
	for _, p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	remaining := 0
	for _, p := range paths {
		full := w.fullPath(p)
		data, err := os.ReadFile(full)
		if err != nil {
			return remaining, &IOError{Op: "read", Path: full, Err: err}
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
		if err != nil {
			return remaining, &IOError{Op: "parse", Path: full, Err: err}
		}

		dir := path.Dir(p)
		unlinked := w.rewriter.Unlink(doc, dir)
		resolved, left := w.rewriter.ResolvePending(doc, dir)
		remaining += left

		out, err := canonicalHTML(doc)
		if err != nil {
			return remaining, &IOError{Op: "render", Path: full, Err: err}
		}
		if bytes.Equal(out, data) {
			continue
		}
		if err := writeFileAtomic(full, out, filePerm); err != nil {
			return remaining, &IOError{Op: "write", Path: full, Err: err}
		}
		logger.Debug("Resolved pending links", map[string]interface{}{
			"path":      p,
			"resolved":  resolved,
			"unlinked":  unlinked,
			"remaining": left,
		})
	}
	return remaining, nil
}

// render executes the page template for relPath, rewrites links and writes
// the result. It returns the number of unresolved references and the ids
// of the linked pages.
func (w *Writer) render(relPath string, data pageData) (int, []string, error) {
	full := w.fullPath(relPath)

	var buf bytes.Buffer
	if err := w.page.Execute(&buf, data); err != nil {
		return 0, nil, &IOError{Op: "render", Path: full, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return 0, nil, &IOError{Op: "parse", Path: full, Err: err}
	}
	unresolved, links := w.rewriter.rewrite(doc, path.Dir(relPath))

	out, err := canonicalHTML(doc)
	if err != nil {
		return 0, nil, &IOError{Op: "render", Path: full, Err: err}
	}
	if err := writeFileAtomic(full, out, filePerm); err != nil {
		return 0, nil, &IOError{Op: "write", Path: full, Err: err}
	}
	return unresolved, links, nil
}

func (w *Writer) fullPath(relPath string) string {
	return filepath.Join(w.opts.Root, filepath.FromSlash(relPath))
}

// canonicalHTML serializes doc through one extra parse so that a page
// written directly and a page updated by Finalize end up byte-identical.
func canonicalHTML(doc *goquery.Document) ([]byte, error) {
	first, err := doc.Html()
	if err != nil {
		return nil, err
	}
	again, err := goquery.NewDocumentFromReader(strings.NewReader(first))
	if err != nil {
		return nil, err
	}
	out, err := again.Html()
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}
