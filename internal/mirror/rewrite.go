package mirror

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlaceholderPath is the mirror path every unresolved reference points at
const PlaceholderPath = "unavailable.html"

const markerPrefix = "data-mirror-"

type target struct {
	selector string
	attr     string
}

var targets = []target{
	{selector: "a[href]", attr: "href"},
	{selector: "img[src]", attr: "src"},
	{selector: "img[data-image-src]", attr: "data-image-src"},
}

var (
	spacesPagePattern = regexp.MustCompile(`^/spaces/([^/]+)/pages/(\d+)(?:/.*)?$`)
	displayPattern    = regexp.MustCompile(`^/display/([^/]+)/([^/]+)/?$`)
	downloadPattern   = regexp.MustCompile(`^/download/(?:attachments|thumbnails)/(\d+)/([^/]+)$`)
)

type refKind string

const (
	refPage       refKind = "page"
	refTitle      refKind = "title"
	refAttachment refKind = "attachment"
)

// reference is a recognized link into the service
type reference struct {
	kind     refKind
	pageID   string
	spaceKey string
	title    string
	filename string
	fragment string
}

// marker serializes the reference so it can be resolved later
func (r reference) marker() string {
	var s string
	switch r.kind {
	case refPage:
		s = "page:" + r.pageID
	case refTitle:
		s = "title:" + r.spaceKey + ":" + url.PathEscape(r.title)
	case refAttachment:
		s = "attachment:" + r.pageID + ":" + url.PathEscape(r.filename)
	}
	if r.fragment != "" {
		s += "#" + url.PathEscape(r.fragment)
	}
	return s
}

func parseMarker(s string) (reference, error) {
	var ref reference
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		frag, err := url.PathUnescape(s[i+1:])
		if err != nil {
			return ref, err
		}
		ref.fragment = frag
		s = s[:i]
	}

	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ref, fmt.Errorf("malformed marker %q", s)
	}
	ref.kind = refKind(kind)

	switch ref.kind {
	case refPage:
		ref.pageID = rest
		return ref, nil
	case refTitle, refAttachment:
		first, second, ok := strings.Cut(rest, ":")
		if !ok {
			return ref, fmt.Errorf("malformed marker %q", s)
		}
		value, err := url.PathUnescape(second)
		if err != nil {
			return ref, err
		}
		if ref.kind == refTitle {
			ref.spaceKey, ref.title = first, value
		} else {
			ref.pageID, ref.filename = first, value
		}
		return ref, nil
	default:
		return ref, fmt.Errorf("unknown marker kind %q", kind)
	}
}

// Rewriter replaces links into the service with relative mirror paths
type Rewriter struct {
	index    *PathIndex
	host     string
	basePath string
}

func NewRewriter(index *PathIndex, baseURL string) (*Rewriter, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &Rewriter{
		index:    index,
		host:     strings.ToLower(u.Host),
		basePath: strings.TrimRight(u.EscapedPath(), "/"),
	}, nil
}

// Rewrite rewrites every reference in doc for a page stored in fromDir and
// returns the number of references left pointing at the placeholder.
// Relative links are never touched, so rewriting twice is a no-op.
func (r *Rewriter) Rewrite(doc *goquery.Document, fromDir string) int {
	unresolved, _ := r.rewrite(doc, fromDir)
	return unresolved
}

// rewrite is Rewrite that also returns the ids of the pages doc now links to
func (r *Rewriter) rewrite(doc *goquery.Document, fromDir string) (int, []string) {
	unresolved := 0
	var linked []string
	for _, t := range targets {
		doc.Find(t.selector).Each(func(_ int, s *goquery.Selection) {
			if _, ok := s.Attr(markerPrefix + t.attr); ok {
				unresolved++
				return
			}
			v, _ := s.Attr(t.attr)
			ref, internal := r.parse(v)
			if !internal {
				return
			}

			if goquery.NodeName(s) == "img" {
				if _, ok := s.Attr("alt"); !ok {
					s.SetAttr("alt", altText(v, ref))
				}
				removeAttr(s, "srcset")
			}

			if ref == nil {
				s.SetAttr(t.attr, relHref(fromDir, PlaceholderPath))
				return
			}
			p, canonical, ok := r.resolve(*ref)
			if ok {
				s.SetAttr(t.attr, withFragment(relHref(fromDir, p), ref.fragment))
				if canonical.kind == refPage {
					linked = append(linked, canonical.pageID)
				}
				return
			}
			s.SetAttr(t.attr, relHref(fromDir, PlaceholderPath))
			s.SetAttr(markerPrefix+t.attr, canonical.marker())
			unresolved++
		})
	}
	return unresolved, linked
}

// ResolvePending retries the references Rewrite could not resolve
func (r *Rewriter) ResolvePending(doc *goquery.Document, fromDir string) (resolved, remaining int) {
	for _, t := range targets {
		name := markerPrefix + t.attr
		doc.Find("[" + name + "]").Each(func(_ int, s *goquery.Selection) {
			m, _ := s.Attr(name)
			ref, err := parseMarker(m)
			if err != nil {
				remaining++
				return
			}
			p, canonical, ok := r.resolve(ref)
			if !ok {
				s.SetAttr(name, canonical.marker())
				remaining++
				return
			}
			s.SetAttr(t.attr, withFragment(relHref(fromDir, p), ref.fragment))
			removeAttr(s, name)
			resolved++
		})
	}
	return resolved, remaining
}

// Unlink points references to withdrawn pages back at the placeholder. The
// result matches what Rewrite produces when the page is withdrawn first.
func (r *Rewriter) Unlink(doc *goquery.Document, fromDir string) int {
	unlinked := 0
	for _, t := range targets {
		doc.Find(t.selector).Each(func(_ int, s *goquery.Selection) {
			if _, ok := s.Attr(markerPrefix + t.attr); ok {
				return
			}
			v, _ := s.Attr(t.attr)
			u, err := url.Parse(v)
			if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" || strings.HasPrefix(u.Path, "/") {
				return
			}
			id, ok := r.index.failedAt(path.Join(fromDir, u.Path))
			if !ok {
				return
			}
			ref := reference{kind: refPage, pageID: id, fragment: u.Fragment}
			s.SetAttr(t.attr, relHref(fromDir, PlaceholderPath))
			s.SetAttr(markerPrefix+t.attr, ref.marker())
			unlinked++
		})
	}
	return unlinked
}

// parse reports whether v points into the service. The returned reference
// is nil for internal links of an unrecognized form.
func (r *Rewriter) parse(v string) (*reference, bool) {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil {
		return nil, false
	}
	switch {
	case u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https":
		return nil, false
	case u.Host != "":
		if strings.ToLower(u.Host) != r.host {
			return nil, false
		}
	case !strings.HasPrefix(u.Path, "/"):
		return nil, false
	}

	p := u.EscapedPath()
	if r.basePath != "" && strings.HasPrefix(p, r.basePath+"/") {
		p = strings.TrimPrefix(p, r.basePath)
	}
	frag := u.Fragment

	if p == "/pages/viewpage.action" {
		q := u.Query()
		if id := q.Get("pageId"); id != "" {
			return &reference{kind: refPage, pageID: id, fragment: frag}, true
		}
		if key, title := q.Get("spaceKey"), q.Get("title"); key != "" && title != "" {
			return &reference{kind: refTitle, spaceKey: key, title: title, fragment: frag}, true
		}
		return nil, true
	}
	if m := spacesPagePattern.FindStringSubmatch(p); m != nil {
		return &reference{kind: refPage, pageID: m[2], fragment: frag}, true
	}
	if m := displayPattern.FindStringSubmatch(p); m != nil {
		key, err1 := url.PathUnescape(m[1])
		title, err2 := url.PathUnescape(strings.ReplaceAll(m[2], "+", " "))
		if err1 != nil || err2 != nil {
			return nil, true
		}
		return &reference{kind: refTitle, spaceKey: key, title: title, fragment: frag}, true
	}
	if m := downloadPattern.FindStringSubmatch(p); m != nil {
		name, err := url.PathUnescape(m[2])
		if err != nil {
			return nil, true
		}
		return &reference{kind: refAttachment, pageID: m[1], filename: name}, true
	}
	return nil, true
}

// resolve looks ref up in the index. A reference to a withdrawn page comes
// back as a page id reference, so its marker does not depend on whether the
// page failed before or after the link was first seen.
func (r *Rewriter) resolve(ref reference) (string, reference, bool) {
	var (
		e              PageEntry
		failed, exists bool
	)
	switch ref.kind {
	case refPage:
		e, failed, exists = r.index.lookupPage(ref.pageID)
	case refTitle:
		e, failed, exists = r.index.lookupTitle(ref.spaceKey, ref.title)
	case refAttachment:
		p, ok := r.index.Attachment(ref.pageID, ref.filename)
		return p, ref, ok
	default:
		return "", ref, false
	}
	switch {
	case !exists:
		return "", ref, false
	case failed:
		return "", reference{kind: refPage, pageID: e.ID, fragment: ref.fragment}, false
	}
	return e.Path, reference{kind: refPage, pageID: e.ID, fragment: ref.fragment}, true
}

func withFragment(href, fragment string) string {
	if fragment == "" {
		return href
	}
	return href + "#" + url.PathEscape(fragment)
}

func altText(v string, ref *reference) string {
	if ref != nil && ref.filename != "" {
		return ref.filename
	}
	u, err := url.Parse(v)
	if err != nil {
		return ""
	}
	name, err := url.PathUnescape(path.Base(u.EscapedPath()))
	if err != nil {
		return path.Base(u.Path)
	}
	return name
}

// removeAttr drops an attribute keeping the order of the others, which
// Selection.RemoveAttr does not.
func removeAttr(s *goquery.Selection, name string) {
	for _, n := range s.Nodes {
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if a.Key != name {
				kept = append(kept, a)
			}
		}
		n.Attr = kept
	}
}
