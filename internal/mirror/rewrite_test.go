package mirror

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/takak2166/confluence2local/internal/models"
)

const rewriteBody = `<html><body>
<a id="by-id" href="/wiki/pages/viewpage.action?pageId=2#intro">design</a>
<a id="by-title" href="https://wiki.example.com/wiki/display/DOC/Home">home</a>
<a id="missing" href="/wiki/spaces/DOC/pages/99/Missing">missing</a>
<a id="external" href="https://other.example.org/x">external</a>
<a id="anchor" href="#local">anchor</a>
<img id="image" src="/wiki/download/attachments/2/diagram.png?version=1" srcset="/wiki/download/thumbnails/2/diagram.png 2x">
<img id="emoticon" src="/wiki/images/icons/emoticons/smile.svg" alt=":)">
</body></html>`

func newRewriteFixture(t *testing.T) (*PathIndex, *Rewriter) {
	t.Helper()
	index := NewPathIndex("attachments")
	index.RegisterPage("DOC", "1", "Home")
	index.RegisterPage("DOC", "2", "Design Notes")
	index.RegisterAttachment("DOC", models.Attachment{ID: "att7", PageID: "2", Filename: "diagram.png"})

	rw, err := NewRewriter(index, "https://wiki.example.com/wiki")
	if err != nil {
		t.Fatalf("Failed to create rewriter: %v", err)
	}
	return index, rw
}

func parseDoc(t *testing.T, s string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		t.Fatalf("Failed to parse document: %v", err)
	}
	return doc
}

func attr(doc *goquery.Document, id, name string) string {
	v, _ := doc.Find("#" + id).Attr(name)
	return v
}

func TestRewrite(t *testing.T) {
	_, rw := newRewriteFixture(t)
	doc := parseDoc(t, rewriteBody)

	unresolved := rw.Rewrite(doc, "DOC")
	if unresolved != 1 {
		t.Errorf("Expected 1 unresolved reference, got %d", unresolved)
	}

	tests := []struct {
		id       string
		attr     string
		expected string
	}{
		{id: "by-id", attr: "href", expected: "Design%20Notes_2.html#intro"},
		{id: "by-title", attr: "href", expected: "Home_1.html"},
		{id: "missing", attr: "href", expected: "../unavailable.html"},
		{id: "missing", attr: "data-mirror-href", expected: "page:99"},
		{id: "external", attr: "href", expected: "https://other.example.org/x"},
		{id: "anchor", attr: "href", expected: "#local"},
		{id: "image", attr: "src", expected: "attachments/2/diagram.png"},
		{id: "image", attr: "alt", expected: "diagram.png"},
		{id: "emoticon", attr: "src", expected: "../unavailable.html"},
		{id: "emoticon", attr: "alt", expected: ":)"},
	}
	for _, tt := range tests {
		t.Run(tt.id+"/"+tt.attr, func(t *testing.T) {
			if got := attr(doc, tt.id, tt.attr); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}

	if _, ok := doc.Find("#image").Attr("srcset"); ok {
		t.Error("Expected srcset to be removed")
	}
	if _, ok := doc.Find("#emoticon").Attr("data-mirror-src"); ok {
		t.Error("Expected no marker for an unrecognized link")
	}
}

func TestRewriteIsIdempotent(t *testing.T) {
	_, rw := newRewriteFixture(t)
	doc := parseDoc(t, rewriteBody)
	rw.Rewrite(doc, "DOC")
	first, err := doc.Html()
	if err != nil {
		t.Fatal(err)
	}

	again := parseDoc(t, first)
	unresolved := rw.Rewrite(again, "DOC")
	second, err := again.Html()
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("Expected rewriting twice to be a no-op\nfirst:  %s\nsecond: %s", first, second)
	}
	if unresolved != 1 {
		t.Errorf("Expected the pending reference to still count, got %d", unresolved)
	}
}

func TestResolvePending(t *testing.T) {
	index, rw := newRewriteFixture(t)
	doc := parseDoc(t, rewriteBody)
	rw.Rewrite(doc, "DOC")

	resolved, remaining := rw.ResolvePending(doc, "DOC")
	if resolved != 0 || remaining != 1 {
		t.Fatalf("Expected 0/1 before discovery, got %d/%d", resolved, remaining)
	}

	index.RegisterPage("DOC", "99", "Missing")
	resolved, remaining = rw.ResolvePending(doc, "DOC")
	if resolved != 1 || remaining != 0 {
		t.Fatalf("Expected 1/0 after discovery, got %d/%d", resolved, remaining)
	}
	if got := attr(doc, "missing", "href"); got != "Missing_99.html" {
		t.Errorf("Expected resolved href, got %q", got)
	}
	if _, ok := doc.Find("#missing").Attr("data-mirror-href"); ok {
		t.Error("Expected marker to be removed")
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ref  reference
	}{
		{name: "Page", ref: reference{kind: refPage, pageID: "42", fragment: "top"}},
		{name: "Title with separators", ref: reference{kind: refTitle, spaceKey: "DOC", title: "Q1: results #2"}},
		{name: "Attachment", ref: reference{kind: refAttachment, pageID: "7", filename: "a:b#c.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMarker(tt.ref.marker())
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.ref {
				t.Errorf("Expected %+v, got %+v", tt.ref, got)
			}
		})
	}
}

func TestRewriteWithdrawnPage(t *testing.T) {
	index, rw := newRewriteFixture(t)
	index.MarkFailed("2")
	doc := parseDoc(t, rewriteBody)

	if unresolved := rw.Rewrite(doc, "DOC"); unresolved != 2 {
		t.Errorf("Expected 2 unresolved references, got %d", unresolved)
	}
	if got := attr(doc, "by-id", "href"); got != "../unavailable.html" {
		t.Errorf("Expected placeholder, got %q", got)
	}
	if got := attr(doc, "by-id", "data-mirror-href"); got != "page:2#intro" {
		t.Errorf("Expected page marker, got %q", got)
	}
	if got := attr(doc, "by-title", "href"); got != "Home_1.html" {
		t.Errorf("Expected other pages to resolve, got %q", got)
	}
}

// Links resolved before their target failed must end up exactly as if the
// target had failed first.
func TestUnlinkMatchesWithdrawnRewrite(t *testing.T) {
	index, rw := newRewriteFixture(t)
	doc := parseDoc(t, rewriteBody)
	rw.Rewrite(doc, "DOC")

	index.MarkFailed("2")
	if unlinked := rw.Unlink(doc, "DOC"); unlinked != 1 {
		t.Fatalf("Expected 1 unlinked reference, got %d", unlinked)
	}
	got, err := doc.Html()
	if err != nil {
		t.Fatal(err)
	}

	fresh := parseDoc(t, rewriteBody)
	rw.Rewrite(fresh, "DOC")
	want, err := fresh.Html()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Expected identical output\nunlinked:  %s\nrewritten: %s", got, want)
	}

	if unlinked := rw.Unlink(doc, "DOC"); unlinked != 0 {
		t.Errorf("Expected unlinking twice to be a no-op, got %d", unlinked)
	}
}

func TestResolvePendingWithdrawnTitle(t *testing.T) {
	index, rw := newRewriteFixture(t)
	doc := parseDoc(t, `<a id="later" href="/wiki/display/DOC/Later">later</a>`)
	rw.Rewrite(doc, "DOC")
	if got := attr(doc, "later", "data-mirror-href"); got != "title:DOC:Later" {
		t.Fatalf("Expected title marker, got %q", got)
	}

	index.RegisterPage("DOC", "5", "Later")
	index.MarkFailed("5")
	resolved, remaining := rw.ResolvePending(doc, "DOC")
	if resolved != 0 || remaining != 1 {
		t.Fatalf("Expected 0/1, got %d/%d", resolved, remaining)
	}
	if got := attr(doc, "later", "data-mirror-href"); got != "page:5" {
		t.Errorf("Expected marker to name the page id, got %q", got)
	}
	if got := attr(doc, "later", "href"); got != "../unavailable.html" {
		t.Errorf("Expected placeholder, got %q", got)
	}
}
