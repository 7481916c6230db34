package mirror

import (
	"sync"

	"github.com/takak2166/confluence2local/internal/models"
)

// PageEntry is a page known to the mirror, written or not
type PageEntry struct {
	ID       string
	Title    string
	SpaceKey string
	Path     string
}

type titleKey struct {
	spaceKey string
	title    string
}

type attachmentKey struct {
	pageID   string
	filename string
}

// PathIndex maps discovered pages and attachments to their mirror paths.
// Entries are added as soon as an item is discovered so that references
// to it resolve before it is written. It is safe for concurrent use.
type PathIndex struct {
	attachmentsDir string

	mu          sync.RWMutex
	pages       map[string]PageEntry
	titles      map[titleKey]string
	attachments map[attachmentKey]string
	failed      map[string]string
}

func NewPathIndex(attachmentsDir string) *PathIndex {
	return &PathIndex{
		attachmentsDir: attachmentsDir,
		pages:          make(map[string]PageEntry),
		titles:         make(map[titleKey]string),
		attachments:    make(map[attachmentKey]string),
		failed:         make(map[string]string),
	}
}

// RegisterPage assigns a path to a page. A page keeps the path of its
// first registration.
func (x *PathIndex) RegisterPage(spaceKey, id, title string) PageEntry {
	x.mu.Lock()
	defer x.mu.Unlock()

	if e, ok := x.pages[id]; ok {
		return e
	}
	e := PageEntry{
		ID:       id,
		Title:    title,
		SpaceKey: spaceKey,
		Path:     PagePath(spaceKey, id, title),
	}
	x.pages[id] = e

	k := titleKey{spaceKey: spaceKey, title: title}
	if _, ok := x.titles[k]; !ok {
		x.titles[k] = id
	}
	return e
}

// Page returns the entry of a page that can be linked to
func (x *PathIndex) Page(id string) (PageEntry, bool) {
	e, failed, ok := x.lookupPage(id)
	return e, ok && !failed
}

// PageByTitle finds a linkable page by its space and exact title
func (x *PathIndex) PageByTitle(spaceKey, title string) (PageEntry, bool) {
	e, failed, ok := x.lookupTitle(spaceKey, title)
	return e, ok && !failed
}

// MarkFailed withdraws a discovered page that could not be exported.
// References to it resolve to the placeholder from then on.
func (x *PathIndex) MarkFailed(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e, ok := x.pages[id]; ok {
		x.failed[e.Path] = id
	}
}

func (x *PathIndex) lookupPage(id string) (e PageEntry, failed, ok bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok = x.pages[id]
	if ok {
		_, failed = x.failed[e.Path]
	}
	return e, failed, ok
}

func (x *PathIndex) lookupTitle(spaceKey, title string) (PageEntry, bool, bool) {
	x.mu.RLock()
	id, ok := x.titles[titleKey{spaceKey: spaceKey, title: title}]
	x.mu.RUnlock()
	if !ok {
		return PageEntry{}, false, false
	}
	return x.lookupPage(id)
}

// failedAt returns the id of the withdrawn page that owned path p
func (x *PathIndex) failedAt(p string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.failed[p]
	return id, ok
}

// RegisterAttachment assigns and returns the path of an attachment
func (x *PathIndex) RegisterAttachment(spaceKey string, att models.Attachment) string {
	x.mu.Lock()
	defer x.mu.Unlock()

	k := attachmentKey{pageID: att.PageID, filename: att.Filename}
	if p, ok := x.attachments[k]; ok {
		return p
	}
	p := x.AttachmentPath(spaceKey, att)
	x.attachments[k] = p
	return p
}

// AttachmentPath computes the path an attachment gets once registered
func (x *PathIndex) AttachmentPath(spaceKey string, att models.Attachment) string {
	return AttachmentPath(spaceKey, x.attachmentsDir, att.PageID, att.ID, att.Filename)
}

func (x *PathIndex) Attachment(pageID, filename string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.attachments[attachmentKey{pageID: pageID, filename: filename}]
	return p, ok
}

// Len returns the number of registered pages
func (x *PathIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.pages)
}
