package models

// Space represents an exported Confluence space
type Space struct {
	Key        string
	Name       string
	HomepageID string
}

// Title returns the display name, falling back to the key
func (s Space) Title() string {
	if s.Name == "" {
		return s.Key
	}
	return s.Name
}

// PageStub is a page reference discovered from a listing, before its
// metadata or body has been fetched
type PageStub struct {
	ID       string
	Title    string
	SpaceKey string
	ParentID string // empty for space roots
}

// Page represents a fetched Confluence page
type Page struct {
	ID       string
	Title    string
	SpaceKey string
	ParentID string
	Version  int
	Body     string // rendered view markup
}

// Stub returns the listing form of the page
func (p *Page) Stub() PageStub {
	return PageStub{
		ID:       p.ID,
		Title:    p.Title,
		SpaceKey: p.SpaceKey,
		ParentID: p.ParentID,
	}
}

// Attachment represents a file attached to a page
type Attachment struct {
	ID          string
	PageID      string
	Filename    string
	MediaType   string
	Size        int64
	DownloadURL string // as returned by the service, usually relative to the base URL
}
