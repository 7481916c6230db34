package mirror

import "testing"

func TestPathIndexMarkFailed(t *testing.T) {
	index := NewPathIndex("attachments")
	entry := index.RegisterPage("DOC", "4", "Gone")
	index.RegisterPage("DOC", "5", "Kept")

	index.MarkFailed("4")
	index.MarkFailed("404")

	if _, ok := index.Page("4"); ok {
		t.Error("Expected failed page to be unresolvable by id")
	}
	if _, ok := index.PageByTitle("DOC", "Gone"); ok {
		t.Error("Expected failed page to be unresolvable by title")
	}
	if _, ok := index.Page("5"); !ok {
		t.Error("Expected other pages to stay resolvable")
	}
	if id, ok := index.failedAt(entry.Path); !ok || id != "4" {
		t.Errorf("Expected %s to belong to page 4, got %q", entry.Path, id)
	}
	if again := index.RegisterPage("DOC", "4", "Gone"); again.Path != entry.Path {
		t.Errorf("Expected path to stay stable, got %q", again.Path)
	}
	if _, ok := index.Page("4"); ok {
		t.Error("Expected registering again to keep the page withdrawn")
	}
}
