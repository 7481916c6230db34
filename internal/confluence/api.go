// Package confluence provides typed access to the Confluence REST API.
package confluence

import (
	"context"

	"github.com/takak2166/confluence2local/internal/models"
)

//go:generate mockgen -source=api.go -destination=mock_confluence/mock_api.go -package=mock_confluence

// API is the set of remote operations an export needs
type API interface {
	// ListSpaces resolves keys to spaces. With no keys every visible space
	// is returned. Unknown keys are reported through *MissingSpacesError
	// together with the spaces that were found.
	ListSpaces(ctx context.Context, keys []string) ([]models.Space, error)
	// ListRootPages returns the top level pages of a space, homepage first.
	ListRootPages(ctx context.Context, space models.Space) ([]models.PageStub, error)
	GetPage(ctx context.Context, id string) (*models.Page, error)
	GetPageBody(ctx context.Context, id string) (string, error)
	ListChildren(ctx context.Context, id string) ([]models.PageStub, error)
	ListAttachments(ctx context.Context, pageID string) ([]models.Attachment, error)
	DownloadAttachment(ctx context.Context, att models.Attachment) ([]byte, error)
}
