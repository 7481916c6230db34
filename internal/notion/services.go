package notion

import (
	"context"

	"github.com/jomei/notionapi"
)

//go:generate mockgen -source=services.go -destination=mock_notion/mock_services.go -package=mock_notion

// Workspace is the part of the Notion API the publisher writes through
type Workspace interface {
	Rows() RowWriter
	Databases() DatabaseDirectory
}

// RowWriter creates database rows and fills in their content
type RowWriter interface {
	Create(context.Context, *notionapi.PageCreateRequest) (*notionapi.Page, error)
	AppendChildren(context.Context, notionapi.BlockID, *notionapi.AppendBlockChildrenRequest) (*notionapi.AppendBlockChildrenResponse, error)
}

// DatabaseDirectory finds and creates the per-space databases
type DatabaseDirectory interface {
	Search(context.Context, *notionapi.SearchRequest) (*notionapi.SearchResponse, error)
	Create(context.Context, *notionapi.DatabaseCreateRequest) (*notionapi.Database, error)
}

type sdkWorkspace struct {
	client *notionapi.Client
}

func newSDKWorkspace(client *notionapi.Client) Workspace {
	return &sdkWorkspace{client: client}
}

func (w *sdkWorkspace) Rows() RowWriter {
	return sdkRows{client: w.client}
}

func (w *sdkWorkspace) Databases() DatabaseDirectory {
	return sdkDatabases{client: w.client}
}

// sdkRows splits row writes over the page and block services
type sdkRows struct {
	client *notionapi.Client
}

func (r sdkRows) Create(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return r.client.Page.Create(ctx, req)
}

func (r sdkRows) AppendChildren(ctx context.Context, id notionapi.BlockID, req *notionapi.AppendBlockChildrenRequest) (*notionapi.AppendBlockChildrenResponse, error) {
	return r.client.Block.AppendChildren(ctx, id, req)
}

// sdkDatabases pairs database search with database creation
type sdkDatabases struct {
	client *notionapi.Client
}

func (d sdkDatabases) Search(ctx context.Context, req *notionapi.SearchRequest) (*notionapi.SearchResponse, error) {
	return d.client.Search.Do(ctx, req)
}

func (d sdkDatabases) Create(ctx context.Context, req *notionapi.DatabaseCreateRequest) (*notionapi.Database, error) {
	return d.client.Database.Create(ctx, req)
}
