// Package notion publishes exported pages to a Notion workspace, one
// inline database per space.
package notion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jomei/notionapi"

	"github.com/takak2166/confluence2local/internal/logger"
	"github.com/takak2166/confluence2local/internal/models"
)

const (
	// maxBlocksPerRequest is the number of children Notion accepts per call
	maxBlocksPerRequest = 100
	createAttempts      = 3
)

// Client wraps the Notion API client
type Client struct {
	workspace  Workspace
	parentID   notionapi.PageID
	retryDelay time.Duration

	mu        sync.Mutex
	databases map[string]notionapi.DatabaseID
}

// New creates a new Notion client
func New(apiKey, parentPageID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("notion API key is not set")
	}
	if parentPageID == "" {
		return nil, errors.New("notion parent page id is not set")
	}
	return NewWithWorkspace(newSDKWorkspace(notionapi.NewClient(notionapi.Token(apiKey))), parentPageID), nil
}

// NewWithWorkspace creates a client on top of an existing Workspace
func NewWithWorkspace(workspace Workspace, parentPageID string) *Client {
	return &Client{
		workspace:  workspace,
		parentID:   notionapi.PageID(parentPageID),
		retryDelay: time.Second,
		databases:  make(map[string]notionapi.DatabaseID),
	}
}

// WithRetryDelay sets the pause between page creation attempts
func (c *Client) WithRetryDelay(d time.Duration) *Client {
	c.retryDelay = d
	return c
}

// Publish creates page as a row of the database of its space
func (c *Client) Publish(ctx context.Context, space models.Space, page *models.Page) error {
	logger.Debug("Creating Notion page", map[string]interface{}{
		"space": space.Key,
		"title": page.Title,
	})

	dbID, err := c.spaceDatabase(ctx, space)
	if err != nil {
		return err
	}

	blocks := ConvertHTML(page.Body)
	first := blocks
	if len(first) > maxBlocksPerRequest {
		first = blocks[:maxBlocksPerRequest]
	}

	params := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       "database_id",
			DatabaseID: dbID,
		},
		Properties: notionapi.Properties{
			"Name": notionapi.TitleProperty{
				Title: richText(page.Title),
			},
			"Page ID": notionapi.RichTextProperty{
				RichText: richText(page.ID),
			},
		},
		Children: first,
	}

	created, err := c.createPage(ctx, params)
	if err != nil {
		return err
	}

	for start := len(first); start < len(blocks); start += maxBlocksPerRequest {
		end := start + maxBlocksPerRequest
		if end > len(blocks) {
			end = len(blocks)
		}
		_, err := c.workspace.Rows().AppendChildren(ctx, notionapi.BlockID(created.ID), &notionapi.AppendBlockChildrenRequest{
			Children: blocks[start:end],
		})
		if err != nil {
			return fmt.Errorf("failed to append blocks to page %s: %w", page.ID, err)
		}
	}

	logger.Info("Successfully created Notion page", map[string]interface{}{
		"space":  space.Key,
		"title":  page.Title,
		"blocks": len(blocks),
	})
	return nil
}

// createPage retries page creation up to createAttempts times
func (c *Client) createPage(ctx context.Context, params *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	var err error
	for i := 0; i < createAttempts; i++ {
		var page *notionapi.Page
		page, err = c.workspace.Rows().Create(ctx, params)
		if err == nil {
			return page, nil
		}
		if i == createAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return nil, fmt.Errorf("failed to create page after %d attempts: %w", createAttempts, err)
}

// spaceDatabase finds or creates the database of a space. The lock is held
// across the lookup so concurrent pages of one space share one database.
func (c *Client) spaceDatabase(ctx context.Context, space models.Space) (notionapi.DatabaseID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.databases[space.Key]; ok {
		return id, nil
	}

	name := space.Title()
	results, err := c.workspace.Databases().Search(ctx, &notionapi.SearchRequest{
		Query: name,
		Filter: notionapi.SearchFilter{
			Property: "object",
			Value:    "database",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to search for existing database: %w", err)
	}

	for _, result := range results.Results {
		if db, ok := result.(*notionapi.Database); ok {
			if len(db.Title) > 0 && db.Title[0].Text != nil && db.Title[0].Text.Content == name {
				id := notionapi.DatabaseID(db.ID)
				c.databases[space.Key] = id
				return id, nil
			}
		}
	}

	db, err := c.workspace.Databases().Create(ctx, &notionapi.DatabaseCreateRequest{
		Parent: notionapi.Parent{
			Type:   "page_id",
			PageID: c.parentID,
		},
		Title: richText(name),
		Properties: notionapi.PropertyConfigs{
			"Name": notionapi.TitlePropertyConfig{
				Type:  "title",
				Title: struct{}{},
			},
			"Page ID": notionapi.RichTextPropertyConfig{
				Type:     "rich_text",
				RichText: struct{}{},
			},
		},
		IsInline: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create database for space %s: %w", space.Key, err)
	}

	logger.Info("Created Notion database", map[string]interface{}{
		"space": space.Key,
		"name":  name,
	})
	id := notionapi.DatabaseID(db.ID)
	c.databases[space.Key] = id
	return id, nil
}
