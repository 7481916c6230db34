package confluence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/takak2166/confluence2local/internal/logger"
	"github.com/takak2166/confluence2local/internal/models"
	"github.com/takak2166/confluence2local/internal/transport"
)

// DefaultPageSize is the limit requested from paginated endpoints
const DefaultPageSize = 25

// Transport performs a GET and returns the fully read response
type Transport interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*transport.Response, error)
}

// Client implements API over a Transport
type Client struct {
	base     *url.URL
	baseURL  string
	pageSize int
	http     Transport
}

// New creates a client for the service rooted at baseURL,
// e.g. "https://wiki.example.com" or "https://example.com/confluence".
func New(baseURL string, pageSize int, t Transport) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{
		base:     u,
		baseURL:  baseURL,
		pageSize: pageSize,
		http:     t,
	}, nil
}

// BaseURL returns the normalized service root
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ListSpaces(ctx context.Context, keys []string) ([]models.Space, error) {
	if len(keys) == 0 {
		first := fmt.Sprintf("%s/rest/api/space?limit=%d&expand=homepage", c.baseURL, c.pageSize)
		items, err := collect(ctx, newPager[spaceJSON](c, "space listing", "*", first))
		if err != nil {
			return nil, err
		}
		spaces := make([]models.Space, 0, len(items))
		for i := range items {
			spaces = append(spaces, toSpace(&items[i]))
		}
		return spaces, nil
	}

	var (
		spaces  []models.Space
		missing []string
		seen    = make(map[string]bool, len(keys))
	)
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true

		space, err := c.getSpace(ctx, key)
		if errors.Is(err, ErrNotFound) {
			logger.Warn("Space not found", map[string]interface{}{
				"space": key,
			})
			missing = append(missing, key)
			continue
		}
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, space)
	}

	if len(missing) > 0 {
		return spaces, &MissingSpacesError{Keys: missing}
	}
	return spaces, nil
}

func (c *Client) getSpace(ctx context.Context, key string) (models.Space, error) {
	u := fmt.Sprintf("%s/rest/api/space/%s?expand=homepage", c.baseURL, url.PathEscape(key))
	body, err := c.get(ctx, u, "space", key)
	if err != nil {
		return models.Space{}, err
	}
	var s spaceJSON
	if err := json.Unmarshal(body, &s); err != nil {
		return models.Space{}, fmt.Errorf("failed to decode space %s: %w", key, err)
	}
	return toSpace(&s), nil
}

func (c *Client) ListRootPages(ctx context.Context, space models.Space) ([]models.PageStub, error) {
	first := fmt.Sprintf("%s/rest/api/space/%s/content/page?depth=root&limit=%d",
		c.baseURL, url.PathEscape(space.Key), c.pageSize)
	items, err := collect(ctx, newPager[contentJSON](c, "space", space.Key, first))
	if err != nil {
		return nil, err
	}

	roots := make([]models.PageStub, 0, len(items)+1)
	if space.HomepageID != "" {
		home := models.PageStub{ID: space.HomepageID, SpaceKey: space.Key}
		for i := range items {
			if items[i].ID == space.HomepageID {
				home.Title = items[i].Title
			}
		}
		roots = append(roots, home)
	}
	for i := range items {
		if items[i].ID == space.HomepageID {
			continue
		}
		roots = append(roots, models.PageStub{
			ID:       items[i].ID,
			Title:    items[i].Title,
			SpaceKey: space.Key,
		})
	}
	return roots, nil
}

func (c *Client) GetPage(ctx context.Context, id string) (*models.Page, error) {
	u := fmt.Sprintf("%s/rest/api/content/%s?expand=space,version,ancestors", c.baseURL, url.PathEscape(id))
	body, err := c.get(ctx, u, "page", id)
	if err != nil {
		return nil, err
	}
	var content contentJSON
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("failed to decode page %s: %w", id, err)
	}

	page := &models.Page{
		ID:       content.ID,
		Title:    content.Title,
		SpaceKey: content.spaceKey(),
		ParentID: content.parentID(),
	}
	if content.Version != nil {
		page.Version = content.Version.Number
	}
	return page, nil
}

func (c *Client) GetPageBody(ctx context.Context, id string) (string, error) {
	u := fmt.Sprintf("%s/rest/api/content/%s?expand=body.view", c.baseURL, url.PathEscape(id))
	body, err := c.get(ctx, u, "page", id)
	if err != nil {
		return "", err
	}
	var content contentJSON
	if err := json.Unmarshal(body, &content); err != nil {
		return "", fmt.Errorf("failed to decode page body %s: %w", id, err)
	}
	if content.Body == nil || content.Body.View == nil {
		return "", nil
	}
	return content.Body.View.Value, nil
}

func (c *Client) ListChildren(ctx context.Context, id string) ([]models.PageStub, error) {
	first := fmt.Sprintf("%s/rest/api/content/%s/child/page?limit=%d", c.baseURL, url.PathEscape(id), c.pageSize)
	items, err := collect(ctx, newPager[contentJSON](c, "page", id, first))
	if err != nil {
		return nil, err
	}
	children := make([]models.PageStub, 0, len(items))
	for i := range items {
		children = append(children, models.PageStub{
			ID:       items[i].ID,
			Title:    items[i].Title,
			SpaceKey: items[i].spaceKey(),
			ParentID: id,
		})
	}
	return children, nil
}

func (c *Client) ListAttachments(ctx context.Context, pageID string) ([]models.Attachment, error) {
	first := fmt.Sprintf("%s/rest/api/content/%s/child/attachment?limit=%d", c.baseURL, url.PathEscape(pageID), c.pageSize)
	items, err := collect(ctx, newPager[contentJSON](c, "page", pageID, first))
	if err != nil {
		return nil, err
	}
	atts := make([]models.Attachment, 0, len(items))
	for i := range items {
		att := models.Attachment{
			ID:          items[i].ID,
			PageID:      pageID,
			Filename:    items[i].Title,
			MediaType:   items[i].mediaType(),
			DownloadURL: items[i].Links.Download,
		}
		if items[i].Extensions != nil {
			att.Size = items[i].Extensions.FileSize
		}
		atts = append(atts, att)
	}
	return atts, nil
}

func (c *Client) DownloadAttachment(ctx context.Context, att models.Attachment) ([]byte, error) {
	if att.DownloadURL == "" {
		return nil, &NotFoundError{Resource: "attachment", ID: att.ID}
	}
	u, err := c.resolve(att.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("invalid download link for attachment %s: %w", att.ID, err)
	}

	header := http.Header{}
	header.Set("Accept", "*/*")
	resp, err := c.http.Get(ctx, u, header)
	if err != nil {
		return nil, mapError(err, "attachment", att.ID)
	}
	return resp.Body, nil
}

func (c *Client) get(ctx context.Context, u, resource, id string) ([]byte, error) {
	resp, err := c.http.Get(ctx, u, nil)
	if err != nil {
		return nil, mapError(err, resource, id)
	}
	return resp.Body, nil
}

// resolve turns a link returned by the service into an absolute URL.
// Links are relative to the base URL but some deployments repeat the
// context path, e.g. "/wiki/rest/api/..." for a base ending in "/wiki".
func (c *Client) resolve(link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return link, nil
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	prefix := strings.TrimRight(c.base.Path, "/")
	if prefix != "" && (link == prefix || strings.HasPrefix(link, prefix+"/")) {
		return c.base.Scheme + "://" + c.base.Host + link, nil
	}
	return c.baseURL + link, nil
}

// mapError downgrades transport status failures to the resource level
// errors callers branch on
func mapError(err error, resource, id string) error {
	status, ok := transport.StatusCode(err)
	if !ok {
		return err
	}
	switch status {
	case http.StatusNotFound:
		return &NotFoundError{Resource: resource, ID: id, Err: err}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{StatusCode: status, Err: err}
	default:
		return err
	}
}

func toSpace(s *spaceJSON) models.Space {
	space := models.Space{Key: s.Key, Name: s.Name}
	if s.Homepage != nil {
		space.HomepageID = s.Homepage.ID
	}
	return space
}
