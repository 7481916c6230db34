// Package crawler walks the page tree of a space and hands every page and
// attachment to the mirror writer.
package crawler

import (
	"context"
	"errors"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/takak2166/confluence2local/internal/confluence"
	"github.com/takak2166/confluence2local/internal/logger"
	"github.com/takak2166/confluence2local/internal/mirror"
	"github.com/takak2166/confluence2local/internal/models"
	"github.com/takak2166/confluence2local/internal/report"
	"github.com/takak2166/confluence2local/internal/transport"
)

const DefaultConcurrency = 4

// Writer is the part of the mirror the crawler writes through
type Writer interface {
	WritePage(space models.Space, page *models.Page, attachments []models.Attachment) (mirror.WriteResult, error)
	WriteAttachment(relPath string, data []byte) error
	AttachmentExists(relPath string) bool
	WriteSpaceIndex(space models.Space, roots []*mirror.TreeNode) error
}

// Publisher receives every written page. Publish failures never affect
// the mirror.
type Publisher interface {
	Publish(ctx context.Context, space models.Space, page *models.Page) error
}

type Options struct {
	Concurrency             int
	SkipExtensions          []string
	SkipExistingAttachments bool
}

type Crawler struct {
	api       confluence.API
	writer    Writer
	index     *mirror.PathIndex
	state     *State
	opts      Options
	publisher Publisher
}

func New(api confluence.API, writer Writer, index *mirror.PathIndex, state *State, opts Options) *Crawler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Crawler{
		api:    api,
		writer: writer,
		index:  index,
		state:  state,
		opts:   opts,
	}
}

// SetPublisher enables a secondary sink for written pages
func (c *Crawler) SetPublisher(p Publisher) {
	c.publisher = p
}

type queued struct {
	stub models.PageStub
	node *mirror.TreeNode
}

type visitResult struct {
	title    string
	children []models.PageStub
}

// CrawlSpace exports every page reachable from the roots of space. Pages
// are visited level by level; within a level up to Concurrency pages are
// processed at once. Only fatal errors are returned, everything else is
// recorded in summary.
func (c *Crawler) CrawlSpace(ctx context.Context, space models.Space, summary *report.SpaceSummary) error {
	roots, err := c.api.ListRootPages(ctx, space)
	if err != nil {
		if c.fatal(ctx, err) {
			return err
		}
		c.skip(summary, "space", space.Key, space.Title(), err)
		return nil
	}

	var (
		tree     []*mirror.TreeNode
		frontier []queued
	)
	for _, r := range roots {
		if !c.state.MarkSeen(r.ID) {
			continue
		}
		r.SpaceKey = space.Key
		c.register(r)
		node := &mirror.TreeNode{ID: r.ID, Title: r.Title}
		tree = append(tree, node)
		frontier = append(frontier, queued{stub: r, node: node})
	}

	for depth := 0; len(frontier) > 0; depth++ {
		logger.Debug("Crawling level", map[string]interface{}{
			"space": space.Key,
			"depth": depth,
			"pages": len(frontier),
		})

		results := make([]visitResult, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.opts.Concurrency)
		for i := range frontier {
			i := i
			g.Go(func() error {
				res, err := c.visit(gctx, space, frontier[i].stub, summary)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// Enqueue serially so the traversal order only depends on the tree.
		var next []queued
		for i, q := range frontier {
			res := results[i]
			if res.title != "" {
				q.node.Title = res.title
			}
			for _, child := range res.children {
				if !c.state.MarkSeen(child.ID) {
					continue
				}
				node := &mirror.TreeNode{ID: child.ID, Title: child.Title}
				q.node.Children = append(q.node.Children, node)
				next = append(next, queued{stub: child, node: node})
			}
		}
		frontier = next
	}

	if err := c.writer.WriteSpaceIndex(space, c.prune(tree)); err != nil {
		if ferr := c.ioFailure(summary, "index", space.Key, space.Title(), err); ferr != nil {
			return ferr
		}
	}
	return nil
}

// visit processes one page. A returned error aborts the run.
func (c *Crawler) visit(ctx context.Context, space models.Space, stub models.PageStub, summary *report.SpaceSummary) (visitResult, error) {
	if err := ctx.Err(); err != nil {
		return visitResult{}, err
	}

	page, err := c.api.GetPage(ctx, stub.ID)
	if err != nil {
		return visitResult{}, c.pageError(ctx, summary, stub, err)
	}
	page.SpaceKey = space.Key
	c.register(page.Stub())

	atts, err := c.api.ListAttachments(ctx, page.ID)
	if err != nil {
		if c.fatal(ctx, err) {
			return visitResult{}, err
		}
		c.skip(summary, "attachments", page.ID, page.Title, err)
		atts = nil
	}
	kept, err := c.fetchAttachments(ctx, space, atts, summary)
	if err != nil {
		return visitResult{}, err
	}

	children, err := c.api.ListChildren(ctx, page.ID)
	if err != nil {
		if c.fatal(ctx, err) {
			return visitResult{}, err
		}
		c.skip(summary, "children", page.ID, page.Title, err)
		children = nil
	}

	body, err := c.api.GetPageBody(ctx, page.ID)
	if err != nil {
		return visitResult{title: page.Title}, c.pageError(ctx, summary, page.Stub(), err)
	}
	page.Body = body

	for i := range children {
		children[i].SpaceKey = space.Key
		children[i].ParentID = page.ID
		c.register(children[i])
	}
	res := visitResult{title: page.Title, children: children}

	written, err := c.writer.WritePage(space, page, kept)
	if err != nil {
		c.withdraw(page.ID)
		return res, c.ioFailure(summary, "page", page.ID, page.Title, err)
	}
	c.state.RecordPage(page.ID, written.Path, written.Unresolved, written.Links)
	summary.RecordPage()

	logger.Debug("Wrote page", map[string]interface{}{
		"space":      space.Key,
		"page_id":    page.ID,
		"path":       written.Path,
		"unresolved": written.Unresolved,
	})

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, space, page); err != nil {
			logger.Error("Failed to publish page", err, map[string]interface{}{
				"page_id": page.ID,
			})
			summary.RecordPublishFailure()
		}
	}
	return res, nil
}

// fetchAttachments downloads and stores the attachments of a page and
// returns those available in the mirror.
func (c *Crawler) fetchAttachments(ctx context.Context, space models.Space, atts []models.Attachment, summary *report.SpaceSummary) ([]models.Attachment, error) {
	var kept []models.Attachment
	for _, att := range atts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.skipExtension(att.Filename) {
			summary.RecordSkip(report.Skip{Kind: "attachment", ID: att.ID, Title: att.Filename, Reason: "extension excluded"})
			continue
		}
		p := c.index.AttachmentPath(space.Key, att)

		if !c.state.ClaimAttachment(att.ID) {
			if _, ok := c.index.Attachment(att.PageID, att.Filename); ok {
				kept = append(kept, att)
			}
			continue
		}
		if c.opts.SkipExistingAttachments && c.writer.AttachmentExists(p) {
			c.index.RegisterAttachment(space.Key, att)
			kept = append(kept, att)
			continue
		}

		data, err := c.api.DownloadAttachment(ctx, att)
		if err != nil {
			if c.fatal(ctx, err) {
				return nil, err
			}
			c.skip(summary, "attachment", att.ID, att.Filename, err)
			continue
		}
		if err := c.writer.WriteAttachment(p, data); err != nil {
			if ferr := c.ioFailure(summary, "attachment", att.ID, att.Filename, err); ferr != nil {
				return nil, ferr
			}
			continue
		}
		c.state.RecordIOSuccess()
		c.index.RegisterAttachment(space.Key, att)
		summary.RecordAttachment()
		kept = append(kept, att)
	}
	return kept, nil
}

// register makes a discovered page resolvable. Stubs without a title are
// registered once their metadata is fetched.
func (c *Crawler) register(stub models.PageStub) {
	if stub.Title == "" {
		return
	}
	c.index.RegisterPage(stub.SpaceKey, stub.ID, stub.Title)
}

func (c *Crawler) pageError(ctx context.Context, summary *report.SpaceSummary, stub models.PageStub, err error) error {
	if c.fatal(ctx, err) {
		return err
	}
	c.withdraw(stub.ID)
	c.skip(summary, "page", stub.ID, stub.Title, err)
	return nil
}

// withdraw turns links to a page that will not be written into
// placeholder links
func (c *Crawler) withdraw(id string) {
	c.index.MarkFailed(id)
	c.state.RecordFailed(id)
}

// fatal reports whether err must abort the whole run: rejected
// credentials, an unreachable service or cancellation.
func (c *Crawler) fatal(ctx context.Context, err error) bool {
	return errors.Is(err, confluence.ErrUnauthorized) ||
		errors.Is(err, ErrPersistentIO) ||
		transport.IsUnreachable(err) ||
		ctx.Err() != nil
}

func (c *Crawler) skip(summary *report.SpaceSummary, kind, id, title string, err error) {
	logger.Warn("Skipped "+kind, map[string]interface{}{
		"id":     id,
		"title":  title,
		"reason": err.Error(),
	})
	summary.RecordSkip(report.Skip{Kind: kind, ID: id, Title: title, Reason: err.Error()})
}

// ioFailure records a failed local write and returns ErrPersistentIO when
// failures keep repeating
func (c *Crawler) ioFailure(summary *report.SpaceSummary, kind, id, title string, err error) error {
	c.skip(summary, kind, id, title, err)
	var ioErr *mirror.IOError
	if !errors.As(err, &ioErr) {
		return nil
	}
	return c.state.RecordIOFailure(err)
}

func (c *Crawler) skipExtension(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	for _, skip := range c.opts.SkipExtensions {
		if strings.TrimPrefix(strings.ToLower(skip), ".") == ext {
			return true
		}
	}
	return false
}

// prune drops pages that were discovered but not written
func (c *Crawler) prune(nodes []*mirror.TreeNode) []*mirror.TreeNode {
	kept := nodes[:0]
	for _, n := range nodes {
		if !c.state.Written(n.ID) {
			continue
		}
		n.Children = c.prune(n.Children)
		kept = append(kept, n)
	}
	return kept
}
