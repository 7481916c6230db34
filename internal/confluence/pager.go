package confluence

import (
	"context"
	"encoding/json"
	"fmt"
)

// pager walks a paginated listing one request at a time. It keeps only the
// cursor and the set of URLs already requested, never the results.
type pager[T any] struct {
	c        *Client
	resource string
	id       string
	next     string
	visited  map[string]struct{}
}

func newPager[T any](c *Client, resource, id, first string) *pager[T] {
	return &pager[T]{
		c:        c,
		resource: resource,
		id:       id,
		next:     first,
		visited:  make(map[string]struct{}),
	}
}

// More reports whether another request is due
func (p *pager[T]) More() bool {
	return p.next != ""
}

// Next fetches the current page of results and advances the cursor
func (p *pager[T]) Next(ctx context.Context) ([]T, error) {
	if p.next == "" {
		return nil, nil
	}
	u := p.next
	if _, ok := p.visited[u]; ok {
		return nil, fmt.Errorf("pagination loop at %s", u)
	}
	p.visited[u] = struct{}{}

	body, err := p.c.get(ctx, u, p.resource, p.id)
	if err != nil {
		return nil, err
	}

	var page resultPage[T]
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode listing %s: %w", u, err)
	}

	p.next = ""
	if page.Links.Next != "" {
		next, err := p.c.resolve(page.Links.Next)
		if err != nil {
			return nil, fmt.Errorf("invalid next link %q: %w", page.Links.Next, err)
		}
		p.next = next
	}
	return page.Results, nil
}

// collect drains a pager
func collect[T any](ctx context.Context, p *pager[T]) ([]T, error) {
	var all []T
	for p.More() {
		items, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}
