package report

import (
	"fmt"
	"io"

	"github.com/disiqueira/gotree/v3"
)

// Render prints the summary as a tree: run, spaces, counts and skips.
func Render(w io.Writer, s *Summary) error {
	root := gotree.New(fmt.Sprintf("run %s: %s", s.RunID, s.Status))
	if s.AbortReason != "" {
		root.Add("abort reason: " + s.AbortReason)
	}

	for _, sp := range s.Spaces {
		node := root.Add(fmt.Sprintf("%s (%s)", sp.Key, sp.Name))
		node.Add(fmt.Sprintf("pages written: %d", sp.Pages()))
		node.Add(fmt.Sprintf("attachments written: %d", sp.Attachments()))
		if n := sp.PublishFailures(); n > 0 {
			node.Add(fmt.Sprintf("publish failures: %d", n))
		}
		if skips := sp.Skips(); len(skips) > 0 {
			skipped := node.Add(fmt.Sprintf("skipped: %d", len(skips)))
			for _, sk := range skips {
				skipped.Add(describe(sk))
			}
		}
	}

	if len(s.SkippedSpaces) > 0 {
		skipped := root.Add(fmt.Sprintf("skipped spaces: %d", len(s.SkippedSpaces)))
		for _, sk := range s.SkippedSpaces {
			skipped.Add(describe(sk))
		}
	}
	if s.UnresolvedLinks > 0 {
		root.Add(fmt.Sprintf("unresolved links: %d", s.UnresolvedLinks))
	}

	_, err := io.WriteString(w, root.Print())
	return err
}

func describe(sk Skip) string {
	label := sk.Kind + " " + sk.ID
	if sk.Title != "" {
		label += " " + fmt.Sprintf("%q", sk.Title)
	}
	return label + ": " + sk.Reason
}
