// Package report collects per-space outcomes of an export run and keeps a
// history of finished runs.
package report

import (
	"sort"
	"sync"
	"time"

	"github.com/takak2166/confluence2local/internal/models"
)

type Status string

const (
	StatusDone    Status = "done"
	StatusAborted Status = "aborted"
)

// Skip is an item that was not exported, with the reason why
type Skip struct {
	Kind   string
	ID     string
	Title  string
	Reason string
}

// SpaceSummary counts the outcomes of one space. Workers record into it
// concurrently.
type SpaceSummary struct {
	Key  string
	Name string

	mu              sync.Mutex
	pages           int
	attachments     int
	publishFailures int
	skips           []Skip
}

func NewSpaceSummary(space models.Space) *SpaceSummary {
	return &SpaceSummary{Key: space.Key, Name: space.Title()}
}

func (s *SpaceSummary) RecordPage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages++
}

func (s *SpaceSummary) RecordAttachment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments++
}

func (s *SpaceSummary) RecordSkip(skip Skip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips = append(s.skips, skip)
}

func (s *SpaceSummary) RecordPublishFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishFailures++
}

func (s *SpaceSummary) Pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}

func (s *SpaceSummary) Attachments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachments
}

func (s *SpaceSummary) PublishFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishFailures
}

// Skips returns the recorded skips ordered by kind and id
func (s *SpaceSummary) Skips() []Skip {
	s.mu.Lock()
	out := append([]Skip(nil), s.skips...)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Summary is the outcome of a whole run
type Summary struct {
	RunID           string
	Started         time.Time
	Finished        time.Time
	Status          Status
	AbortReason     string
	Spaces          []*SpaceSummary
	SkippedSpaces   []Skip
	UnresolvedLinks int
}

func (s *Summary) TotalPages() int {
	n := 0
	for _, sp := range s.Spaces {
		n += sp.Pages()
	}
	return n
}

func (s *Summary) TotalAttachments() int {
	n := 0
	for _, sp := range s.Spaces {
		n += sp.Attachments()
	}
	return n
}

func (s *Summary) TotalSkips() int {
	n := len(s.SkippedSpaces)
	for _, sp := range s.Spaces {
		n += len(sp.Skips())
	}
	return n
}
