package crawler

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultIOFailureThreshold is the number of consecutive local write
// failures after which a run is aborted
const DefaultIOFailureThreshold = 5

// ErrPersistentIO reports that local writes keep failing
var ErrPersistentIO = errors.New("persistent local IO failure")

// State is the deduplication and bookkeeping of a single run. It is created
// at run start, shared by every space of the run and discarded afterwards.
type State struct {
	mu          sync.Mutex
	seen        map[string]struct{}
	written     map[string]string
	attachments map[string]struct{}
	pending     map[string]string
	linkedFrom  map[string][]string
	failed      map[string]struct{}
	ioFailures  int
	ioThreshold int
}

func NewState(ioThreshold int) *State {
	if ioThreshold <= 0 {
		ioThreshold = DefaultIOFailureThreshold
	}
	return &State{
		seen:        make(map[string]struct{}),
		written:     make(map[string]string),
		attachments: make(map[string]struct{}),
		pending:     make(map[string]string),
		linkedFrom:  make(map[string][]string),
		failed:      make(map[string]struct{}),
		ioThreshold: ioThreshold,
	}
}

// MarkSeen records a page id and reports whether it was new
func (s *State) MarkSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// ClaimAttachment reports whether the caller is the first to handle the
// attachment in this run
func (s *State) ClaimAttachment(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attachments[id]; ok {
		return false
	}
	s.attachments[id] = struct{}{}
	return true
}

// RecordPage marks a page written along with the pages it links to. Pages
// with unresolved references are kept for the final link pass.
func (s *State) RecordPage(id, path string, unresolved int, links []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written[id] = path
	if unresolved > 0 {
		s.pending[id] = path
	}
	for _, target := range links {
		s.linkedFrom[target] = append(s.linkedFrom[target], id)
	}
	s.ioFailures = 0
}

// RecordFailed marks a discovered page as not exported
func (s *State) RecordFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = struct{}{}
}

func (s *State) Written(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.written[id]
	return ok
}

func (s *State) PagesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

// Pending returns the pages awaiting the final link pass: those with
// unresolved references and those linking to a page that failed.
func (s *State) Pending() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.pending))
	for id, p := range s.pending {
		out[id] = p
	}
	for target := range s.failed {
		for _, id := range s.linkedFrom[target] {
			if p, ok := s.written[id]; ok {
				out[id] = p
			}
		}
	}
	return out
}

// RecordIOSuccess resets the consecutive failure counter
func (s *State) RecordIOSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioFailures = 0
}

// RecordIOFailure counts a failed write and returns ErrPersistentIO once
// the threshold is reached
func (s *State) RecordIOFailure(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioFailures++
	if s.ioFailures >= s.ioThreshold {
		return fmt.Errorf("%w: %d consecutive failures, last: %v", ErrPersistentIO, s.ioFailures, err)
	}
	return nil
}
