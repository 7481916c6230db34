// Package exporter drives a complete export run: it resolves the spaces,
// crawls them one after another and finishes the mirror.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/takak2166/confluence2local/internal/confluence"
	"github.com/takak2166/confluence2local/internal/crawler"
	"github.com/takak2166/confluence2local/internal/logger"
	"github.com/takak2166/confluence2local/internal/mirror"
	"github.com/takak2166/confluence2local/internal/models"
	"github.com/takak2166/confluence2local/internal/report"
	"github.com/takak2166/confluence2local/internal/transport"
)

var (
	ErrNoSpaces       = errors.New("no spaces to export")
	ErrAlreadyRunning = errors.New("export already running")
)

// AbortError is returned when a run stops before every space was attempted
type AbortError struct {
	Reason string
	Err    error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("export aborted (%s): %v", e.Reason, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
	StateAborted State = "aborted"
)

// Phase is the position of the exporter in its run lifecycle. Space is set
// while running.
type Phase struct {
	State State
	Space string
}

func (p Phase) String() string {
	if p.State == StateRunning && p.Space != "" {
		return fmt.Sprintf("%s(%s)", p.State, p.Space)
	}
	return string(p.State)
}

// Recorder keeps finished runs
type Recorder interface {
	Record(ctx context.Context, s *report.Summary) error
}

type Options struct {
	Output         string
	AttachmentsDir string
	TemplateFile   string
	BaseURL        string
	ForwardStubs   bool
	Clean          bool

	IOFailureThreshold int
	Crawl              crawler.Options
}

type Exporter struct {
	api       confluence.API
	opts      Options
	publisher crawler.Publisher
	recorder  Recorder

	mu    sync.Mutex
	phase Phase
}

func New(api confluence.API, opts Options) *Exporter {
	if opts.AttachmentsDir == "" {
		opts.AttachmentsDir = "attachments"
	}
	return &Exporter{
		api:   api,
		opts:  opts,
		phase: Phase{State: StateIdle},
	}
}

func (e *Exporter) SetPublisher(p crawler.Publisher) {
	e.publisher = p
}

func (e *Exporter) SetRecorder(r Recorder) {
	e.recorder = r
}

func (e *Exporter) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Exporter) setPhase(p Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = p
}

// Run exports the spaces with the given keys, or every space when keys is
// empty. All dedup and path state lives for this call only. The summary is
// returned even when the run aborts.
func (e *Exporter) Run(ctx context.Context, keys []string) (*report.Summary, error) {
	e.mu.Lock()
	if e.phase.State == StateRunning {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.phase = Phase{State: StateRunning}
	e.mu.Unlock()

	r := &run{
		Exporter: e,
		summary: &report.Summary{
			RunID:   uuid.NewString(),
			Started: time.Now(),
		},
	}
	logger.Info("Starting export", map[string]interface{}{
		"run_id": r.summary.RunID,
		"output": e.opts.Output,
		"spaces": keys,
	})

	err := r.execute(ctx, keys)
	return r.finish(ctx, err)
}

// run is the state of a single Run call
type run struct {
	*Exporter
	summary *report.Summary
}

func (r *run) execute(ctx context.Context, keys []string) error {
	index := mirror.NewPathIndex(r.opts.AttachmentsDir)
	writer, err := mirror.NewWriter(mirror.WriterOptions{
		Root:           r.opts.Output,
		AttachmentsDir: r.opts.AttachmentsDir,
		TemplateFile:   r.opts.TemplateFile,
		BaseURL:        r.opts.BaseURL,
		ForwardStubs:   r.opts.ForwardStubs,
	}, index)
	if err != nil {
		return err
	}
	if err := writer.Prepare(r.opts.Clean); err != nil {
		return err
	}

	spaces, err := r.resolveSpaces(ctx, keys)
	if err != nil {
		return err
	}

	state := crawler.NewState(r.opts.IOFailureThreshold)
	c := crawler.New(r.api, writer, index, state, r.opts.Crawl)
	if r.publisher != nil {
		c.SetPublisher(r.publisher)
	}

	for _, space := range spaces {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.setPhase(Phase{State: StateRunning, Space: space.Key})

		ss := report.NewSpaceSummary(space)
		r.summary.Spaces = append(r.summary.Spaces, ss)
		if err := c.CrawlSpace(ctx, space, ss); err != nil {
			return err
		}
		logger.Info("Exported space", map[string]interface{}{
			"space":       space.Key,
			"pages":       ss.Pages(),
			"attachments": ss.Attachments(),
			"skipped":     len(ss.Skips()),
		})
	}

	remaining, err := writer.Finalize(state.Pending())
	if err != nil {
		return err
	}
	r.summary.UnresolvedLinks = remaining

	return writer.WriteRootIndex(spaces)
}

// resolveSpaces lists the spaces to export. Unknown keys are recorded and
// skipped; an empty result aborts the run.
func (r *run) resolveSpaces(ctx context.Context, keys []string) ([]models.Space, error) {
	spaces, err := r.api.ListSpaces(ctx, keys)
	var missing *confluence.MissingSpacesError
	switch {
	case errors.As(err, &missing):
		for _, key := range missing.Keys {
			r.summary.SkippedSpaces = append(r.summary.SkippedSpaces, report.Skip{
				Kind:   "space",
				ID:     key,
				Reason: "space not found",
			})
		}
	case err != nil:
		return nil, err
	}

	if len(spaces) == 0 {
		return nil, ErrNoSpaces
	}
	return spaces, nil
}

func (r *run) finish(ctx context.Context, err error) (*report.Summary, error) {
	r.summary.Finished = time.Now()

	var result error
	if err != nil {
		abort := &AbortError{Reason: abortReason(err), Err: err}
		r.summary.Status = report.StatusAborted
		r.summary.AbortReason = abort.Error()
		r.setPhase(Phase{State: StateAborted})
		logger.Error("Export aborted", err, map[string]interface{}{
			"run_id": r.summary.RunID,
			"reason": abort.Reason,
		})
		result = abort
	} else {
		r.summary.Status = report.StatusDone
		r.setPhase(Phase{State: StateDone})
		logger.Info("Export finished", map[string]interface{}{
			"run_id":      r.summary.RunID,
			"pages":       r.summary.TotalPages(),
			"attachments": r.summary.TotalAttachments(),
			"skipped":     r.summary.TotalSkips(),
			"unresolved":  r.summary.UnresolvedLinks,
		})
	}

	if r.recorder != nil {
		// recording must not depend on a cancelled run context
		if rerr := r.recorder.Record(context.WithoutCancel(ctx), r.summary); rerr != nil {
			logger.Error("Failed to record run", rerr, map[string]interface{}{
				"run_id": r.summary.RunID,
			})
		}
	}
	return r.summary, result
}

func abortReason(err error) string {
	var ioErr *mirror.IOError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, confluence.ErrUnauthorized):
		return "authentication failed"
	case errors.Is(err, ErrNoSpaces):
		return "no valid spaces"
	case errors.Is(err, crawler.ErrPersistentIO), errors.As(err, &ioErr):
		return "local IO failure"
	case transport.IsUnreachable(err):
		return "service unreachable"
	default:
		return "unexpected error"
	}
}
