package report

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takak2166/confluence2local/internal/models"
)

func sampleSummary(runID string, started time.Time) *Summary {
	doc := NewSpaceSummary(models.Space{Key: "DOC", Name: "Documentation"})
	doc.RecordPage()
	doc.RecordPage()
	doc.RecordAttachment()
	doc.RecordSkip(Skip{Kind: "page", ID: "9", Title: "Gone", Reason: "not found"})

	return &Summary{
		RunID:         runID,
		Started:       started,
		Finished:      started.Add(time.Second),
		Status:        StatusDone,
		Spaces:        []*SpaceSummary{doc},
		SkippedSpaces: []Skip{{Kind: "space", ID: "NOPE", Reason: "not found"}},
	}
}

func TestSpaceSummaryConcurrentRecording(t *testing.T) {
	s := NewSpaceSummary(models.Space{Key: "DOC"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordPage()
			s.RecordAttachment()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Pages())
	assert.Equal(t, 50, s.Attachments())
	assert.Equal(t, "DOC", s.Name, "name falls back to the key")
}

func TestSkipsAreOrdered(t *testing.T) {
	s := NewSpaceSummary(models.Space{Key: "DOC"})
	s.RecordSkip(Skip{Kind: "page", ID: "3"})
	s.RecordSkip(Skip{Kind: "attachment", ID: "9"})
	s.RecordSkip(Skip{Kind: "page", ID: "1"})

	assert.Equal(t, []Skip{
		{Kind: "attachment", ID: "9"},
		{Kind: "page", ID: "1"},
		{Kind: "page", ID: "3"},
	}, s.Skips())
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleSummary("run-1", time.Now())))

	out := buf.String()
	assert.Contains(t, out, "run run-1: done")
	assert.Contains(t, out, "DOC (Documentation)")
	assert.Contains(t, out, "pages written: 2")
	assert.Contains(t, out, "attachments written: 1")
	assert.Contains(t, out, `page 9 "Gone": not found`)
	assert.Contains(t, out, "skipped spaces: 1")
}

func TestManifest(t *testing.T) {
	ctx := context.Background()
	m, err := OpenManifest(filepath.Join(t.TempDir(), "state", "manifest.db"))
	require.NoError(t, err)
	defer m.Close()

	base := time.Unix(1700000000, 0)
	require.NoError(t, m.Record(ctx, sampleSummary("older", base)))
	require.NoError(t, m.Record(ctx, sampleSummary("newer", base.Add(time.Hour))))

	runs, err := m.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].RunID)
	assert.Equal(t, "older", runs[1].RunID)
	assert.Equal(t, StatusDone, runs[0].Status)
	assert.Equal(t, 2, runs[0].Pages)
	assert.Equal(t, 1, runs[0].Attachments)
	assert.Equal(t, 2, runs[0].Skips)
	assert.True(t, runs[1].Started.Equal(base))

	limited, err := m.Runs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	items, err := m.Items(ctx, "older")
	require.NoError(t, err)
	assert.Equal(t, []Skip{
		{Kind: "space", ID: "NOPE", Reason: "not found"},
		{Kind: "page", ID: "9", Title: "Gone", Reason: "not found"},
	}, items)
}
