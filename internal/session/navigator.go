package session

import (
	"context"
	"sync"

	"github.com/xxxsen/mdraft/internal/bus"
	"github.com/xxxsen/mdraft/internal/diff"
	"github.com/xxxsen/mdraft/internal/model"
	appErr "github.com/xxxsen/mdraft/internal/pkg/errors"
	"github.com/xxxsen/mdraft/internal/richdoc"
	"github.com/xxxsen/mdraft/internal/service"
)

// Preview is a historical version rendered against the live content, with
// inserted and deleted spans annotated. Render-only; nothing here persists.
type Preview struct {
	Doc     *richdoc.Node `json:"doc"`
	Summary diff.Summary  `json:"summary"`
	Version int           `json:"version"`
	Total   int           `json:"total"`
}

// Navigator drives version scrubbing for one session. It holds the unified
// history list, the position being viewed and the edit/preview mode, and
// flips the session's persistence suspension as the user moves between the
// live head and historical entries.
type Navigator struct {
	mu      sync.Mutex
	s       *Session
	entries []model.VersionEntry
	index   int
	mode    Mode
}

func newNavigator(s *Session) *Navigator {
	return &Navigator{s: s, mode: ModeEdit}
}

// Refresh reloads the unified history list and points at the live entry.
func (n *Navigator) Refresh(ctx context.Context) ([]model.VersionEntry, error) {
	entries, err := n.s.store.ListAllVersions(ctx, n.s.UserID(), n.s.DocumentID())
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.entries = entries
	n.index = len(entries) - 1
	n.mu.Unlock()
	return entries, nil
}

func (n *Navigator) Mode() Mode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

func (n *Navigator) Index() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index
}

// Seek positions the navigator on the given version number. Seeking the
// live entry returns to edit mode with a nil preview; any earlier entry
// suspends saving and renders the annotated comparison against live content.
func (n *Navigator) Seek(ctx context.Context, version int) (*Preview, error) {
	n.mu.Lock()
	if len(n.entries) == 0 {
		n.mu.Unlock()
		if _, err := n.Refresh(ctx); err != nil {
			return nil, err
		}
		n.mu.Lock()
	}
	idx := -1
	for i, e := range n.entries {
		if e.Version == version {
			idx = i
			break
		}
	}
	if idx < 0 {
		n.mu.Unlock()
		return nil, appErr.ErrNotFound
	}
	live := idx == len(n.entries)-1
	n.index = idx
	selected := n.entries[idx]
	total := len(n.entries)
	if live {
		n.mode = ModeEdit
	} else {
		n.mode = ModeDiffPreview
	}
	n.mu.Unlock()

	if live {
		n.s.ExitPreview()
		n.s.bus.Publish(bus.Event{
			Topic:      bus.TopicContentPreviewCancel,
			DocumentID: n.s.DocumentID(),
		})
		return nil, nil
	}
	n.s.EnterPreview()
	current := n.s.Content()
	preview := &Preview{
		Doc:     diff.Annotate(selected.Content, current),
		Summary: diff.Summarize(selected.Content, current),
		Version: selected.Version,
		Total:   total,
	}
	n.s.bus.Publish(bus.Event{
		Topic:      bus.TopicContentPreview,
		DocumentID: n.s.DocumentID(),
		Payload:    preview,
	})
	return preview, nil
}

// Latest drops any preview and returns to the live head.
func (n *Navigator) Latest() {
	n.mu.Lock()
	if len(n.entries) > 0 {
		n.index = len(n.entries) - 1
	}
	n.mode = ModeEdit
	n.mu.Unlock()
	n.s.ExitPreview()
	n.s.bus.Publish(bus.Event{
		Topic:      bus.TopicContentPreviewCancel,
		DocumentID: n.s.DocumentID(),
	})
}

// Fork branches a new lineage at the cut point. Pending edits are flushed
// first so the copied chain reflects what the user sees, then the session
// returns to edit mode on the source document; the caller decides whether to
// open the fork.
func (n *Navigator) Fork(ctx context.Context, cut service.ForkCut, title string) (*model.Document, error) {
	n.s.bus.Publish(bus.Event{
		Topic:      bus.TopicForkRequested,
		DocumentID: n.s.DocumentID(),
	})
	forked, err := n.s.store.ForkAt(ctx, n.s.UserID(), n.s.DocumentID(), cut, title)
	if err != nil {
		return nil, err
	}
	n.Latest()
	return forked, nil
}
