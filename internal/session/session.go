package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdraft/internal/bus"
	"github.com/xxxsen/mdraft/internal/model"
	appErr "github.com/xxxsen/mdraft/internal/pkg/errors"
	"github.com/xxxsen/mdraft/internal/richdoc"
	"github.com/xxxsen/mdraft/internal/service"
)

// Store is the slice of the document service a session drives. Declared here
// so tests can swap in a fake without a database.
type Store interface {
	Get(ctx context.Context, userID, docID string) (*model.Document, error)
	Create(ctx context.Context, userID, title, content string) (*model.Document, error)
	UpdateCurrentContent(ctx context.Context, userID, docID, content string) error
	CreateVersionIfChanged(ctx context.Context, userID, docID, content string) (*model.DocumentVersion, error)
	ListAllVersions(ctx context.Context, userID, docID string) ([]model.VersionEntry, error)
	ForkAt(ctx context.Context, userID, docID string, cut service.ForkCut, newTitle string) (*model.Document, error)
}

type Config struct {
	ContentDebounce time.Duration
	VersionDebounce time.Duration
	StreamFlush     time.Duration
	StreamFlushSize int
}

// Session owns the live editing state of one document for one user. Edits
// land here first and reach the store on two cadences: a short content
// debounce that persists the mutable head, and a longer version debounce that
// cuts a history snapshot once typing goes quiet.
//
// A single save is in flight at any time. Edits arriving mid-save mark the
// session for a rerun instead of queueing; the rerun always sends the newest
// content, so intermediate states are deliberately dropped.
type Session struct {
	mu    sync.Mutex
	cfg   Config
	store Store
	bus   *bus.Bus

	userID string
	docID  string
	title  string

	doc   *richdoc.Node
	state SaveState

	pendingCreate bool
	previewing    bool

	// epoch invalidates timer and save continuations after close or rebind.
	epoch   int
	editSeq int64

	inFlight bool
	rerun    bool
	// snapshotOnComplete carries a forced version cut across an in-flight
	// save; the completion holding the newest content performs it.
	snapshotOnComplete bool
	closed             bool
	lastEdit           time.Time

	contentTimer *time.Timer
	versionTimer *time.Timer

	pendingDiff *richdoc.Node

	merger    *StreamMerger
	nav       *Navigator
	disposers []func()
	onCreated func(s *Session, placeholder string)
}

// New builds a session bound to an existing document, seeded with its
// persisted content.
func New(cfg Config, store Store, b *bus.Bus, userID string, doc *model.Document) *Session {
	s := &Session{
		cfg:      cfg,
		store:    store,
		bus:      b,
		userID:   userID,
		docID:    doc.ID,
		title:    doc.Title,
		doc:      richdoc.NormalizeDoc(richdoc.Deserialize(doc.Content)),
		state:    SaveState{Status: StatusIdle},
		lastEdit: time.Now(),
	}
	s.merger = newStreamMerger(s)
	s.nav = newNavigator(s)
	s.subscribe()
	return s
}

// NewPending builds a session for a document that does not exist yet. The
// editor opens with a placeholder id before anything is typed; the real row
// is created lazily on the first save of non-empty content.
func NewPending(cfg Config, store Store, b *bus.Bus, userID, placeholderID, title string) *Session {
	s := &Session{
		cfg:           cfg,
		store:         store,
		bus:           b,
		userID:        userID,
		docID:         placeholderID,
		title:         title,
		doc:           richdoc.NewDoc(),
		state:         SaveState{Status: StatusIdle, PendingCreate: true},
		pendingCreate: true,
		lastEdit:      time.Now(),
	}
	s.merger = newStreamMerger(s)
	s.nav = newNavigator(s)
	s.subscribe()
	return s
}

// subscribe wires the session into the event bus. Subscriptions are
// unfiltered and match the document id at delivery time, because the id of a
// pending session changes once the row is created.
func (s *Session) subscribe() {
	match := func(ev bus.Event) bool {
		s.mu.Lock()
		ok := !s.closed && ev.DocumentID == s.docID
		s.mu.Unlock()
		return ok
	}
	s.disposers = append(s.disposers,
		s.bus.Subscribe(bus.TopicStreamChunk, "", func(ev bus.Event) {
			if match(ev) {
				s.merger.Append(context.Background(), ev.Text)
			}
		}),
		s.bus.Subscribe(bus.TopicStreamFinished, "", func(ev bus.Event) {
			if match(ev) {
				s.merger.Finish(context.Background())
			}
		}),
		s.bus.Subscribe(bus.TopicContentPreviewCancel, "", func(ev bus.Event) {
			if match(ev) {
				s.RejectPendingDiff()
				s.ExitPreview()
			}
		}),
		s.bus.Subscribe(bus.TopicContentApply, "", func(ev bus.Event) {
			if match(ev) {
				s.ApplyPendingDiff(context.Background())
			}
		}),
		s.bus.Subscribe(bus.TopicForkRequested, "", func(ev bus.Event) {
			if match(ev) {
				// Push pending edits down before the lineage is copied so
				// the fork sees the latest live content.
				_ = s.ForceSave(context.Background())
			}
		}),
	)
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) DocumentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docID
}

func (s *Session) State() SaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return richdoc.Serialize(s.doc)
}

func (s *Session) Doc() *richdoc.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *Session) Navigator() *Navigator { return s.nav }

func (s *Session) Merger() *StreamMerger { return s.merger }

func (s *Session) LastEdit() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEdit
}

func (s *Session) IsPreviewing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previewing
}

// Edit replaces the live document with the given content and arms both
// debounce timers. While a historical version is being previewed the edit is
// ignored entirely; browsing history must never overwrite live content.
func (s *Session) Edit(ctx context.Context, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return appErr.ErrSessionClosed
	}
	if s.previewing {
		return nil
	}
	s.doc = richdoc.NormalizeDoc(richdoc.Deserialize(content))
	s.lastEdit = time.Now()
	s.editSeq++
	if s.pendingCreate && strings.TrimSpace(content) == "" {
		// Nothing worth creating a row for yet.
		return nil
	}
	s.state.IsDirty = true
	s.state.Status = StatusDebouncing
	s.armTimersLocked()
	return nil
}

func (s *Session) armTimersLocked() {
	epoch := s.epoch
	if s.contentTimer != nil {
		s.contentTimer.Stop()
	}
	s.contentTimer = time.AfterFunc(s.cfg.ContentDebounce, func() {
		s.persistAsync(epoch)
	})
	if s.versionTimer != nil {
		s.versionTimer.Stop()
	}
	s.versionTimer = time.AfterFunc(s.cfg.VersionDebounce, func() {
		s.snapshotAsync(epoch)
	})
}

func (s *Session) stopTimersLocked() {
	if s.contentTimer != nil {
		s.contentTimer.Stop()
		s.contentTimer = nil
	}
	if s.versionTimer != nil {
		s.versionTimer.Stop()
		s.versionTimer = nil
	}
}

// persistAsync is the content debounce firing. It re-checks every suspension
// condition under the lock because arbitrary time passed since arming.
func (s *Session) persistAsync(epoch int) {
	s.mu.Lock()
	if s.closed || s.previewing || epoch != s.epoch || !s.state.IsDirty {
		s.mu.Unlock()
		return
	}
	if s.inFlight {
		s.rerun = true
		s.mu.Unlock()
		return
	}
	s.beginSaveLocked()
	content := richdoc.Serialize(s.doc)
	seq := s.editSeq
	pending := s.pendingCreate
	docID := s.docID
	s.mu.Unlock()

	ctx := context.Background()
	created, err := s.saveContent(ctx, pending, docID, content)
	s.completeSave(ctx, epoch, seq, content, created, err)
}

func (s *Session) beginSaveLocked() {
	s.inFlight = true
	s.state.Status = StatusSaving
}

func (s *Session) saveContent(ctx context.Context, pending bool, docID, content string) (*model.Document, error) {
	if pending {
		return s.store.Create(ctx, s.userID, s.title, content)
	}
	return nil, s.store.UpdateCurrentContent(ctx, s.userID, docID, content)
}

// completeSave resolves an in-flight save. The session may have been closed
// or edited while the store call ran; the epoch and edit sequence decide how
// much of the result still applies. A requested snapshot is cut here only
// when the saved content is still the newest; otherwise the request survives
// until the rerun completion that has it.
func (s *Session) completeSave(ctx context.Context, epoch int, seq int64, content string, created *model.Document, err error) {
	s.mu.Lock()
	s.inFlight = false
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.state.Status = StatusError
		s.state.ErrorMessage = err.Error()
		docID := s.docID
		s.mu.Unlock()
		logutil.GetLogger(ctx).Error("content save failed",
			zap.String("doc_id", docID),
			zap.Error(err),
		)
		return
	}
	if created != nil {
		placeholder := s.docID
		s.docID = created.ID
		s.pendingCreate = false
		s.state.PendingCreate = false
		if s.onCreated != nil {
			cb := s.onCreated
			sess := s
			defer cb(sess, placeholder)
		}
	}
	s.state.LastSavedAt = time.Now().UnixMilli()
	s.state.ErrorMessage = ""
	snapshot := false
	if s.editSeq != seq {
		// Newer edits landed while this save ran; the timers they armed
		// will send them. The saved snapshot is already stale.
		s.state.Status = StatusDebouncing
	} else {
		s.state.IsDirty = false
		s.state.Status = StatusSaved
		if s.snapshotOnComplete {
			s.snapshotOnComplete = false
			snapshot = true
		}
	}
	if s.rerun {
		s.rerun = false
		epochNow := s.epoch
		s.contentTimer = time.AfterFunc(s.cfg.ContentDebounce, func() {
			s.persistAsync(epochNow)
		})
	}
	docID := s.docID
	s.mu.Unlock()
	if snapshot {
		if _, err := s.store.CreateVersionIfChanged(ctx, s.userID, docID, content); err != nil {
			logutil.GetLogger(ctx).Warn("version snapshot failed",
				zap.String("doc_id", docID),
				zap.Error(err),
			)
		}
	}
}

// snapshotAsync is the version debounce firing: cut a history snapshot of
// whatever content is current. Snapshot failures degrade silently; the fast
// content path keeps the document safe and the next quiet period retries.
func (s *Session) snapshotAsync(epoch int) {
	s.mu.Lock()
	if s.closed || s.previewing || epoch != s.epoch || s.pendingCreate {
		s.mu.Unlock()
		return
	}
	content := richdoc.Serialize(s.doc)
	docID := s.docID
	s.mu.Unlock()

	ctx := context.Background()
	if _, err := s.store.CreateVersionIfChanged(ctx, s.userID, docID, content); err != nil {
		logutil.GetLogger(ctx).Warn("version snapshot failed",
			zap.String("doc_id", docID),
			zap.Error(err),
		)
	}
}

// ForceSave bypasses both debounces: persist the live content now and cut a
// snapshot in the same breath. Used on stream completion, explicit flush and
// before forks. A save already in flight is not duplicated; the rerun flag
// sends the newest content right after it, and the snapshot request rides on
// whichever completion holds that newest content.
func (s *Session) ForceSave(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return appErr.ErrSessionClosed
	}
	if s.previewing {
		s.mu.Unlock()
		return nil
	}
	if s.inFlight {
		s.rerun = true
		s.snapshotOnComplete = true
		s.mu.Unlock()
		return nil
	}
	s.stopTimersLocked()
	if s.pendingCreate && strings.TrimSpace(richdoc.Serialize(s.doc)) == "" {
		s.mu.Unlock()
		return nil
	}
	epoch := s.epoch
	seq := s.editSeq
	pending := s.pendingCreate
	docID := s.docID
	content := richdoc.Serialize(s.doc)
	s.snapshotOnComplete = true
	s.beginSaveLocked()
	s.mu.Unlock()

	created, err := s.saveContent(ctx, pending, docID, content)
	s.completeSave(ctx, epoch, seq, content, created, err)
	return err
}

// Flush is the best-effort save used on tab close and idle reaping.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	dirty := s.state.IsDirty && !s.previewing && !s.closed
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	return s.ForceSave(ctx)
}

// EnterPreview suspends all persistence while a historical version is shown.
func (s *Session) EnterPreview() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.previewing {
		return
	}
	s.previewing = true
	s.stopTimersLocked()
}

// ExitPreview resumes editing with the live content untouched. If edits were
// pending when the preview started they are re-armed, not lost.
func (s *Session) ExitPreview() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.previewing {
		return
	}
	s.previewing = false
	if s.state.IsDirty {
		s.state.Status = StatusDebouncing
		s.armTimersLocked()
	}
}

// applyExternal replaces live content from a non-user source, currently the
// streaming merger. External writes never touch a previewed or closed
// session and persist immediately when asked, without waiting out a debounce.
func (s *Session) applyExternal(ctx context.Context, doc *richdoc.Node, persistNow bool) {
	s.mu.Lock()
	if s.closed || s.previewing {
		s.mu.Unlock()
		return
	}
	s.doc = doc
	s.lastEdit = time.Now()
	s.editSeq++
	s.state.IsDirty = true
	s.mu.Unlock()
	if persistNow {
		_ = s.ForceSave(ctx)
	} else {
		s.mu.Lock()
		if !s.closed && !s.previewing {
			s.state.Status = StatusDebouncing
			s.armTimersLocked()
		}
		s.mu.Unlock()
	}
}

// ProposeDiff stages a suggested rewrite, annotated with inserted and
// deleted spans. The live document is untouched until the suggestion is
// applied; rejecting simply drops it.
func (s *Session) ProposeDiff(doc *richdoc.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pendingDiff = doc
}

func (s *Session) PendingDiff() *richdoc.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingDiff == nil {
		return nil
	}
	return s.pendingDiff.Clone()
}

// ApplyPendingDiff accepts the staged suggestion: deleted spans drop,
// inserted spans become plain text, and the result is saved immediately.
// With no staged suggestion, stray annotations on the live document itself
// are stripped instead so marks never reach the store.
func (s *Session) ApplyPendingDiff(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.previewing {
		s.mu.Unlock()
		return
	}
	switch {
	case s.pendingDiff != nil:
		s.doc = richdoc.StripDiffMarks(s.pendingDiff)
		s.pendingDiff = nil
	case richdoc.HasDiffMarks(s.doc):
		s.doc = richdoc.StripDiffMarks(s.doc)
	default:
		s.mu.Unlock()
		return
	}
	s.editSeq++
	s.state.IsDirty = true
	s.mu.Unlock()
	_ = s.ForceSave(ctx)
}

// RejectPendingDiff drops the staged suggestion without touching content.
func (s *Session) RejectPendingDiff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDiff = nil
}

// Close tears the session down. Pending content is flushed best-effort
// first; after Close every entry point fails or no-ops.
func (s *Session) Close(ctx context.Context) {
	_ = s.Flush(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.epoch++
	s.stopTimersLocked()
	disposers := s.disposers
	s.disposers = nil
	s.mu.Unlock()
	for _, dispose := range disposers {
		dispose()
	}
}
