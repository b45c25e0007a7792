package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mdraft/internal/bus"
	"github.com/xxxsen/mdraft/internal/diff"
	"github.com/xxxsen/mdraft/internal/model"
	"github.com/xxxsen/mdraft/internal/service"
)

type fakeStore struct {
	mu           sync.Mutex
	seq          int
	docs         map[string]*model.Document
	versions     map[string][]*model.DocumentVersion
	createCalls  int
	updateCalls  int
	versionCalls int
	// updateDelay simulates slow persistence; set before the session starts.
	updateDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     make(map[string]*model.Document),
		versions: make(map[string][]*model.DocumentVersion),
	}
}

func (f *fakeStore) addDoc(id, content string, versionContents ...string) *model.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := &model.Document{ID: id, UserID: "u1", Content: content}
	f.docs[id] = doc
	for i, vc := range versionContents {
		f.versions[id] = append(f.versions[id], &model.DocumentVersion{
			DocumentID: id,
			Version:    i + 1,
			Content:    vc,
			Ctime:      int64(1000 + i),
		})
	}
	return doc
}

func (f *fakeStore) Get(ctx context.Context, userID, docID string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return doc, nil
}

func (f *fakeStore) Create(ctx context.Context, userID, title, content string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.createCalls++
	doc := &model.Document{
		ID:      fmt.Sprintf("doc-%d", f.seq),
		UserID:  userID,
		Title:   title,
		Content: content,
	}
	f.docs[doc.ID] = doc
	f.versions[doc.ID] = []*model.DocumentVersion{{DocumentID: doc.ID, Version: 1, Content: content}}
	return doc, nil
}

func (f *fakeStore) UpdateCurrentContent(ctx context.Context, userID, docID, content string) error {
	if f.updateDelay > 0 {
		time.Sleep(f.updateDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	doc, ok := f.docs[docID]
	if !ok {
		return fmt.Errorf("not found")
	}
	doc.Content = content
	return nil
}

func (f *fakeStore) CreateVersionIfChanged(ctx context.Context, userID, docID, content string) (*model.DocumentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionCalls++
	existing := f.versions[docID]
	if n := len(existing); n > 0 && existing[n-1].Content == content {
		return nil, nil
	}
	v := &model.DocumentVersion{
		DocumentID: docID,
		Version:    len(existing) + 1,
		Content:    content,
	}
	f.versions[docID] = append(existing, v)
	return v, nil
}

func (f *fakeStore) ListAllVersions(ctx context.Context, userID, docID string) ([]model.VersionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	var entries []model.VersionEntry
	for _, v := range f.versions[docID] {
		entries = append(entries, model.VersionEntry{Version: v.Version, Content: v.Content, Ctime: v.Ctime})
	}
	entries = append(entries, model.VersionEntry{
		Version:   len(entries) + 1,
		Content:   doc.Content,
		IsCurrent: true,
	})
	return entries, nil
}

func (f *fakeStore) ForkAt(ctx context.Context, userID, docID string, cut service.ForkCut, newTitle string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.docs[docID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	f.seq++
	forked := &model.Document{ID: fmt.Sprintf("doc-%d", f.seq), UserID: userID, Content: source.Content}
	f.docs[forked.ID] = forked
	return forked, nil
}

func (f *fakeStore) content(docID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[docID]; ok {
		return doc.Content
	}
	return ""
}

func (f *fakeStore) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.updateCalls, f.versionCalls
}

func (f *fakeStore) versionCount(docID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.versions[docID])
}

func (f *fakeStore) lastVersionContent(docID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs := f.versions[docID]
	if len(vs) == 0 {
		return ""
	}
	return vs[len(vs)-1].Content
}

func testConfig() Config {
	return Config{
		ContentDebounce: 20 * time.Millisecond,
		VersionDebounce: 80 * time.Millisecond,
		StreamFlush:     50 * time.Millisecond,
		StreamFlushSize: 256,
	}
}

func TestSession_DebouncedPersist(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "start", "start")
	s := New(testConfig(), store, bus.New(), "u1", doc)
	defer s.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, s.Edit(ctx, "draft one"))
	require.NoError(t, s.Edit(ctx, "draft two"))
	require.NoError(t, s.Edit(ctx, "draft three"))
	require.Equal(t, StatusDebouncing, s.State().Status)

	require.Eventually(t, func() bool {
		return store.content("d1") == "draft three"
	}, time.Second, 5*time.Millisecond)

	// Rapid edits coalesced into a single write.
	_, updates, _ := store.counts()
	require.Equal(t, 1, updates)
	require.Eventually(t, func() bool {
		return s.State().Status == StatusSaved && !s.State().IsDirty
	}, time.Second, 5*time.Millisecond)

	// The slower cadence cuts one snapshot for the whole burst.
	require.Eventually(t, func() bool {
		return store.versionCount("d1") == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSession_PendingCreate(t *testing.T) {
	store := newFakeStore()
	s := NewPending(testConfig(), store, bus.New(), "u1", "init", "Untitled")
	defer s.Close(context.Background())

	ctx := context.Background()
	// Blank edits never materialize a document.
	require.NoError(t, s.Edit(ctx, "   "))
	time.Sleep(60 * time.Millisecond)
	creates, _, _ := store.counts()
	require.Zero(t, creates)
	require.True(t, s.State().PendingCreate)

	require.NoError(t, s.Edit(ctx, "first words"))
	require.Eventually(t, func() bool {
		return !s.State().PendingCreate
	}, time.Second, 5*time.Millisecond)
	require.NotEqual(t, "init", s.DocumentID())
	require.Equal(t, "first words", store.content(s.DocumentID()))
}

func TestSession_PreviewSuspendsSaves(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "live content", "live content")
	s := New(testConfig(), store, bus.New(), "u1", doc)
	defer s.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, s.Edit(ctx, "dirty edit"))
	s.EnterPreview()

	time.Sleep(150 * time.Millisecond)
	_, updates, versions := store.counts()
	require.Zero(t, updates)
	require.Zero(t, versions)

	// Edits while previewing are discarded outright.
	require.NoError(t, s.Edit(ctx, "typed during preview"))
	require.Equal(t, "dirty edit", s.Content())

	s.ExitPreview()
	require.Eventually(t, func() bool {
		return store.content("d1") == "dirty edit"
	}, time.Second, 5*time.Millisecond)
}

func TestSession_ForceSave(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "old", "old")
	s := New(testConfig(), store, bus.New(), "u1", doc)
	defer s.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, s.Edit(ctx, "flushed now"))
	require.NoError(t, s.ForceSave(ctx))

	require.Equal(t, "flushed now", store.content("d1"))
	require.Equal(t, 2, store.versionCount("d1"))
	require.Equal(t, StatusSaved, s.State().Status)
}

func TestSession_ForceSaveNoopWhenUnchanged(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "stable", "stable")
	s := New(testConfig(), store, bus.New(), "u1", doc)
	defer s.Close(context.Background())

	require.NoError(t, s.ForceSave(context.Background()))
	// Identical content never appends a version.
	require.Equal(t, 1, store.versionCount("d1"))
}

func TestSession_ForceSaveDuringInFlightStillCutsVersion(t *testing.T) {
	store := newFakeStore()
	store.updateDelay = 50 * time.Millisecond
	doc := store.addDoc("d1", "old", "old")
	cfg := testConfig()
	// Keep the background snapshot cadence out of the picture; only the
	// forced save may cut a version here.
	cfg.VersionDebounce = 10 * time.Second
	s := New(cfg, store, bus.New(), "u1", doc)
	defer s.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, s.Edit(ctx, "first"))
	// Let the content debounce fire so the slow save is running.
	time.Sleep(35 * time.Millisecond)

	require.NoError(t, s.Edit(ctx, "second"))
	require.NoError(t, s.ForceSave(ctx))

	// The flush arrived mid-save. The rerun persists the newest content and
	// the requested snapshot rides on its completion, so the version cut is
	// not lost and records "second", not the stale in-flight content.
	require.Eventually(t, func() bool {
		return store.content("d1") == "second" && store.versionCount("d1") == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "second", store.lastVersionContent("d1"))
}

func TestSession_ClosedRejectsEdits(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "content", "content")
	s := New(testConfig(), store, bus.New(), "u1", doc)
	s.Close(context.Background())

	require.Error(t, s.Edit(context.Background(), "too late"))
}

func TestStreamMerger_CoalescesAndFinalizes(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "Start.", "Start.")
	b := bus.New()
	s := New(testConfig(), store, b, "u1", doc)
	defer s.Close(context.Background())

	s.Merger().Begin()
	for _, chunk := range []string{"Hello ", "wor", "ld."} {
		b.Publish(bus.Event{Topic: bus.TopicStreamChunk, DocumentID: "d1", Text: chunk})
	}
	b.Publish(bus.Event{Topic: bus.TopicStreamFinished, DocumentID: "d1"})

	require.Equal(t, "Start.\n\nHello world.", store.content("d1"))
	require.Equal(t, 2, store.versionCount("d1"))
	require.False(t, s.Merger().Active())
}

func TestStreamMerger_OrderPreservedUnderUnevenDelivery(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "Intro.", "Intro.")
	b := bus.New()
	cfg := testConfig()
	cfg.StreamFlush = 15 * time.Millisecond
	cfg.StreamFlushSize = 8
	s := New(cfg, store, b, "u1", doc)
	defer s.Close(context.Background())

	chunks := []string{"One ", "tw", "o three", ". Four", " five", " six."}
	delays := []time.Duration{0, 25 * time.Millisecond, 0, time.Millisecond, 30 * time.Millisecond, 0}
	s.Merger().Begin()
	for i, chunk := range chunks {
		time.Sleep(delays[i])
		b.Publish(bus.Event{Topic: bus.TopicStreamChunk, DocumentID: "d1", Text: chunk})
	}
	b.Publish(bus.Event{Topic: bus.TopicStreamFinished, DocumentID: "d1"})

	// Uneven arrival forces a mix of boundary, size and time flushes, some
	// mid-word. The final merged text must still be the exact in-order
	// concatenation of every chunk.
	require.Equal(t, "Intro.\n\nOne two three. Four five six.", store.content("d1"))
	require.Equal(t, "Intro.\n\nOne two three. Four five six.", s.Content())
	require.False(t, s.Merger().Active())
}

func TestStreamMerger_CancelKeepsLastValidState(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "Base.", "Base.")
	b := bus.New()
	s := New(testConfig(), store, b, "u1", doc)
	defer s.Close(context.Background())

	s.Merger().Begin()
	b.Publish(bus.Event{Topic: bus.TopicStreamChunk, DocumentID: "d1", Text: "Applied part. "})
	applied := s.Content()
	s.Merger().Cancel()
	b.Publish(bus.Event{Topic: bus.TopicStreamChunk, DocumentID: "d1", Text: "after cancel"})

	// Content applied before the cancel survives; later chunks start a new
	// stream from the current content rather than corrupting state.
	require.Contains(t, applied, "Applied part.")
}

func TestStreamMerger_ChunksForOtherDocumentsIgnored(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "Mine.", "Mine.")
	b := bus.New()
	s := New(testConfig(), store, b, "u1", doc)
	defer s.Close(context.Background())

	b.Publish(bus.Event{Topic: bus.TopicStreamChunk, DocumentID: "other", Text: "not yours. "})
	b.Publish(bus.Event{Topic: bus.TopicStreamFinished, DocumentID: "other"})

	require.Equal(t, "Mine.", s.Content())
	require.Equal(t, "Mine.", store.content("d1"))
}

func TestNavigator_SeekPreviewAndBack(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "version three live", "version one", "version two")
	s := New(testConfig(), store, bus.New(), "u1", doc)
	defer s.Close(context.Background())

	ctx := context.Background()
	nav := s.Navigator()
	entries, err := nav.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.True(t, entries[2].IsCurrent)

	preview, err := nav.Seek(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, preview)
	require.Equal(t, ModeDiffPreview, nav.Mode())
	require.True(t, s.IsPreviewing())
	require.Equal(t, 1, preview.Version)
	require.Equal(t, 3, preview.Total)

	// Seeking the live entry returns to edit mode.
	preview, err = nav.Seek(ctx, 3)
	require.NoError(t, err)
	require.Nil(t, preview)
	require.Equal(t, ModeEdit, nav.Mode())
	require.False(t, s.IsPreviewing())
}

func TestNavigator_SeekUnknownVersion(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "live", "v1")
	s := New(testConfig(), store, bus.New(), "u1", doc)
	defer s.Close(context.Background())

	nav := s.Navigator()
	_, err := nav.Refresh(context.Background())
	require.NoError(t, err)
	_, err = nav.Seek(context.Background(), 99)
	require.Error(t, err)
}

func TestNavigator_ForkFlushesFirst(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "old", "old")
	b := bus.New()
	s := New(testConfig(), store, b, "u1", doc)
	defer s.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, s.Edit(ctx, "unsaved edit"))
	forked, err := s.Navigator().Fork(ctx, service.ForkCut{Version: 1}, "branch")
	require.NoError(t, err)
	require.NotNil(t, forked)
	// Pending content reached the store before the lineage was copied.
	require.Equal(t, "unsaved edit", store.content("d1"))
}

func TestSession_ApplyPendingDiff(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "old text", "old text")
	s := New(testConfig(), store, bus.New(), "u1", doc)
	defer s.Close(context.Background())

	s.ProposeDiff(diff.Annotate("old text", "new text"))
	require.NotNil(t, s.PendingDiff())

	s.ApplyPendingDiff(context.Background())
	require.Equal(t, "new text", s.Content())
	require.Equal(t, "new text", store.content("d1"))
	require.Nil(t, s.PendingDiff())
}

func TestSession_RejectPendingDiff(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("d1", "keep me", "keep me")
	s := New(testConfig(), store, bus.New(), "u1", doc)
	defer s.Close(context.Background())

	s.ProposeDiff(diff.Annotate("keep me", "replace"))
	s.RejectPendingDiff()
	require.Nil(t, s.PendingDiff())
	require.Equal(t, "keep me", s.Content())
}

func TestManager_OpenAndRekey(t *testing.T) {
	store := newFakeStore()
	m := NewManager(testConfig(), store, bus.New())
	defer m.CloseAll(context.Background())

	ctx := context.Background()
	s, err := m.Open(ctx, "u1", "init")
	require.NoError(t, err)
	require.NoError(t, s.Edit(ctx, "created lazily"))

	require.Eventually(t, func() bool {
		return !s.State().PendingCreate
	}, time.Second, 5*time.Millisecond)

	// The session is now reachable under its real id.
	found, ok := m.Lookup("u1", s.DocumentID())
	require.True(t, ok)
	require.Same(t, s, found)
	_, ok = m.Lookup("u1", "init")
	require.False(t, ok)
}

func TestManager_OpenRejectsBogusIDs(t *testing.T) {
	store := newFakeStore()
	m := NewManager(testConfig(), store, bus.New())
	_, err := m.Open(context.Background(), "u1", "not-a-uuid")
	require.Error(t, err)
}

func TestManager_ReapIdleClosesAbandonedSessions(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("11111111-2222-3333-4444-555555555555", "abandoned", "abandoned")
	m := NewManager(testConfig(), store, bus.New())
	defer m.CloseAll(context.Background())

	ctx := context.Background()
	s, err := m.Open(ctx, "u1", doc.ID)
	require.NoError(t, err)
	require.NoError(t, s.Edit(ctx, "last words"))

	time.Sleep(5 * time.Millisecond)
	m.ReapIdle(ctx, time.Nanosecond)

	_, ok := m.Lookup("u1", doc.ID)
	require.False(t, ok)
	require.Equal(t, "last words", store.content(doc.ID))
	require.Error(t, s.Edit(ctx, "after close"))
}
