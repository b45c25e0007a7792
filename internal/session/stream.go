package session

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/mdraft/internal/richdoc"
)

// StreamMerger folds an incremental AI text stream into the live document.
// Chunks arrive at network granularity, often mid-word; applying each one
// would churn the document on every few bytes. The merger coalesces chunks
// and applies at whitespace or sentence boundaries, or when a size or time
// threshold forces progress, so every intermediate document reads cleanly.
//
// The stream owns the document while active: the merged text is the
// start-of-stream content plus everything streamed so far, reparsed as a
// whole so block structure emerging across chunk boundaries is honored.
type StreamMerger struct {
	mu        sync.Mutex
	s         *Session
	active    bool
	base      string
	streamed  strings.Builder
	pending   int
	lastFlush time.Time
}

func newStreamMerger(s *Session) *StreamMerger {
	return &StreamMerger{s: s}
}

// Begin snapshots the content the stream appends to. Append starts a stream
// implicitly, so calling Begin is only needed to pin the base before the
// first chunk is published.
func (m *StreamMerger) Begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginLocked()
}

func (m *StreamMerger) beginLocked() {
	m.active = true
	m.base = m.s.Content()
	m.streamed.Reset()
	m.pending = 0
	m.lastFlush = time.Now()
}

// Append accumulates one chunk and applies the merged document if the
// buffered text reached a clean boundary or a threshold.
func (m *StreamMerger) Append(ctx context.Context, chunk string) {
	if chunk == "" {
		return
	}
	m.mu.Lock()
	if !m.active {
		m.beginLocked()
	}
	m.streamed.WriteString(chunk)
	m.pending += len(chunk)
	flush := m.boundary(chunk) ||
		m.pending >= m.s.cfg.StreamFlushSize ||
		time.Since(m.lastFlush) >= m.s.cfg.StreamFlush
	var merged string
	if flush {
		merged = m.mergedLocked()
		m.pending = 0
		m.lastFlush = time.Now()
	}
	m.mu.Unlock()
	if flush {
		m.apply(ctx, merged, false)
	}
}

// Finish applies whatever remains and persists immediately, cutting a
// version snapshot for the completed stream. Safe to call after an abrupt
// upstream end; the last applied content is always a valid document.
func (m *StreamMerger) Finish(ctx context.Context) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	merged := m.mergedLocked()
	m.streamed.Reset()
	m.pending = 0
	m.mu.Unlock()
	m.apply(ctx, merged, true)
}

// Cancel stops the stream and discards unapplied buffered text. Content
// already applied stays; the document is left in its last valid state.
func (m *StreamMerger) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.streamed.Reset()
	m.pending = 0
}

func (m *StreamMerger) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *StreamMerger) mergedLocked() string {
	text := m.streamed.String()
	if m.base == "" {
		return text
	}
	if text == "" {
		return m.base
	}
	sep := ""
	if !strings.HasSuffix(m.base, "\n") && !strings.HasPrefix(text, "\n") {
		sep = "\n\n"
	}
	return m.base + sep + text
}

func (m *StreamMerger) apply(ctx context.Context, merged string, persistNow bool) {
	doc := richdoc.NormalizeDoc(richdoc.Deserialize(merged))
	m.s.applyExternal(ctx, doc, persistNow)
}

// boundary reports whether the chunk ends at a point safe to render:
// trailing whitespace or sentence punctuation.
func (m *StreamMerger) boundary(chunk string) bool {
	r, size := utf8.DecodeLastRuneInString(chunk)
	if size == 0 {
		return false
	}
	switch r {
	case ' ', '\t', '\n', '.', '!', '?', ',', ';', ':':
		return true
	}
	return false
}
