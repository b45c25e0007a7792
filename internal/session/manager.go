package session

import (
	"context"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdraft/internal/bus"
	appErr "github.com/xxxsen/mdraft/internal/pkg/errors"
	"github.com/xxxsen/mdraft/internal/pkg/idutil"
)

// Manager is the registry of live editing sessions, keyed by user and
// document. A placeholder document id opens a pending session whose backing
// row is created on first save; the manager rekeys it once the real id
// exists so later lookups by that id find the same session.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	store    Store
	bus      *bus.Bus
	sessions map[string]*Session
}

func NewManager(cfg Config, store Store, b *bus.Bus) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		bus:      b,
		sessions: make(map[string]*Session),
	}
}

func key(userID, docID string) string {
	return userID + "|" + docID
}

// Open returns the live session for (user, document), creating one if
// needed. Existing documents are loaded from the store; placeholder ids get
// a pending session.
func (m *Manager) Open(ctx context.Context, userID, docID string) (*Session, error) {
	if userID == "" {
		return nil, appErr.ErrUnauthorized
	}
	m.mu.Lock()
	if s, ok := m.sessions[key(userID, docID)]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	var s *Session
	if idutil.IsPlaceholder(docID) {
		s = NewPending(m.cfg, m.store, m.bus, userID, docID, "")
	} else {
		if err := idutil.ValidateDocID(docID); err != nil {
			return nil, err
		}
		doc, err := m.store.Get(ctx, userID, docID)
		if err != nil {
			return nil, err
		}
		s = New(m.cfg, m.store, m.bus, userID, doc)
	}
	s.onCreated = m.rekey

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[key(userID, docID)]; ok {
		// Lost the race; drop ours without flushing anything.
		go s.Close(context.Background())
		return existing, nil
	}
	m.sessions[key(userID, docID)] = s
	return s, nil
}

// Lookup returns an already-open session without creating one.
func (m *Manager) Lookup(userID, docID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key(userID, docID)]
	return s, ok
}

// rekey moves a pending session from its placeholder key to the created
// document id.
func (m *Manager) rekey(s *Session, placeholder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key(s.UserID(), placeholder))
	m.sessions[key(s.UserID(), s.DocumentID())] = s
}

// Close flushes and removes one session.
func (m *Manager) Close(ctx context.Context, userID, docID string) {
	m.mu.Lock()
	s, ok := m.sessions[key(userID, docID)]
	if ok {
		delete(m.sessions, key(userID, docID))
	}
	m.mu.Unlock()
	if ok {
		s.Close(ctx)
	}
}

// ReapIdle flushes sessions idle past the threshold and closes those idle
// past twice the threshold. Run periodically by the maintenance scheduler.
func (m *Manager) ReapIdle(ctx context.Context, idle time.Duration) {
	now := time.Now()
	m.mu.Lock()
	type candidate struct {
		key string
		s   *Session
	}
	var toFlush, toClose []candidate
	for k, s := range m.sessions {
		age := now.Sub(s.LastEdit())
		switch {
		case age >= 2*idle:
			toClose = append(toClose, candidate{k, s})
		case age >= idle:
			toFlush = append(toFlush, candidate{k, s})
		}
	}
	for _, c := range toClose {
		delete(m.sessions, c.key)
	}
	m.mu.Unlock()

	for _, c := range toFlush {
		if err := c.s.Flush(ctx); err != nil {
			logutil.GetLogger(ctx).Warn("idle session flush failed",
				zap.String("doc_id", c.s.DocumentID()),
				zap.Error(err),
			)
		}
	}
	for _, c := range toClose {
		c.s.Close(ctx)
	}
	if len(toClose) > 0 {
		logutil.GetLogger(ctx).Info("idle sessions closed", zap.Int("count", len(toClose)))
	}
}

// CloseAll flushes and closes everything, used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close(ctx)
	}
}
