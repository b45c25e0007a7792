package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mdraft/internal/ai"
	"github.com/xxxsen/mdraft/internal/bus"
	"github.com/xxxsen/mdraft/internal/middleware"
	"github.com/xxxsen/mdraft/internal/model"
	"github.com/xxxsen/mdraft/internal/pkg/jwt"
	"github.com/xxxsen/mdraft/internal/service"
	"github.com/xxxsen/mdraft/internal/session"
)

type memStore struct {
	mu   sync.Mutex
	seq  int
	docs map[string]*model.Document
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]*model.Document)}
}

func (f *memStore) addDoc(id, content string) *model.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := &model.Document{ID: id, UserID: "u1", Content: content}
	f.docs[id] = doc
	return doc
}

func (f *memStore) Get(ctx context.Context, userID, docID string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return doc, nil
}

func (f *memStore) Create(ctx context.Context, userID, title, content string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	doc := &model.Document{
		ID:      fmt.Sprintf("doc-%d", f.seq),
		UserID:  userID,
		Title:   title,
		Content: content,
	}
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *memStore) UpdateCurrentContent(ctx context.Context, userID, docID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return fmt.Errorf("not found")
	}
	doc.Content = content
	return nil
}

func (f *memStore) CreateVersionIfChanged(ctx context.Context, userID, docID, content string) (*model.DocumentVersion, error) {
	return nil, nil
}

func (f *memStore) ListAllVersions(ctx context.Context, userID, docID string) ([]model.VersionEntry, error) {
	return nil, nil
}

func (f *memStore) ForkAt(ctx context.Context, userID, docID string, cut service.ForkCut, newTitle string) (*model.Document, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *memStore) content(docID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[docID]; ok {
		return doc.Content
	}
	return ""
}

// scriptedGenerator plays back a fixed stream with a delay between chunks so
// tests can interleave other work with an in-progress stream.
type scriptedGenerator struct {
	mu       sync.Mutex
	chunks   []string
	interval time.Duration
	calls    int
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return "polished text", nil
}

func (g *scriptedGenerator) GenerateStream(ctx context.Context, prompt string, fn ai.StreamFunc) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	for i, chunk := range g.chunks {
		if i > 0 && g.interval > 0 {
			time.Sleep(g.interval)
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testSessionConfig() session.Config {
	return session.Config{
		ContentDebounce: 20 * time.Millisecond,
		VersionDebounce: 10 * time.Second,
		StreamFlush:     10 * time.Millisecond,
		StreamFlushSize: 256,
	}
}

func TestAIWrite_StreamFollowsLazilyCreatedDocument(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	b := bus.New()
	sessions := session.NewManager(testSessionConfig(), store, b)
	defer sessions.CloseAll(context.Background())

	// The pause between chunks is long enough for the content debounce to
	// create the real document row while the stream is still running.
	gen := &scriptedGenerator{chunks: []string{"Hello ", "world."}, interval: 80 * time.Millisecond}
	h := NewAIHandler(ai.NewManager(gen, ai.ManagerConfig{}), sessions, b)

	s, err := sessions.Open(context.Background(), "u1", "init")
	require.NoError(t, err)

	r := gin.New()
	r.POST("/documents/:id/ai/write", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, "u1")
	}, h.Write)

	req := httptest.NewRequest(http.MethodPost, "/documents/init/ai/write", strings.NewReader(`{"instruction":"continue"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "text-delta")
	require.Contains(t, w.Body.String(), "finish")

	// The session rebound to the created id mid-stream; chunks published
	// after the rebind and the finalization must still reach it.
	require.NotEqual(t, "init", s.DocumentID())
	require.False(t, s.Merger().Active())
	require.Equal(t, "Hello world.", s.Content())
	require.Eventually(t, func() bool {
		return store.content(s.DocumentID()) == "Hello world."
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegisterRoutes_AICallsRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	doc := store.addDoc("11111111-2222-3333-4444-555555555555", "draft body")
	b := bus.New()
	sessions := session.NewManager(testSessionConfig(), store, b)
	defer sessions.CloseAll(context.Background())

	gen := &scriptedGenerator{}
	secret := []byte("test-secret")
	deps := RouterDeps{
		Documents:   NewDocumentHandler(nil),
		Versions:    NewVersionHandler(nil, sessions),
		Sessions:    NewSessionHandler(sessions, b),
		AI:          NewAIHandler(ai.NewManager(gen, ai.ManagerConfig{}), sessions, b),
		JWTSecret:   secret,
		AIRateLimit: 200 * time.Millisecond,
	}
	engine := gin.New()
	RegisterRoutes(engine.Group("/api/v1"), deps)

	token, err := jwt.GenerateToken("u1", "", secret, time.Hour)
	require.NoError(t, err)

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+doc.ID+"/ai/polish", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	first := call()
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, 1, gen.callCount())

	// A second call inside the window never reaches the model.
	call()
	require.Equal(t, 1, gen.callCount())
}
