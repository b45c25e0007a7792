package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mdraft/internal/bus"
	"github.com/xxxsen/mdraft/internal/pkg/errcode"
	"github.com/xxxsen/mdraft/internal/pkg/response"
	"github.com/xxxsen/mdraft/internal/session"
)

type SessionHandler struct {
	sessions *session.Manager
	bus      *bus.Bus
}

func NewSessionHandler(sessions *session.Manager, b *bus.Bus) *SessionHandler {
	return &SessionHandler{sessions: sessions, bus: b}
}

type editRequest struct {
	Content string `json:"content"`
}

// Edit feeds one keystroke-level content update into the live session. The
// response carries the session's save state so clients can render the
// saving indicator; the actual persistence happens on the debounce.
func (h *SessionHandler) Edit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	s, err := h.sessions.Open(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if err := s.Edit(c.Request.Context(), req.Content); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"state": s.State(), "document_id": s.DocumentID()})
}

func (h *SessionHandler) State(c *gin.Context) {
	s, err := h.sessions.Open(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"state": s.State(), "document_id": s.DocumentID()})
}

// Flush forces pending content down immediately, the endpoint behind
// tab-close beacons and explicit save buttons.
func (h *SessionHandler) Flush(c *gin.Context) {
	s, err := h.sessions.Open(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if err := s.ForceSave(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"state": s.State(), "document_id": s.DocumentID()})
}

type previewRequest struct {
	Version int `json:"version"`
}

// Preview positions the session on a historical version. Seeking the live
// entry returns to edit mode; anything earlier suspends saving and returns
// the annotated comparison.
func (h *SessionHandler) Preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Version <= 0 {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	s, err := h.sessions.Open(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	nav := s.Navigator()
	if _, err := nav.Refresh(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	preview, err := nav.Seek(c.Request.Context(), req.Version)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"mode":    nav.Mode(),
		"preview": preview,
	})
}

// PreviewCancel returns to the live head, discarding any staged suggestion.
func (h *SessionHandler) PreviewCancel(c *gin.Context) {
	s, err := h.sessions.Open(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	h.bus.Publish(bus.Event{
		Topic:      bus.TopicContentPreviewCancel,
		DocumentID: s.DocumentID(),
	})
	response.Success(c, gin.H{"mode": s.Navigator().Mode()})
}

// Apply accepts the staged suggestion, stripping its change annotations and
// saving the result.
func (h *SessionHandler) Apply(c *gin.Context) {
	s, err := h.sessions.Open(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	h.bus.Publish(bus.Event{
		Topic:      bus.TopicContentApply,
		DocumentID: s.DocumentID(),
	})
	response.Success(c, gin.H{"state": s.State(), "content": s.Content()})
}

func (h *SessionHandler) Close(c *gin.Context) {
	h.sessions.Close(c.Request.Context(), getUserID(c), c.Param("id"))
	response.Success(c, gin.H{"ok": true})
}
