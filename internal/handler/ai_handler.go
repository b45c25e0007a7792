package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mdraft/internal/ai"
	"github.com/xxxsen/mdraft/internal/bus"
	"github.com/xxxsen/mdraft/internal/diff"
	"github.com/xxxsen/mdraft/internal/pkg/errcode"
	"github.com/xxxsen/mdraft/internal/pkg/response"
	"github.com/xxxsen/mdraft/internal/session"
)

type AIHandler struct {
	ai       *ai.Manager
	sessions *session.Manager
	bus      *bus.Bus
}

func NewAIHandler(manager *ai.Manager, sessions *session.Manager, b *bus.Bus) *AIHandler {
	return &AIHandler{ai: manager, sessions: sessions, bus: b}
}

type aiWriteRequest struct {
	Instruction string `json:"instruction"`
}

type sseEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// Write streams AI continuation into the document over server-sent events.
// Each delta goes two places: down the SSE response for immediate display,
// and onto the event bus where the session's stream merger folds it into the
// live document. The stream finalizes even on abrupt upstream end, so
// whatever arrived is persisted as a version.
func (h *AIHandler) Write(c *gin.Context) {
	var req aiWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	s, err := h.sessions.Open(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, errcode.ErrInternal, "streaming unsupported")
		return
	}
	send := func(ev sseEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}

	s.Merger().Begin()
	streamErr := h.ai.WriteStream(c.Request.Context(), s.Content(), req.Instruction, func(delta string) error {
		if err := c.Request.Context().Err(); err != nil {
			return err
		}
		// The id is read per event: a pending session rebinds to the real
		// document id once the first save creates the row mid-stream.
		h.bus.Publish(bus.Event{
			Topic:      bus.TopicStreamChunk,
			DocumentID: s.DocumentID(),
			Text:       delta,
		})
		send(sseEvent{Type: "text-delta", Text: delta})
		return nil
	})

	// Finalize regardless of how the stream ended; partial output already
	// applied must land in a version rather than evaporate.
	h.bus.Publish(bus.Event{
		Topic:      bus.TopicStreamFinished,
		DocumentID: s.DocumentID(),
	})
	switch {
	case streamErr == nil:
		send(sseEvent{Type: "finish"})
	case errors.Is(streamErr, ai.ErrUnavailable):
		send(sseEvent{Type: "error", Message: "ai not configured"})
	default:
		send(sseEvent{Type: "error", Message: "stream interrupted"})
	}
}

// Polish asks the model for a full rewrite and stages it on the session as
// an annotated change set. Nothing persists until the suggestion is applied.
func (h *AIHandler) Polish(c *gin.Context) {
	s, err := h.sessions.Open(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	current := s.Content()
	suggestion, err := h.ai.Polish(c.Request.Context(), current)
	if err != nil {
		if errors.Is(err, ai.ErrUnavailable) {
			response.Error(c, errcode.ErrAIUnavailable, "ai not configured")
			return
		}
		handleError(c, err)
		return
	}
	annotated := diff.Annotate(current, suggestion)
	s.ProposeDiff(annotated)
	response.Success(c, gin.H{
		"doc":     annotated,
		"summary": diff.Summarize(current, suggestion),
	})
}
