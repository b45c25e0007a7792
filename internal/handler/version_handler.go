package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mdraft/internal/pkg/errcode"
	"github.com/xxxsen/mdraft/internal/pkg/response"
	"github.com/xxxsen/mdraft/internal/service"
	"github.com/xxxsen/mdraft/internal/session"
)

type VersionHandler struct {
	documents *service.DocumentService
	sessions  *session.Manager
}

func NewVersionHandler(documents *service.DocumentService, sessions *session.Manager) *VersionHandler {
	return &VersionHandler{documents: documents, sessions: sessions}
}

// List returns the unified history: every snapshot plus the live content as
// the final entry.
func (h *VersionHandler) List(c *gin.Context) {
	entries, err := h.documents.ListAllVersions(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, entries)
}

func (h *VersionHandler) Get(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		response.Error(c, errcode.ErrInvalid, "invalid version")
		return
	}
	v, err := h.documents.GetVersion(c.Request.Context(), getUserID(c), c.Param("id"), version)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, v)
}

// Diff renders a historical version against the live content with inserted
// and deleted spans annotated.
func (h *VersionHandler) Diff(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		response.Error(c, errcode.ErrInvalid, "invalid version")
		return
	}
	preview, err := h.documents.DiffPreview(c.Request.Context(), getUserID(c), c.Param("id"), version)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, preview)
}

type forkRequest struct {
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`
	Title     string `json:"title"`
}

// Fork branches a new document lineage at the selected cut. The version
// number is the primary selector; a timestamp within the configured
// tolerance is accepted as a fallback.
func (h *VersionHandler) Fork(c *gin.Context) {
	var req forkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	userID := getUserID(c)
	docID := c.Param("id")
	cut := service.ForkCut{Version: req.Version, Timestamp: req.Timestamp}

	// Fork through the live session when one is open so pending edits are
	// flushed into the lineage first.
	if s, ok := h.sessions.Lookup(userID, docID); ok {
		forked, err := s.Navigator().Fork(c.Request.Context(), cut, req.Title)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, forked)
		return
	}
	forked, err := h.documents.ForkAt(c.Request.Context(), userID, docID, cut, req.Title)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, forked)
}
