package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mdraft/internal/pkg/errcode"
	"github.com/xxxsen/mdraft/internal/pkg/response"
	"github.com/xxxsen/mdraft/internal/richdoc"
	"github.com/xxxsen/mdraft/internal/service"
)

type DocumentHandler struct {
	documents *service.DocumentService
}

func NewDocumentHandler(documents *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

type documentCreateRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *DocumentHandler) Create(c *gin.Context) {
	var req documentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	doc, err := h.documents.Create(c.Request.Context(), getUserID(c), req.Title, req.Content)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	limit := uint(50)
	if value := c.Query("limit"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			limit = uint(parsed)
		}
	}
	offset := uint(0)
	if value := c.Query("offset"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			offset = uint(parsed)
		}
	}
	docs, err := h.documents.List(c.Request.Context(), getUserID(c), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

type documentMetaRequest struct {
	Title      string `json:"title"`
	Visibility string `json:"visibility"`
	Slug       string `json:"slug"`
}

func (h *DocumentHandler) UpdateMeta(c *gin.Context) {
	var req documentMetaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	err := h.documents.UpdateMeta(c.Request.Context(), getUserID(c), c.Param("id"), req.Title, req.Visibility, req.Slug)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

type rollbackRequest struct {
	After int64 `json:"after"`
}

func (h *DocumentHandler) Rollback(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if err := h.documents.RollbackAfter(c.Request.Context(), getUserID(c), c.Param("id"), req.After); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

type pasteRequest struct {
	Text string `json:"text"`
}

// Paste normalizes clipboard text into clean content: invisible characters
// removed, line endings unified, blank-line groups turned into paragraphs.
func (h *DocumentHandler) Paste(c *gin.Context) {
	var req pasteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	cleaned := richdoc.NormalizePaste(req.Text)
	doc := richdoc.NormalizeDoc(richdoc.Deserialize(cleaned))
	response.Success(c, gin.H{"text": cleaned, "doc": doc})
}
