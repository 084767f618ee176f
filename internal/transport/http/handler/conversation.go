package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fiqh-rag/internal/transport/http/response"
)

type ConversationHandler struct {
	conversations ConversationService
}

type CreateConversationRequest struct {
	Title string `json:"title" binding:"max=256"`
}

type RenameConversationRequest struct {
	Title string `json:"title" binding:"required,max=256"`
}

func NewConversationHandler(conversations ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

func (h *ConversationHandler) Create(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	// The body is optional; an empty one gets the default title.
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	conv, err := h.conversations.Create(c.Request.Context(), userUID, req.Title)
	if err != nil {
		writeError(c, err, "create conversation failed")
		return
	}
	response.OK(c, conv)
}

func (h *ConversationHandler) List(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	convs, err := h.conversations.List(c.Request.Context(), userUID)
	if err != nil {
		writeError(c, err, "list conversations failed")
		return
	}
	response.OK(c, convs)
}

func (h *ConversationHandler) Rename(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	var req RenameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	conv, err := h.conversations.Rename(c.Request.Context(), userUID, c.Param("cid"), req.Title)
	if err != nil {
		writeError(c, err, "rename conversation failed")
		return
	}
	response.OK(c, conv)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	cid := c.Param("cid")
	if err := h.conversations.Delete(c.Request.Context(), userUID, cid); err != nil {
		writeError(c, err, "delete conversation failed")
		return
	}
	response.OK(c, gin.H{"deleted_conversation_uid": cid})
}
