package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fiqh-rag/internal/app"
	"fiqh-rag/internal/rag/generator"
	"fiqh-rag/internal/transport/http/response"
)

type ChatHandler struct {
	chatService ChatService
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func NewChatHandler(chatService ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	msgs, err := h.chatService.ListMessages(c.Request.Context(), userUID, c.Param("cid"))
	if err != nil {
		writeError(c, err, "list messages failed")
		return
	}
	response.OK(c, msgs)
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.Send(c.Request.Context(), app.SendMessageInput{
		UserUID:         userUID,
		ConversationUID: c.Param("cid"),
		Content:         req.Content,
	})
	if err != nil {
		writeError(c, err, "send message failed")
		return
	}
	response.OK(c, result)
}

// StreamMessage answers over server-sent events: one data frame per chunk,
// then a done event carrying the stored message, or a single error event.
// Validation failures are returned as regular JSON errors before the
// stream starts.
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	events, err := h.chatService.Stream(c.Request.Context(), app.SendMessageInput{
		UserUID:         userUID,
		ConversationUID: c.Param("cid"),
		Content:         req.Content,
	})
	if err != nil {
		writeError(c, err, "stream message failed")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for ev := range events {
		var writeErr error
		switch ev.Kind {
		case generator.EventChunk:
			writeErr = writeSSE(c.Writer, "", ev.Text)
		case generator.EventError:
			writeErr = writeSSE(c.Writer, "error", sanitizeSSE(ev.Text))
		case generator.EventDone:
			payload, err := json.Marshal(ev.Done)
			if err != nil {
				writeErr = writeSSE(c.Writer, "error", "encode result failed")
				break
			}
			writeErr = writeSSE(c.Writer, "done", string(payload))
		}
		if writeErr != nil {
			// Client gone; leaving the loop lets the service finish persisting.
			return
		}
		flusher.Flush()
	}
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	msgs, err := h.chatService.Edit(c.Request.Context(), app.EditMessageInput{
		UserUID:         userUID,
		ConversationUID: c.Param("cid"),
		MessageUID:      c.Param("mid"),
		Content:         req.Content,
	})
	if err != nil {
		writeError(c, err, "edit message failed")
		return
	}
	response.OK(c, msgs)
}

// writeSSE writes one frame. Multi-line data is split into one data line
// per line, which clients join back with newlines.
func writeSSE(w io.Writer, event, data string) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	data = strings.ReplaceAll(data, "\r\n", "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", " ")
	replaced = strings.ReplaceAll(replaced, "\n", " ")
	return replaced
}
