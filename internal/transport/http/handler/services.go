package handler

import (
	"context"
	"errors"
	"iter"
	"net/http"

	"github.com/gin-gonic/gin"

	"fiqh-rag/internal/app"
	"fiqh-rag/internal/model"
	"fiqh-rag/internal/pkg/jwtutil"
	"fiqh-rag/internal/transport/http/middleware"
	"fiqh-rag/internal/transport/http/response"
)

// The handlers depend on these views of the app services.

type AuthService interface {
	Register(ctx context.Context, input app.RegisterInput) (*app.AuthResult, error)
	Login(ctx context.Context, input app.LoginInput) (*app.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*app.AuthResult, error)
	GetUser(ctx context.Context, uid string) (*model.User, error)
	Logout(ctx context.Context, claims *jwtutil.Claims) error
}

type ConversationService interface {
	Create(ctx context.Context, userUID, title string) (*model.Conversation, error)
	List(ctx context.Context, userUID string) ([]model.Conversation, error)
	Rename(ctx context.Context, userUID, conversationUID, title string) (*model.Conversation, error)
	Delete(ctx context.Context, userUID, conversationUID string) error
}

type ChatService interface {
	ListMessages(ctx context.Context, userUID, conversationUID string) ([]model.Message, error)
	Send(ctx context.Context, in app.SendMessageInput) (*app.SendMessageResult, error)
	Stream(ctx context.Context, in app.SendMessageInput) (iter.Seq[app.StreamEvent], error)
	Edit(ctx context.Context, in app.EditMessageInput) ([]model.Message, error)
}

type DocumentService interface {
	Upload(ctx context.Context, userUID, conversationUID string, files []app.UploadFile) (*app.UploadBatchResult, error)
	ListDocuments(ctx context.Context, userUID, conversationUID string) ([]model.Document, error)
	ListActiveDocuments(ctx context.Context, userUID, conversationUID string) ([]model.Document, error)
	SetActive(ctx context.Context, userUID, conversationUID, documentUID string, active bool) (*model.Document, error)
	DeleteDocument(ctx context.Context, userUID, conversationUID, documentUID string) error
	Download(ctx context.Context, userUID, conversationUID, documentUID string) (*model.Document, string, error)
}

// writeError maps service errors to the response envelope. Anything not
// listed is a 500 with fallback as the message.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty), errors.Is(err, app.ErrNoFiles):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrMessageNotEditable):
		response.Error(c, http.StatusBadRequest, response.CodeMessageNotEditable, err.Error())
	case errors.Is(err, app.ErrUsernameExists):
		response.Error(c, http.StatusBadRequest, response.CodeUsernameExists, err.Error())
	case errors.Is(err, app.ErrEmailExists):
		response.Error(c, http.StatusBadRequest, response.CodeEmailExists, err.Error())
	case errors.Is(err, app.ErrInvalidCredential):
		response.Error(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
	case errors.Is(err, app.ErrInvalidToken):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
	case errors.Is(err, app.ErrAccessDenied):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
	case errors.Is(err, app.ErrConversationNotFound):
		response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
	case errors.Is(err, app.ErrMessageNotFound):
		response.Error(c, http.StatusNotFound, response.CodeMessageNotFound, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound), errors.Is(err, app.ErrFileNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	case errors.Is(err, app.ErrModelUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeModelUnavailable, app.ErrModelUnavailable.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func requireUser(c *gin.Context) (string, bool) {
	uid, ok := middleware.UserUID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
	}
	return uid, ok
}
