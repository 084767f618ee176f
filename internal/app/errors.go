package app

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrInvalidToken      = errors.New("invalid or expired token")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrAccessDenied         = errors.New("access to this conversation is denied")
	ErrMessageEmpty         = errors.New("message content is empty")
	ErrMessageNotFound      = errors.New("message not found")
	ErrMessageNotEditable   = errors.New("only a message with a prompt can be edited")
	ErrModelUnavailable     = errors.New("ai service unavailable")

	ErrNoFiles          = errors.New("no files provided")
	ErrDocumentNotFound = errors.New("document not found")
	ErrFileNotFound     = errors.New("stored file not found")
)
