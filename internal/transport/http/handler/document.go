package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fiqh-rag/internal/app"
	"fiqh-rag/internal/transport/http/response"
)

const uploadField = "files"

type DocumentHandler struct {
	documents DocumentService
}

func NewDocumentHandler(documents DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Upload takes every part named "files". The status is 200 when all files
// were indexed, 207 for a mixed batch and 400 when none was stored.
func (h *DocumentHandler) Upload(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "multipart form expected")
		return
	}
	headers := form.File[uploadField]
	files := make([]app.UploadFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, uploadFile(fh))
	}

	res, err := h.documents.Upload(c.Request.Context(), userUID, c.Param("cid"), files)
	if err != nil {
		writeError(c, err, "upload failed")
		return
	}

	switch status := res.Status(); status {
	case http.StatusOK:
		response.OK(c, res)
	case http.StatusBadRequest:
		response.JSON(c, status, response.CodeUploadFailed, "no document could be processed", res)
	default:
		response.JSON(c, status, response.CodeOK, res.Message, res)
	}
}

func uploadFile(fh *multipart.FileHeader) app.UploadFile {
	return app.UploadFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func (h *DocumentHandler) List(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	docs, err := h.documents.ListDocuments(c.Request.Context(), userUID, c.Param("cid"))
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) ListActive(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	docs, err := h.documents.ListActiveDocuments(c.Request.Context(), userUID, c.Param("cid"))
	if err != nil {
		writeError(c, err, "list active documents failed")
		return
	}
	response.OK(c, gin.H{"active_documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) ToggleActive(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	active, err := strconv.ParseBool(c.Query("is_active"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "is_active must be true or false")
		return
	}

	doc, err := h.documents.SetActive(c.Request.Context(), userUID, c.Param("cid"), c.Param("did"), active)
	if err != nil {
		writeError(c, err, "toggle document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	did := c.Param("did")
	if err := h.documents.DeleteDocument(c.Request.Context(), userUID, c.Param("cid"), did); err != nil {
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_uid": did})
}

func (h *DocumentHandler) Download(c *gin.Context) {
	userUID, ok := requireUser(c)
	if !ok {
		return
	}

	doc, path, err := h.documents.Download(c.Request.Context(), userUID, c.Param("cid"), c.Param("did"))
	if err != nil {
		writeError(c, err, "download failed")
		return
	}
	if doc.MimeType != "" {
		c.Header("Content-Type", doc.MimeType)
	}
	c.FileAttachment(path, doc.Filename)
}
