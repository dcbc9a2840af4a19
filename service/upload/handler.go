package upload

import (
	"bytes"
	"io"
	"net/http"

	"consultchat/logger"
	"consultchat/middleware"
	"consultchat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultMaxBytes = 25 << 20

type Handler struct {
	Store       BlobStore
	MaxBytes    int64
	MaxImageDim int
}

type uploadResp struct {
	URL string `json:"url"`
}

// Upload POST /upload/file，multipart 字段 file
func (h *Handler) Upload(c *gin.Context) {
	limit := h.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20) // multipart 头留余量

	fh, err := c.FormFile("file")
	if err != nil {
		middleware.Fail(c, errs.ErrBadRequest.WrapMsg("file required", "cause", err.Error()))
		return
	}
	if fh.Size > limit {
		middleware.Fail(c, errs.ErrBadRequest.WrapMsg("file too large", "max", limit))
		return
	}
	f, err := fh.Open()
	if err != nil {
		middleware.Fail(c, errs.ErrBadRequest.WrapMsg("open upload", "cause", err.Error()))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		middleware.Fail(c, errs.IO(err, "read upload"))
		return
	}
	if int64(len(data)) > limit {
		middleware.Fail(c, errs.ErrBadRequest.WrapMsg("file too large", "max", limit))
		return
	}

	blob := Normalize(data, h.MaxImageDim)
	name := uuid.NewString() + "-" + SanitizeName(fh.Filename, blob.Ext)
	url, err := h.Store.Put(c.Request.Context(), name, blob.ContentType, bytes.NewReader(blob.Data))
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	logger.Info("upload stored", zap.String("name", name), zap.String("type", blob.ContentType), zap.Int("bytes", len(blob.Data)))
	middleware.OK(c, uploadResp{URL: url})
}
