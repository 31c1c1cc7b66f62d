// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"chat-pdf-go/internal/model"
	"chat-pdf-go/internal/pipeline"
	"chat-pdf-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 上传接口的固定错误信息
const (
	MsgEmbedFailed   = "Failed to process the PDF files."
	MsgUploadTooLong = "Uploaded files are too large."
)

// EmbedHandler 负责处理 PDF 上传与入库请求。
type EmbedHandler struct {
	ingestor       pipeline.Ingestor
	maxUploadBytes int64
}

// NewEmbedHandler 创建一个新的 EmbedHandler 实例。maxUploadMB 不大于 0 时不限制请求体大小。
func NewEmbedHandler(ingestor pipeline.Ingestor, maxUploadMB int64) *EmbedHandler {
	return &EmbedHandler{ingestor: ingestor, maxUploadBytes: maxUploadMB << 20}
}

// Embed 处理 multipart 上传，字段 file 可以重复出现。
func (h *EmbedHandler) Embed(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warnf("[EmbedHandler] 上传内容超过限制: %d 字节", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": MsgUploadTooLong})
			return
		}
		log.Warnf("[EmbedHandler] 解析 multipart 表单失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": pipeline.MsgNoFiles})
		return
	}

	headers := form.File["file"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": pipeline.MsgNoFiles})
		return
	}

	docs := make([]model.Document, 0, len(headers))
	for _, fh := range headers {
		content, err := readFormFile(fh)
		if err != nil {
			respondError(c, "EmbedHandler", fmt.Errorf("read upload %s: %w", fh.Filename, err), MsgEmbedFailed)
			return
		}
		docs = append(docs, model.Document{Name: fh.Filename, Content: content})
	}
	log.Infof("[EmbedHandler] 收到 %d 个文件", len(docs))

	res, err := h.ingestor.Ingest(c.Request.Context(), docs)
	if err != nil {
		respondError(c, "EmbedHandler", err, MsgEmbedFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results":     "success",
		"embeddings":  res.Embeddings,
		"vectorCount": res.VectorCount,
		"files":       res.Files,
	})
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
