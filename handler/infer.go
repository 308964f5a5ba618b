package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/model"
	"github.com/TIANLI0/MaskKit/service"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FormField 上传图片使用的表单字段名
const FormField = "file"

type InferHandler struct {
	cfg            *config.UploadConfig
	segmentService *service.SegmentService
}

func NewInferHandler(cfg *config.UploadConfig, segment *service.SegmentService) *InferHandler {
	return &InferHandler{
		cfg:            cfg,
		segmentService: segment,
	}
}

// Infer 对上传图片做实例分割，返回每个实例的边界多边形
func (h *InferHandler) Infer(c *gin.Context) {
	file, err := c.FormFile(FormField)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "No file provided"})
		return
	}

	// 验证文件大小
	if h.cfg.MaxSize > 0 && file.Size > h.cfg.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:  "File too large",
			Detail: fmt.Sprintf("limit is %d bytes", h.cfg.MaxSize),
		})
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:  "Unsupported file type",
			Detail: contentType,
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to read upload", err)
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to read upload", err)
		return
	}

	utils.Logger.Debug("file uploaded",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size))

	result, err := h.segmentService.Process(c.Request.Context(), data)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, service.ErrInvalidImage):
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid image file"})
	case errors.Is(err, service.ErrQueueFull):
		h.fail(c, http.StatusServiceUnavailable, "Service busy", err)
	default:
		h.fail(c, http.StatusInternalServerError, "Inference failed", err)
	}
}

func (h *InferHandler) fail(c *gin.Context, status int, message string, err error) {
	_ = c.Error(err)
	utils.Logger.Error(message, zap.Error(err))
	c.JSON(status, model.ErrorResponse{
		Error:  message,
		Detail: err.Error(),
	})
}

// isAllowedType 未配置类型白名单时全部放行
func (h *InferHandler) isAllowedType(contentType string) bool {
	if len(h.cfg.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
